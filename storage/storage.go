package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	log "github.com/sirupsen/logrus"

	"taskflow/domain"
)

// TasksPartition is the partition every task document lives in.
const TasksPartition = "tasks"

const edmDateTime = "Edm.DateTime"
const edmDouble = "Edm.Double"

type tableAPI interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey string, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// Storage is the remote task collection backed by Azure Table Storage.
type Storage struct {
	taskTable tableAPI
	logger    log.FieldLogger
	now       func() time.Time
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable string, logger log.FieldLogger) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return newStorage(svc.NewClient(tasksTable), logger), nil
}

func newStorage(table tableAPI, logger log.FieldLogger) *Storage {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Storage{taskTable: table, logger: logger, now: time.Now}
}

type taskEntity struct {
	aztables.Entity
	Title         string    `json:"Title"`
	Description   string    `json:"Description"`
	Category      string    `json:"Category"`
	Status        string    `json:"Status"`
	Priority      string    `json:"Priority"`
	DueDate       string    `json:"DueDate"`
	OwnerID       string    `json:"OwnerID"`
	Order         float64   `json:"Order"`
	OrderType     string    `json:"Order@odata.type"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type"`
	UpdatedAt     time.Time `json:"UpdatedAt"`
	UpdatedAtType string    `json:"UpdatedAt@odata.type"`
}

// InsertTask stores a new task document under id. Both timestamps are assigned here.
func (s *Storage) InsertTask(ctx context.Context, id string, draft domain.TaskDraft) error {
	now := s.now().UTC()
	ent := taskEntity{
		Entity:        aztables.Entity{PartitionKey: TasksPartition, RowKey: id},
		Title:         draft.Title,
		Description:   draft.Description,
		Category:      draft.Category,
		Status:        string(draft.Status),
		Priority:      string(draft.Priority),
		DueDate:       draft.DueDate,
		OwnerID:       draft.OwnerID,
		Order:         draft.Order,
		OrderType:     edmDouble,
		CreatedAt:     now,
		CreatedAtType: edmDateTime,
		UpdatedAt:     now,
		UpdatedAtType: edmDateTime,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.taskTable.AddEntity(ctx, payload, nil)
	return err
}

// MergeTask merges the patch into an existing document and refreshes UpdatedAt.
// It returns domain.ErrTaskNotFound when the document does not exist.
func (s *Storage) MergeTask(ctx context.Context, id string, patch domain.TaskPatch) error {
	upd := map[string]any{
		"PartitionKey":         TasksPartition,
		"RowKey":               id,
		"UpdatedAt":            s.now().UTC(),
		"UpdatedAt@odata.type": edmDateTime,
	}
	if patch.Title != nil {
		upd["Title"] = *patch.Title
	}
	if patch.Description != nil {
		upd["Description"] = *patch.Description
	}
	if patch.Category != nil {
		upd["Category"] = *patch.Category
	}
	if patch.Status != nil {
		upd["Status"] = string(*patch.Status)
	}
	if patch.Priority != nil {
		upd["Priority"] = string(*patch.Priority)
	}
	if patch.DueDate != nil {
		upd["DueDate"] = *patch.DueDate
	}
	if patch.Order != nil {
		upd["Order"] = *patch.Order
		upd["Order@odata.type"] = edmDouble
	}
	payload, err := json.Marshal(upd)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if isNotFound(err) {
		return domain.ErrTaskNotFound
	}
	return err
}

// DeleteTask removes a task document. Deleting a missing document succeeds.
func (s *Storage) DeleteTask(ctx context.Context, id string) error {
	_, err := s.taskTable.DeleteEntity(ctx, TasksPartition, id, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// ListTasks retrieves the tasks of ownerID, or every task when ownerID is empty,
// newest first. Documents that cannot be identified are skipped.
func (s *Storage) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	filter := ownerFilter(ownerID)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			task, err := decodeTask(e)
			if err != nil {
				s.logger.WithError(err).Warn("skipping unreadable task document")
				continue
			}
			tasks = append(tasks, task)
		}
	}
	sortNewestFirst(tasks)
	return tasks, nil
}

func ownerFilter(ownerID string) string {
	filter := "PartitionKey eq '" + TasksPartition + "'"
	if ownerID != "" {
		filter += " and OwnerID eq '" + strings.ReplaceAll(ownerID, "'", "''") + "'"
	}
	return filter
}

// sortNewestFirst orders by creation time descending; tasks without a creation
// time go last and ties fall back to the id.
func sortNewestFirst(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i].CreatedAt, tasks[j].CreatedAt
		switch {
		case a == nil && b == nil:
			return tasks[i].ID < tasks[j].ID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.After(*b)
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
