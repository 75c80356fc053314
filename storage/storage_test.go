package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskflow/domain"
)

type fakeTable struct {
	mu       sync.Mutex
	entities map[string]map[string]any
	raw      [][]byte
	filters  []string
	updates  []*aztables.UpdateEntityOptions
	listErr  error
}

func newFakeTable() *fakeTable {
	return &fakeTable{entities: map[string]map[string]any{}}
}

func notFoundError() error {
	req := httptest.NewRequest(http.MethodPatch, "https://example.table.core.windows.net/tasks", nil)
	return &azcore.ResponseError{
		ErrorCode:   "ResourceNotFound",
		StatusCode:  http.StatusNotFound,
		RawResponse: &http.Response{StatusCode: http.StatusNotFound, Request: req},
	}
}

func (f *fakeTable) AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	var m map[string]any
	if err := json.Unmarshal(entity, &m); err != nil {
		return aztables.AddEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entities[m["RowKey"].(string)] = m
	return aztables.AddEntityResponse{}, nil
}

func (f *fakeTable) UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	var m map[string]any
	if err := json.Unmarshal(entity, &m); err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, options)
	cur, ok := f.entities[m["RowKey"].(string)]
	if !ok {
		return aztables.UpdateEntityResponse{}, notFoundError()
	}
	for k, v := range m {
		cur[k] = v
	}
	return aztables.UpdateEntityResponse{}, nil
}

func (f *fakeTable) DeleteEntity(ctx context.Context, partitionKey string, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entities[rowKey]; !ok {
		return aztables.DeleteEntityResponse{}, notFoundError()
	}
	delete(f.entities, rowKey)
	return aztables.DeleteEntityResponse{}, nil
}

func (f *fakeTable) NewListEntitiesPager(listOptions *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	f.mu.Lock()
	if listOptions != nil && listOptions.Filter != nil {
		f.filters = append(f.filters, *listOptions.Filter)
	}
	var page [][]byte
	for _, m := range f.entities {
		b, _ := json.Marshal(m)
		page = append(page, b)
	}
	page = append(page, f.raw...)
	listErr := f.listErr
	f.mu.Unlock()

	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(resp aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(ctx context.Context, _ *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			if listErr != nil {
				return aztables.ListEntitiesResponse{}, listErr
			}
			return aztables.ListEntitiesResponse{Entities: page}, nil
		},
	})
}

func newTestStorage(table *fakeTable, clock ...time.Time) *Storage {
	s := newStorage(table, nil)
	if len(clock) > 0 {
		i := 0
		s.now = func() time.Time {
			ts := clock[i]
			if i < len(clock)-1 {
				i++
			}
			return ts
		}
	}
	return s
}

func TestInsertAndListTasks(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	table := newFakeTable()
	s := newTestStorage(table, t1, t2, t2)
	ctx := context.Background()

	if err := s.InsertTask(ctx, "a", domain.TaskDraft{Title: "first", Category: "Design", Status: domain.StatusTodo, Priority: domain.PriorityLow, OwnerID: "u1"}); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := s.InsertTask(ctx, "b", domain.TaskDraft{Title: "second", Category: "QA", Status: domain.StatusDone, Priority: domain.PriorityHigh, OwnerID: "u1", Order: 3}); err != nil {
		t.Fatalf("insert b: %v", err)
	}
	if err := s.InsertTask(ctx, "c", domain.TaskDraft{Title: "third", Category: "QA", OwnerID: "u1"}); err != nil {
		t.Fatalf("insert c: %v", err)
	}

	tasks, err := s.ListTasks(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != "b" || tasks[1].ID != "c" || tasks[2].ID != "a" {
		t.Fatalf("unexpected order: %s %s %s", tasks[0].ID, tasks[1].ID, tasks[2].ID)
	}
	if tasks[0].CreatedAt == nil || !tasks[0].CreatedAt.Equal(t2) || !tasks[0].UpdatedAt.Equal(t2) {
		t.Fatalf("unexpected timestamps: %+v", tasks[0])
	}
	if tasks[0].Order != 3 || tasks[0].Status != domain.StatusDone || tasks[0].Priority != domain.PriorityHigh {
		t.Fatalf("unexpected fields: %+v", tasks[0])
	}
	if tasks[1].Status != domain.StatusTodo || tasks[1].Priority != domain.PriorityMedium {
		t.Fatalf("expected defaults for empty status and priority: %+v", tasks[1])
	}
	want := "PartitionKey eq 'tasks' and OwnerID eq 'u1'"
	if len(table.filters) != 1 || table.filters[0] != want {
		t.Fatalf("unexpected filters: %v", table.filters)
	}
}

func TestListTasksSkipsUnreadableDocuments(t *testing.T) {
	table := newFakeTable()
	table.raw = [][]byte{[]byte(`{"Title":"no key"}`), []byte(`{"RowKey":"ok"}`)}
	tasks, err := newTestStorage(table).ListTasks(context.Background(), "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "ok" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
	if table.filters[0] != "PartitionKey eq 'tasks'" {
		t.Fatalf("unexpected filter: %s", table.filters[0])
	}
}

func TestListTasksReturnsRemoteError(t *testing.T) {
	table := newFakeTable()
	table.listErr = errors.New("boom")
	if _, err := newTestStorage(table).ListTasks(context.Background(), "u1"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestListTasksEmptyIsNotNil(t *testing.T) {
	tasks, err := newTestStorage(newFakeTable()).ListTasks(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if tasks == nil || len(tasks) != 0 {
		t.Fatalf("expected empty slice, got %#v", tasks)
	}
}

func TestMergeTask(t *testing.T) {
	created := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	updated := created.Add(time.Minute)
	table := newFakeTable()
	s := newTestStorage(table, created, updated)
	ctx := context.Background()
	if err := s.InsertTask(ctx, "a", domain.TaskDraft{Title: "old", Category: "QA", Status: domain.StatusTodo, Priority: domain.PriorityLow}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	title := "new"
	if err := s.MergeTask(ctx, "a", domain.StatusPatch(domain.StatusDone)); err != nil {
		t.Fatalf("merge status: %v", err)
	}
	if err := s.MergeTask(ctx, "a", domain.TaskPatch{Title: &title}); err != nil {
		t.Fatalf("merge title: %v", err)
	}
	opts := table.updates[0]
	if opts == nil || opts.UpdateMode != aztables.UpdateModeMerge || opts.IfMatch == nil || *opts.IfMatch != azcore.ETagAny {
		t.Fatalf("unexpected update options: %+v", opts)
	}

	tasks, err := s.ListTasks(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := tasks[0]
	if got.Title != "new" || got.Status != domain.StatusDone || got.Category != "QA" || got.Priority != domain.PriorityLow {
		t.Fatalf("unexpected merged task: %+v", got)
	}
	if !got.CreatedAt.Equal(created) || !got.UpdatedAt.Equal(updated) {
		t.Fatalf("unexpected timestamps: created %v updated %v", got.CreatedAt, got.UpdatedAt)
	}
}

func TestMergeMissingTask(t *testing.T) {
	err := newTestStorage(newFakeTable()).MergeTask(context.Background(), "ghost", domain.StatusPatch(domain.StatusDone))
	if !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestDeleteTask(t *testing.T) {
	table := newFakeTable()
	s := newTestStorage(table)
	ctx := context.Background()
	if err := s.InsertTask(ctx, "a", domain.TaskDraft{Title: "x", Category: "QA"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.DeleteTask(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(table.entities) != 0 {
		t.Fatalf("expected entity removed")
	}
	if err := s.DeleteTask(ctx, "a"); err != nil {
		t.Fatalf("deleting a missing task should succeed, got %v", err)
	}
}

func TestOwnerFilterEscapesQuotes(t *testing.T) {
	got := ownerFilter("o'brien")
	want := "PartitionKey eq 'tasks' and OwnerID eq 'o''brien'"
	if got != want {
		t.Fatalf("unexpected filter: %s", got)
	}
}
