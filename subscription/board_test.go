package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"taskflow/board"
	"taskflow/domain"
	"taskflow/syncer"
)

type memoryDocuments struct {
	mu    sync.Mutex
	tasks []domain.Task
}

func (m *memoryDocuments) InsertTask(ctx context.Context, id string, draft domain.TaskDraft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append([]domain.Task{{ID: id, Title: draft.Title, Status: draft.Status, OwnerID: draft.OwnerID}}, m.tasks...)
	return nil
}

func (m *memoryDocuments) MergeTask(ctx context.Context, id string, patch domain.TaskPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			if patch.Status != nil {
				m.tasks[i].Status = *patch.Status
			}
			return nil
		}
	}
	return domain.ErrTaskNotFound
}

func (m *memoryDocuments) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memoryDocuments) ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Task{}
	for _, t := range m.tasks {
		if ownerID == "" || t.OwnerID == ownerID {
			out = append(out, t)
		}
	}
	return out, nil
}

func waitForState(t *testing.T, store *board.Store, cond func(board.State) bool) board.State {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		st := store.State()
		if cond(st) {
			return st
		}
		if time.Now().After(deadline) {
			t.Fatalf("state condition not met: %+v", st)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestManagerFeedsBoardStore(t *testing.T) {
	docs := &memoryDocuments{}
	adapter := syncer.New(docs, nil, syncer.WithResyncInterval(10*time.Millisecond))
	store := board.New(adapter)
	defer store.Close()
	m := newTestManager(adapter, store)

	m.Activate(context.Background(), "u1")
	waitForState(t, store, func(st board.State) bool { return !st.Loading })

	ctx := context.Background()
	if err := store.AddTask(ctx, domain.TaskDraft{Title: "one", Status: domain.StatusTodo, OwnerID: "u1"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.AddTask(ctx, domain.TaskDraft{Title: "other", Status: domain.StatusTodo, OwnerID: "u2"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	st := waitForState(t, store, func(st board.State) bool { return len(st.Tasks) == 1 })
	if st.Tasks[0].Title != "one" || st.Stats.Pending != 1 {
		t.Fatalf("unexpected state: %+v", st)
	}

	if err := store.MoveTask(ctx, st.Tasks[0].ID, domain.StatusDone); err != nil {
		t.Fatalf("move: %v", err)
	}
	waitForState(t, store, func(st board.State) bool { return st.Stats.Completed == 1 && st.Stats.Pending == 0 })

	m.Deactivate()
	if err := store.DeleteTask(ctx, st.Tasks[0].ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := store.State(); len(got.Tasks) != 1 {
		t.Fatalf("store changed after deactivate: %+v", got.Tasks)
	}
}
