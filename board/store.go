package board

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"taskflow/domain"
)

// ErrClosed is returned by commands issued after Close.
var ErrClosed = errors.New("board: store closed")

// Messages recorded in State.Error when a command fails.
const (
	MsgCreateFailed = "Failed to create task"
	MsgUpdateFailed = "Failed to update task"
	MsgMoveFailed   = "Failed to move task"
	MsgDeleteFailed = "Failed to delete task"
)

// Remote performs task writes against the shared collection.
type Remote interface {
	Create(ctx context.Context, draft domain.TaskDraft) (string, error)
	Update(ctx context.Context, id string, patch domain.TaskPatch) error
	Delete(ctx context.Context, id string) error
}

// State is a point-in-time view of the board. Tasks must be treated as read-only.
type State struct {
	Tasks         []domain.Task `json:"tasks"`
	Stats         domain.Stats  `json:"stats"`
	SearchQuery   string        `json:"searchQuery"`
	DarkMode      bool          `json:"darkMode"`
	TaskModalOpen bool          `json:"taskModalOpen"`
	Loading       bool          `json:"loading"`
	Error         string        `json:"error"`
}

// Visible returns the tasks matching the current search query.
func (s State) Visible() []domain.Task {
	return domain.FilterTasks(s.Tasks, s.SearchQuery)
}

// Columns groups the visible tasks into board columns.
func (s State) Columns() []domain.Column {
	return domain.GroupByStatus(s.Visible())
}

// Store holds the board state. The task list changes only through SetTasks;
// commands go to the remote collection and their effect arrives with the next
// snapshot.
type Store struct {
	remote     Remote
	logger     *log.Logger
	commands   *prometheus.CounterVec
	registerer prometheus.Registerer

	mu               sync.RWMutex
	state            State
	inFlight         int
	awaitingSnapshot bool
	closed           bool
	done             chan struct{}
	watchers         map[chan State]struct{}
}

type Option func(*Store)

func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRegisterer registers the command counter with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Store) {
		s.registerer = reg
	}
}

func New(remote Remote, opts ...Option) *Store {
	s := &Store{
		remote:   remote,
		logger:   log.StandardLogger(),
		commands: newCommandCounter(),
		state:    State{Tasks: []domain.Task{}},
		done:     make(chan struct{}),
		watchers: make(map[chan State]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registerer != nil {
		s.commands = registerCounter(s.registerer, s.commands, s.logger)
	}
	return s
}

// State returns a copy of the current state.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// SetTasks replaces the task list with a snapshot. Later duplicates of an id are dropped.
func (s *Store) SetTasks(tasks []domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	seen := make(map[string]struct{}, len(tasks))
	list := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		list = append(list, t)
	}
	s.state.Tasks = list
	s.state.Stats = domain.ComputeStats(list)
	s.publishLocked()
}

// SetLoading marks whether the initial snapshot of a subscription is outstanding.
func (s *Store) SetLoading(loading bool) {
	s.update(func() { s.awaitingSnapshot = loading })
}

func (s *Store) ToggleDarkMode() {
	s.update(func() { s.state.DarkMode = !s.state.DarkMode })
}

func (s *Store) SetSearchQuery(q string) {
	s.update(func() { s.state.SearchQuery = q })
}

func (s *Store) OpenTaskModal() {
	s.update(func() { s.state.TaskModalOpen = true })
}

func (s *Store) CloseTaskModal() {
	s.update(func() { s.state.TaskModalOpen = false })
}

// AddTask asks the remote collection to create a task.
func (s *Store) AddTask(ctx context.Context, draft domain.TaskDraft) error {
	return s.run(ctx, "add_task", MsgCreateFailed, true, func(ctx context.Context) error {
		_, err := s.remote.Create(ctx, draft)
		return err
	})
}

func (s *Store) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) error {
	return s.run(ctx, "update_task", MsgUpdateFailed, true, func(ctx context.Context) error {
		return s.remote.Update(ctx, id, patch)
	})
}

// MoveTask changes the status of a task. It does not raise Loading.
func (s *Store) MoveTask(ctx context.Context, id string, status domain.Status) error {
	return s.run(ctx, "move_task", MsgMoveFailed, false, func(ctx context.Context) error {
		return s.remote.Update(ctx, id, domain.StatusPatch(status))
	})
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	return s.run(ctx, "delete_task", MsgDeleteFailed, true, func(ctx context.Context) error {
		return s.remote.Delete(ctx, id)
	})
}

// Drop resolves a drag gesture and moves the task when it landed in another
// column. It reports whether a move was issued.
func (s *Store) Drop(ctx context.Context, r domain.DropResult) (bool, error) {
	cmd, ok := domain.ResolveDrop(r)
	if !ok {
		return false, nil
	}
	return true, s.MoveTask(ctx, cmd.TaskID, cmd.Status)
}

// Watch streams state changes until ctx ends or the Store closes. The current
// state is delivered first; a slow reader only sees the latest state.
func (s *Store) Watch(ctx context.Context) <-chan State {
	ch := make(chan State, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch
	}
	ch <- s.snapshotLocked()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.mu.Lock()
		if _, ok := s.watchers[ch]; ok {
			delete(s.watchers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}()
	return ch
}

// Close stops the Store. Commands still in flight return their result but no
// longer change the state.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	for ch := range s.watchers {
		delete(s.watchers, ch)
		close(ch)
	}
}

func (s *Store) run(ctx context.Context, command, failure string, gated bool, call func(context.Context) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.state.Error = ""
	if gated {
		s.inFlight++
	}
	s.publishLocked()
	s.mu.Unlock()

	obs := s.observe(ctx, command)
	err := call(obs.ctx)
	obs.finish(err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return err
	}
	if gated {
		s.inFlight--
	}
	if err != nil {
		s.state.Error = failure
		s.logger.WithError(err).WithField("command", command).Error("task command failed")
	}
	s.publishLocked()
	return err
}

func (s *Store) update(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	fn()
	s.publishLocked()
}

func (s *Store) snapshotLocked() State {
	st := s.state
	st.Tasks = slices.Clone(s.state.Tasks)
	st.Loading = s.inFlight > 0 || s.awaitingSnapshot
	return st
}

func (s *Store) publishLocked() {
	if len(s.watchers) == 0 {
		return
	}
	st := s.snapshotLocked()
	for ch := range s.watchers {
		select {
		case ch <- st:
		default:
			// Replace the unread state with the newer one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- st:
			default:
			}
		}
	}
}
