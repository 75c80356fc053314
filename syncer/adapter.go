package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskflow/domain"
)

const tracerName = "taskflow/syncer"

const (
	defaultResyncInterval = 30 * time.Second
	defaultReconnectDelay = time.Second
)

// Documents is the remote task collection.
type Documents interface {
	InsertTask(ctx context.Context, id string, draft domain.TaskDraft) error
	MergeTask(ctx context.Context, id string, patch domain.TaskPatch) error
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, ownerID string) ([]domain.Task, error)
}

// Adapter translates task operations into document writes and keeps
// subscribers supplied with fresh snapshots.
type Adapter struct {
	docs           Documents
	notifier       Notifier
	changeLogs     []Publisher
	logger         log.FieldLogger
	resyncInterval time.Duration
	reconnectDelay time.Duration
	snapshots      *prometheus.CounterVec
	registerer     prometheus.Registerer
	newID          func() string
	now            func() time.Time
}

type Option func(*Adapter)

// WithResyncInterval sets how often subscriptions refetch without a notification.
func WithResyncInterval(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.resyncInterval = d
		}
	}
}

// WithReconnectDelay sets the pause before resubscribing to a lost notification channel.
func WithReconnectDelay(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.reconnectDelay = d
		}
	}
}

// WithChangeLog adds a durable destination for change notifications.
func WithChangeLog(p Publisher) Option {
	return func(a *Adapter) {
		if p != nil {
			a.changeLogs = append(a.changeLogs, p)
		}
	}
}

// WithRegisterer registers the snapshot counter with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *Adapter) {
		a.registerer = reg
	}
}

func WithLogger(l log.FieldLogger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

func New(docs Documents, notifier Notifier, opts ...Option) *Adapter {
	a := &Adapter{
		docs:           docs,
		notifier:       notifier,
		logger:         log.StandardLogger(),
		resyncInterval: defaultResyncInterval,
		reconnectDelay: defaultReconnectDelay,
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskflow_syncer_snapshots_total",
			Help: "Snapshot fetches by subscriptions, by outcome.",
		}, []string{"outcome"}),
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.registerer != nil {
		a.snapshots = registerCounter(a.registerer, a.snapshots, a.logger)
	}
	return a
}

// registerCounter registers cv with reg, reusing an identical counter that is
// already registered.
func registerCounter(reg prometheus.Registerer, cv *prometheus.CounterVec, logger log.FieldLogger) *prometheus.CounterVec {
	err := reg.Register(cv)
	if err == nil {
		return cv
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
			return existing
		}
	}
	logger.WithError(err).Warn("register metrics")
	return cv
}

// Create stores a new task and returns its generated id.
func (a *Adapter) Create(ctx context.Context, draft domain.TaskDraft) (id string, err error) {
	id = a.newID()
	ctx, span := a.startSpan(ctx, "create", id)
	defer func() { endSpan(span, err) }()

	if err := a.docs.InsertTask(ctx, id, draft); err != nil {
		return "", &domain.RemoteWriteError{Op: "create", TaskID: id, Err: err}
	}
	a.logger.WithField("task", id).Info("task created")
	a.announce(ctx, domain.Change{Type: domain.TaskCreated, TaskID: id, OwnerID: draft.OwnerID})
	return id, nil
}

// Update merges patch into the task with the given id.
func (a *Adapter) Update(ctx context.Context, id string, patch domain.TaskPatch) (err error) {
	ctx, span := a.startSpan(ctx, "update", id)
	defer func() { endSpan(span, err) }()

	if err := a.docs.MergeTask(ctx, id, patch); err != nil {
		return &domain.RemoteWriteError{Op: "update", TaskID: id, Err: err}
	}
	a.logger.WithField("task", id).Info("task updated")
	a.announce(ctx, domain.Change{Type: domain.TaskUpdated, TaskID: id})
	return nil
}

// Delete removes the task with the given id. Removing an absent task succeeds.
func (a *Adapter) Delete(ctx context.Context, id string) (err error) {
	ctx, span := a.startSpan(ctx, "delete", id)
	defer func() { endSpan(span, err) }()

	if err := a.docs.DeleteTask(ctx, id); err != nil {
		return &domain.RemoteWriteError{Op: "delete", TaskID: id, Err: err}
	}
	a.logger.WithField("task", id).Info("task deleted")
	a.announce(ctx, domain.Change{Type: domain.TaskDeleted, TaskID: id})
	return nil
}

// List fetches the current tasks of ownerID once.
func (a *Adapter) List(ctx context.Context, ownerID string) ([]domain.Task, error) {
	tasks, err := a.docs.ListTasks(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (a *Adapter) announce(ctx context.Context, ch domain.Change) {
	ch.Time = a.now().UnixMilli()
	entry := a.logger.WithField("change", ch.Type).WithField("task", ch.TaskID)
	if a.notifier != nil {
		if err := a.notifier.Publish(ctx, ch); err != nil {
			entry.WithError(err).Error("publish change notification")
		}
	}
	for _, p := range a.changeLogs {
		if err := p.Publish(ctx, ch); err != nil {
			entry.WithError(err).Error("append change log")
		}
	}
}

func (a *Adapter) startSpan(ctx context.Context, op, id string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "syncer."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("taskflow.task_id", id)),
	)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
