package syncer

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"taskflow/domain"
)

var errNotificationsLost = errors.New("change notification channel closed")

// Event is one delivery of a subscription: either a full snapshot or an error.
type Event struct {
	Tasks []domain.Task
	Err   error
}

// Subscription is a live stream of snapshots for one owner.
type Subscription struct {
	events <-chan Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Events returns the delivery channel. It closes after Close.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close stops the producer and waits for it to exit. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(s.cancel)
	<-s.done
}

// Stream opens a snapshot stream for ownerID. An empty ownerID follows every task.
// The first snapshot is always delivered; later ones only when the result set changed.
// Failures are delivered as *domain.RemoteSubscriptionError and the stream keeps running.
func (a *Adapter) Stream(ctx context.Context, ownerID string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan Event)
	sub := &Subscription{events: events, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		defer close(events)
		a.produce(ctx, ownerID, events)
	}()
	return sub
}

// Subscribe is the callback form of Stream. Callbacks run on a single goroutine
// and must not call the returned unsubscribe function themselves.
func (a *Adapter) Subscribe(ctx context.Context, ownerID string, onSnapshot func([]domain.Task), onError func(error)) (unsubscribe func()) {
	sub := a.Stream(ctx, ownerID)
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		for ev := range sub.Events() {
			if ev.Err != nil {
				if onError != nil {
					onError(ev.Err)
				}
				continue
			}
			onSnapshot(ev.Tasks)
		}
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			sub.Close()
			<-pumped
		})
	}
}

func (a *Adapter) produce(ctx context.Context, ownerID string, out chan<- Event) {
	logger := a.logger.WithField("owner", ownerID)
	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) bool {
		logger.WithError(err).Error("task subscription error")
		return emit(Event{Err: &domain.RemoteSubscriptionError{OwnerID: ownerID, Err: err}})
	}

	var (
		last      []domain.Task
		delivered bool
	)
	refresh := func() bool {
		tasks, err := a.docs.ListTasks(ctx, ownerID)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			a.snapshots.WithLabelValues("error").Inc()
			return fail(err)
		}
		if delivered && reflect.DeepEqual(tasks, last) {
			a.snapshots.WithLabelValues("unchanged").Inc()
			return true
		}
		last, delivered = tasks, true
		a.snapshots.WithLabelValues("delivered").Inc()
		logger.WithField("tasks", len(tasks)).Debug("delivering task snapshot")
		return emit(Event{Tasks: tasks})
	}

	var (
		changes   <-chan domain.Change
		reconnect <-chan time.Time
	)
	listen := func() bool {
		if a.notifier == nil {
			return true
		}
		ch, err := a.notifier.Listen(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			reconnect = time.After(a.reconnectDelay)
			return fail(err)
		}
		changes, reconnect = ch, nil
		return true
	}

	// Listen before the first fetch so no write between the two goes unnoticed.
	if !listen() || !refresh() {
		return
	}
	ticker := time.NewTicker(a.resyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !refresh() {
				return
			}
		case ch, ok := <-changes:
			if !ok {
				changes = nil
				if ctx.Err() != nil {
					return
				}
				reconnect = time.After(a.reconnectDelay)
				if !fail(errNotificationsLost) {
					return
				}
				continue
			}
			if !relevant(ownerID, ch) {
				continue
			}
			if !refresh() {
				return
			}
		case <-reconnect:
			reconnect = nil
			if !listen() {
				return
			}
			if changes != nil && !refresh() {
				return
			}
		}
	}
}

// relevant reports whether a change may affect the snapshot of ownerID.
// Only a change known to belong to another owner is ignored.
func relevant(ownerID string, ch domain.Change) bool {
	return ownerID == "" || ch.OwnerID == "" || ch.OwnerID == ownerID
}
