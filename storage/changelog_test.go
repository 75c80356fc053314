package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"taskflow/domain"
)

type fakeQueue struct {
	messages []string
	err      error
}

func (f *fakeQueue) EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func TestChangeLogPublish(t *testing.T) {
	q := &fakeQueue{}
	l := &ChangeLog{queue: q}
	ch := domain.Change{Type: domain.TaskUpdated, TaskID: "t1", OwnerID: "u1", Time: 42}
	if err := l.Publish(context.Background(), ch); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(q.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(q.messages))
	}
	var got domain.Change
	if err := sonic.UnmarshalString(q.messages[0], &got); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if got != ch {
		t.Fatalf("unexpected change: %+v", got)
	}
}

func TestChangeLogPublishError(t *testing.T) {
	l := &ChangeLog{queue: &fakeQueue{err: errors.New("queue down")}}
	if err := l.Publish(context.Background(), domain.Change{Type: domain.TaskDeleted, TaskID: "t1"}); err == nil {
		t.Fatalf("expected error")
	}
}
