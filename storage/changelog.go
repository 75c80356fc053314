package storage

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"taskflow/domain"
)

type queueAPI interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// ChangeLog appends change notifications to an Azure storage queue so other
// consumers can follow task writes.
type ChangeLog struct {
	queue queueAPI
}

// NewChangeLog connects to the named queue.
func NewChangeLog(connStr, queueName string) (*ChangeLog, error) {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, nil)
	if err != nil {
		return nil, err
	}
	return &ChangeLog{queue: q}, nil
}

// Publish enqueues the change as a JSON message.
func (l *ChangeLog) Publish(ctx context.Context, ch domain.Change) error {
	payload, err := sonic.MarshalString(ch)
	if err != nil {
		return err
	}
	_, err = l.queue.EnqueueMessage(ctx, payload, nil)
	return err
}
