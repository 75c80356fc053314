package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"
)

// Provision creates the tasks table and, when named, the change queue.
// Resources that already exist are left alone.
func Provision(ctx context.Context, connStr, tasksTable, changesQueue string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	if _, err := svc.NewClient(tasksTable).CreateTable(ctx, nil); err != nil && !hasErrorCode(err, string(aztables.TableAlreadyExists)) {
		return err
	}
	log.WithField("table", tasksTable).Info("tasks table ready")

	if changesQueue == "" {
		return nil
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, changesQueue, nil)
	if err != nil {
		return err
	}
	if _, err := q.Create(ctx, nil); err != nil && !hasErrorCode(err, "QueueAlreadyExists") {
		return err
	}
	log.WithField("queue", changesQueue).Info("changes queue ready")
	return nil
}

func hasErrorCode(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
