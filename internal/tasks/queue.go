package tasks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/richjun-project/vibescan/internal/scan"
)

// AsynqQueue adapts an asynq client to the dispatcher's JobQueue.
type AsynqQueue struct {
	client *asynq.Client
}

var _ scan.JobQueue = (*AsynqQueue)(nil)

func NewAsynqQueue(client *asynq.Client) *AsynqQueue {
	return &AsynqQueue{client: client}
}

func (q *AsynqQueue) EnqueueScan(ctx context.Context, scanID uuid.UUID, domain string) (string, error) {
	task, err := NewScanExecuteTask(ScanExecutePayload{ScanID: scanID, Domain: domain})
	if err != nil {
		return "", fmt.Errorf("building scan task: %w", err)
	}
	info, err := q.client.EnqueueContext(ctx, task)
	if err != nil {
		return "", fmt.Errorf("enqueueing scan task: %w", err)
	}
	return info.ID, nil
}
