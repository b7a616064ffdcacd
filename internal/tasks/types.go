package tasks

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task type names
const (
	TypeScanExecute  = "scan:execute"
	TypeWatchdogTick = "scan:watchdog_tick"
)

// ScanExecutePayload carries one admitted scan job to a worker.
type ScanExecutePayload struct {
	ScanID uuid.UUID `json:"scan_id"`
	Domain string    `json:"domain"`
}

func NewScanExecuteTask(payload ScanExecutePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	// Scans run to completion or failure; the lifecycle rejects a
	// replayed start, so a single delivery attempt is enough.
	return asynq.NewTask(TypeScanExecute, data, asynq.MaxRetry(0)), nil
}

// WatchdogTickPayload is empty - the sweep covers all running scans.
type WatchdogTickPayload struct{}

func NewWatchdogTickTask() *asynq.Task {
	return asynq.NewTask(TypeWatchdogTick, nil)
}
