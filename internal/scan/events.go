package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/richjun-project/vibescan/internal/database/models"
)

// Event types delivered to subscribed clients.
const (
	EventProgress  = "scan-progress"
	EventCompleted = "scan-completed"
	EventFailed    = "scan-failed"
)

// EventChannel is the redis pub/sub channel carrying lifecycle events
// from workers to API instances.
const EventChannel = "vibescan:scan-events"

// Event is one lifecycle transition of a single scan. Events for a
// scan are published in state-machine order; no cross-scan ordering is
// implied.
type Event struct {
	Type      string            `json:"type"`
	ScanID    uuid.UUID         `json:"scan_id"`
	Status    models.ScanStatus `json:"status"`
	Progress  int               `json:"progress"`
	Message   string            `json:"message,omitempty"`
	Grade     models.ScanGrade  `json:"grade,omitempty"`
	Score     *int              `json:"score,omitempty"`
	Error     string            `json:"error,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// EventFromScan builds the event describing a scan's current state,
// used as the snapshot sent on subscribe.
func EventFromScan(s *models.Scan) Event {
	evt := Event{
		ScanID:    s.ID,
		Status:    s.Status,
		Progress:  s.Progress,
		Message:   s.ProgressMessage,
		Timestamp: time.Now().Unix(),
	}
	switch s.Status {
	case models.ScanStatusCompleted:
		evt.Type = EventCompleted
		evt.Progress = 100
		evt.Grade = s.Grade
		evt.Score = s.Score
	case models.ScanStatusFailed:
		evt.Type = EventFailed
		evt.Error = s.Error
	default:
		evt.Type = EventProgress
	}
	return evt
}

// Publisher delivers lifecycle events toward subscribed clients.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// RedisPublisher fans events out over redis pub/sub so every API
// instance can forward them to its websocket clients.
type RedisPublisher struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func NewRedisPublisher(rdb *redis.Client, logger *slog.Logger) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, EventChannel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// NopPublisher drops events. Used when no real-time transport is
// configured and in tests that only assert persisted state.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
