package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/richjun-project/vibescan/internal/database/models"
	"github.com/richjun-project/vibescan/pkg/token"
	"gorm.io/gorm"
)

// Lifecycle owns the scan state machine:
//
//	pending -> running -> {completed, failed}
//
// Transitions are conditional single-row UPDATEs keyed on the current
// status, so a racing caller loses cleanly instead of corrupting the
// record. Every transition publishes an event for subscribed clients.
type Lifecycle struct {
	db        *gorm.DB
	publisher Publisher
	logger    *slog.Logger
}

func NewLifecycle(db *gorm.DB, publisher Publisher, logger *slog.Logger) *Lifecycle {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Lifecycle{db: db, publisher: publisher, logger: logger}
}

// Create inserts a pending scan for (owner, domain). At most one scan
// per pair may be active; a second submission is rejected with
// ErrDuplicateActiveScan. The pre-count answers the common case; the
// partial unique index on active scans is what holds when two submits
// race, surfacing as a duplicate-key error on the insert.
func (lc *Lifecycle) Create(ctx context.Context, ownerID uuid.UUID, domain string, isPaid bool) (*models.Scan, error) {
	shareToken, err := token.NewShareToken()
	if err != nil {
		return nil, err
	}

	scan := models.Scan{
		OwnerID:    ownerID,
		Domain:     domain,
		Status:     models.ScanStatusPending,
		IsPaid:     isPaid,
		ShareToken: shareToken,
	}

	err = lc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&models.Scan{}).
			Where("owner_id = ? AND domain = ? AND status IN ?",
				ownerID, domain,
				[]models.ScanStatus{models.ScanStatusPending, models.ScanStatusRunning}).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return ErrDuplicateActiveScan
		}
		return tx.Create(&scan).Error
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateActiveScan) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateActiveScan
		}
		return nil, fmt.Errorf("creating scan: %w", err)
	}

	return &scan, nil
}

// Start moves a pending scan to running.
func (lc *Lifecycle) Start(ctx context.Context, scanID uuid.UUID) error {
	now := time.Now()
	result := lc.db.WithContext(ctx).
		Model(&models.Scan{}).
		Where("id = ? AND status = ?", scanID, models.ScanStatusPending).
		Updates(map[string]interface{}{
			"status":           models.ScanStatusRunning,
			"started_at":       now.Unix(),
			"last_progress_at": now.Unix(),
			"updated_at":       now,
		})
	if result.Error != nil {
		return fmt.Errorf("starting scan: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return lc.classify(ctx, scanID, nil)
	}

	lc.publish(ctx, Event{
		Type:      EventProgress,
		ScanID:    scanID,
		Status:    models.ScanStatusRunning,
		Progress:  0,
		Message:   "scan started",
		Timestamp: now.Unix(),
	})
	return nil
}

// ReportProgress records a progress update for a running scan. Percent
// must be within [last reported, 100]; decreasing updates from a
// re-ordered worker message are rejected with ErrStaleProgress.
func (lc *Lifecycle) ReportProgress(ctx context.Context, scanID uuid.UUID, percent int, message string) error {
	if percent < 0 || percent > 100 {
		return ErrStaleProgress
	}

	now := time.Now()
	result := lc.db.WithContext(ctx).
		Model(&models.Scan{}).
		Where("id = ? AND status = ? AND progress <= ?",
			scanID, models.ScanStatusRunning, percent).
		Updates(map[string]interface{}{
			"progress":         percent,
			"progress_message": message,
			"last_progress_at": now.Unix(),
			"updated_at":       now,
		})
	if result.Error != nil {
		return fmt.Errorf("reporting progress: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return lc.classify(ctx, scanID, func(s *models.Scan) error {
			if s.Status == models.ScanStatusRunning {
				return ErrStaleProgress
			}
			return ErrInvalidTransition
		})
	}

	lc.publish(ctx, Event{
		Type:      EventProgress,
		ScanID:    scanID,
		Status:    models.ScanStatusRunning,
		Progress:  percent,
		Message:   message,
		Timestamp: now.Unix(),
	})
	return nil
}

// Complete moves a running scan to completed, persisting grade, score,
// the JSON report and the vulnerability rows in one transaction. A
// reader can never observe status=completed without the report.
func (lc *Lifecycle) Complete(ctx context.Context, scanID uuid.UUID, result *Result) error {
	var scanRow models.Scan
	if err := lc.db.WithContext(ctx).First(&scanRow, "id = ?", scanID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrScanNotFound
		}
		return fmt.Errorf("loading scan: %w", err)
	}

	now := time.Now()
	report := Report{
		Domain:      scanRow.Domain,
		Score:       result.Score,
		Grade:       result.Grade,
		Summary:     result.Summary,
		Findings:    result.Findings,
		CompletedAt: now,
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	score := result.Score
	err = lc.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Scan{}).
			Where("id = ? AND status = ?", scanID, models.ScanStatusRunning).
			Updates(map[string]interface{}{
				"status":           models.ScanStatusCompleted,
				"progress":         100,
				"progress_message": "scan completed",
				"grade":            result.Grade,
				"score":            score,
				"json_report":      string(reportJSON),
				"completed_at":     now.Unix(),
				"updated_at":       now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrInvalidTransition
		}

		if len(result.Findings) == 0 {
			return nil
		}
		vulns := make([]models.Vulnerability, len(result.Findings))
		for i, f := range result.Findings {
			vulns[i] = models.Vulnerability{
				ScanID:      scanID,
				Title:       f.Title,
				Description: f.Description,
				Severity:    f.Severity,
				Category:    f.Category,
				CVEID:       f.CVEID,
				Evidence:    f.Evidence,
			}
		}
		return tx.CreateInBatches(vulns, 100).Error
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return lc.classify(ctx, scanID, nil)
		}
		return fmt.Errorf("completing scan: %w", err)
	}

	lc.publish(ctx, Event{
		Type:      EventCompleted,
		ScanID:    scanID,
		Status:    models.ScanStatusCompleted,
		Progress:  100,
		Grade:     result.Grade,
		Score:     &score,
		Timestamp: now.Unix(),
	})
	return nil
}

// Fail moves a pending or running scan to failed. The reason is kept
// for diagnostics; no retry is attempted and quota is not refunded.
func (lc *Lifecycle) Fail(ctx context.Context, scanID uuid.UUID, reason string) error {
	now := time.Now()
	result := lc.db.WithContext(ctx).
		Model(&models.Scan{}).
		Where("id = ? AND status IN ?", scanID,
			[]models.ScanStatus{models.ScanStatusPending, models.ScanStatusRunning}).
		Updates(map[string]interface{}{
			"status":       models.ScanStatusFailed,
			"error":        reason,
			"completed_at": now.Unix(),
			"updated_at":   now,
		})
	if result.Error != nil {
		return fmt.Errorf("failing scan: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return lc.classify(ctx, scanID, nil)
	}

	lc.publish(ctx, Event{
		Type:      EventFailed,
		ScanID:    scanID,
		Status:    models.ScanStatusFailed,
		Error:     reason,
		Timestamp: now.Unix(),
	})
	return nil
}

// classify turns a zero-row conditional update into a typed error by
// re-reading the row. The optional refine hook distinguishes near
// misses (e.g. stale progress on a still-running scan).
func (lc *Lifecycle) classify(ctx context.Context, scanID uuid.UUID, refine func(*models.Scan) error) error {
	var s models.Scan
	if err := lc.db.WithContext(ctx).First(&s, "id = ?", scanID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrScanNotFound
		}
		return fmt.Errorf("classifying transition failure: %w", err)
	}
	if refine != nil {
		return refine(&s)
	}
	return ErrInvalidTransition
}

func (lc *Lifecycle) publish(ctx context.Context, evt Event) {
	if err := lc.publisher.Publish(ctx, evt); err != nil {
		lc.logger.Warn("failed to publish scan event",
			"scan_id", evt.ScanID,
			"type", evt.Type,
			"error", err,
		)
	}
}
