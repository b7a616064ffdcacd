package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/richjun-project/vibescan/internal/billing"
	"github.com/richjun-project/vibescan/internal/database/models"
	"github.com/richjun-project/vibescan/internal/quota"
	"gorm.io/gorm"
)

// JobQueue hands an admitted scan to the execution workers. The asynq
// implementation lives in internal/tasks.
type JobQueue interface {
	EnqueueScan(ctx context.Context, scanID uuid.UUID, domain string) (taskID string, err error)
}

// Dispatcher is the admission path: domain validation, deny-list,
// quota reservation, duplicate-active check, enqueue. All rejections
// are synchronous; execution failures surface later through Fail.
type Dispatcher struct {
	db        *gorm.DB
	lifecycle *Lifecycle
	ledger    *quota.Ledger
	billing   *billing.Service
	queue     JobQueue
	denied    map[string]struct{}
	logger    *slog.Logger
}

// OwnHostnames are never scannable; the product must not scan itself.
var OwnHostnames = []string{
	"vibescan.io",
	"www.vibescan.io",
	"app.vibescan.io",
	"api.vibescan.io",
}

func NewDispatcher(db *gorm.DB, lifecycle *Lifecycle, ledger *quota.Ledger, billingSvc *billing.Service, queue JobQueue, logger *slog.Logger) *Dispatcher {
	denied := make(map[string]struct{}, len(OwnHostnames))
	for _, h := range OwnHostnames {
		denied[h] = struct{}{}
	}
	return &Dispatcher{
		db:        db,
		lifecycle: lifecycle,
		ledger:    ledger,
		billing:   billingSvc,
		queue:     queue,
		denied:    denied,
		logger:    logger,
	}
}

// Submit admits a scan request for (owner, domain) and enqueues it.
// The quota reservation is released if admission fails after the
// decrement; once the job is queued the consumption is permanent.
func (d *Dispatcher) Submit(ctx context.Context, ownerID uuid.UUID, rawDomain string) (*models.Scan, error) {
	domain := NormalizeDomain(rawDomain)
	if !IsValidDomain(domain) {
		return nil, ErrInvalidDomain
	}
	if _, blocked := d.denied[domain]; blocked {
		return nil, ErrBlockedDomain
	}
	if d.queue == nil {
		return nil, ErrQueueUnavailable
	}

	// Duplicate check before the quota reservation so resubmitting an
	// active domain reports the conflict, not quota exhaustion. Racing
	// submits are caught by the unique index on active scans inside
	// Create, and the loser's reservation is released below.
	var active int64
	if err := d.db.WithContext(ctx).Model(&models.Scan{}).
		Where("owner_id = ? AND domain = ? AND status IN ?",
			ownerID, domain,
			[]models.ScanStatus{models.ScanStatusPending, models.ScanStatusRunning}).
		Count(&active).Error; err != nil {
		return nil, fmt.Errorf("checking active scans: %w", err)
	}
	if active > 0 {
		return nil, ErrDuplicateActiveScan
	}

	reservation, err := d.ledger.Reserve(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	sub, err := d.billing.Subscription(ctx, ownerID)
	if err != nil {
		d.release(ctx, reservation)
		return nil, fmt.Errorf("loading subscription: %w", err)
	}

	scanRow, err := d.lifecycle.Create(ctx, ownerID, domain, billing.PaidReportUnlocked(sub))
	if err != nil {
		d.release(ctx, reservation)
		return nil, err
	}

	taskID, err := d.queue.EnqueueScan(ctx, scanRow.ID, domain)
	if err != nil {
		// Admission failed after the row was created: tear both down.
		if failErr := d.lifecycle.Fail(ctx, scanRow.ID, "failed to queue scan"); failErr != nil {
			d.logger.Error("failed to fail unqueued scan", "scan_id", scanRow.ID, "error", failErr)
		}
		d.release(ctx, reservation)
		return nil, fmt.Errorf("enqueueing scan: %w", err)
	}

	if err := d.db.WithContext(ctx).
		Model(&models.Scan{}).
		Where("id = ?", scanRow.ID).
		UpdateColumn("task_id", taskID).Error; err != nil {
		d.logger.Warn("failed to record task id", "scan_id", scanRow.ID, "error", err)
	}
	scanRow.TaskID = taskID

	if err := d.ledger.Finalize(ctx, reservation); err != nil {
		d.logger.Error("failed to finalize reservation", "scan_id", scanRow.ID, "error", err)
	}

	d.logger.Info("scan submitted",
		"scan_id", scanRow.ID,
		"owner_id", ownerID,
		"domain", domain,
		"task_id", taskID,
	)
	return scanRow, nil
}

// Cancel fails an active scan on behalf of its owner. Quota stays
// consumed once the job was handed off, preventing cancel-and-retry
// quota abuse.
func (d *Dispatcher) Cancel(ctx context.Context, scanID, ownerID uuid.UUID) (*models.Scan, error) {
	var scanRow models.Scan
	if err := d.db.WithContext(ctx).First(&scanRow, "id = ?", scanID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrScanNotFound
		}
		return nil, fmt.Errorf("loading scan: %w", err)
	}
	if scanRow.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	if !scanRow.IsActive() {
		return nil, ErrInvalidTransition
	}

	if err := d.lifecycle.Fail(ctx, scanID, "canceled by user"); err != nil {
		return nil, err
	}

	if err := d.db.WithContext(ctx).First(&scanRow, "id = ?", scanID).Error; err != nil {
		return nil, fmt.Errorf("reloading scan: %w", err)
	}
	return &scanRow, nil
}

func (d *Dispatcher) release(ctx context.Context, res *quota.Reservation) {
	if err := d.ledger.Release(ctx, res); err != nil {
		d.logger.Error("failed to release quota reservation",
			"user_id", res.UserID,
			"error", err,
		)
	}
}
