package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/richjun-project/vibescan/internal/billing"
	"github.com/richjun-project/vibescan/internal/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrQuotaExceeded = errors.New("scan quota exceeded")
)

// Reservation is a provisional quota decrement made at scan admission.
// It is confirmed with Finalize once the job is handed off, or undone
// with Release if admission failed after the decrement. The struct is
// process-local: releases only ever happen synchronously inside the
// dispatcher that reserved.
type Reservation struct {
	PeriodID uuid.UUID
	UserID   uuid.UUID

	mu        sync.Mutex
	released  bool
	finalized bool
}

// Ledger tracks per-user scan allowances by billing period. All
// mutations go through conditional single-row UPDATEs so concurrent
// reservations against the same period serialize in the database.
type Ledger struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewLedger(db *gorm.DB, logger *slog.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// Reserve atomically consumes one scan from the user's current period.
// Exactly one of N concurrent calls succeeds when one slot remains.
func (l *Ledger) Reserve(ctx context.Context, userID uuid.UUID) (*Reservation, error) {
	period, err := l.currentPeriod(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := l.db.WithContext(ctx).
		Model(&models.QuotaPeriod{}).
		Where("id = ? AND used_count < monthly_limit", period.ID).
		UpdateColumn("used_count", gorm.Expr("used_count + 1"))
	if result.Error != nil {
		return nil, fmt.Errorf("reserving quota: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrQuotaExceeded
	}

	return &Reservation{PeriodID: period.ID, UserID: userID}, nil
}

// Release restores a reservation whose job never reached the queue.
// Idempotent: repeated calls restore at most once, and a finalized
// reservation is never restored.
func (l *Ledger) Release(ctx context.Context, res *Reservation) error {
	if res == nil {
		return nil
	}
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.released || res.finalized {
		return nil
	}

	result := l.db.WithContext(ctx).
		Model(&models.QuotaPeriod{}).
		Where("id = ? AND used_count > 0", res.PeriodID).
		UpdateColumn("used_count", gorm.Expr("used_count - 1"))
	if result.Error != nil {
		return fmt.Errorf("releasing quota: %w", result.Error)
	}

	res.released = true
	return nil
}

// Finalize makes the decrement permanent. After this the scan consumes
// quota regardless of outcome; a failed scan still used an attempt.
func (l *Ledger) Finalize(ctx context.Context, res *Reservation) error {
	if res == nil {
		return nil
	}
	res.mu.Lock()
	defer res.mu.Unlock()
	if res.released {
		return errors.New("cannot finalize a released reservation")
	}
	res.finalized = true
	return nil
}

// Usage returns the user's current period row for account reporting,
// opening the period if needed.
func (l *Ledger) Usage(ctx context.Context, userID uuid.UUID) (*models.QuotaPeriod, error) {
	return l.currentPeriod(ctx, userID)
}

// Remaining returns the number of scans left in the user's current
// period, opening the period if needed.
func (l *Ledger) Remaining(ctx context.Context, userID uuid.UUID) (int, error) {
	period, err := l.currentPeriod(ctx, userID)
	if err != nil {
		return 0, err
	}
	return period.Remaining(), nil
}

// currentPeriod finds or lazily creates the quota row for the calendar
// month. The limit is snapshotted from the subscription plan at
// creation, so a mid-period upgrade applies from the next period.
func (l *Ledger) currentPeriod(ctx context.Context, userID uuid.UUID) (*models.QuotaPeriod, error) {
	start, end := periodBounds(time.Now().UTC())

	var period models.QuotaPeriod
	err := l.db.WithContext(ctx).
		Where("user_id = ? AND period_start = ?", userID, start).
		First(&period).Error
	if err == nil {
		return &period, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("loading quota period: %w", err)
	}

	var sub models.Subscription
	subPtr := &sub
	err = l.db.WithContext(ctx).Where("user_id = ?", userID).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		subPtr = nil
	} else if err != nil {
		return nil, fmt.Errorf("loading subscription: %w", err)
	}

	period = models.QuotaPeriod{
		UserID:       userID,
		PeriodStart:  start,
		PeriodEnd:    end,
		MonthlyLimit: billing.MonthlyLimit(billing.EffectivePlan(subPtr)),
	}

	// DoNothing on conflict so two concurrent first-reserves of the
	// month race safely; loser re-reads the winner's row.
	result := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&period)
	if result.Error != nil {
		return nil, fmt.Errorf("creating quota period: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if err := l.db.WithContext(ctx).
			Where("user_id = ? AND period_start = ?", userID, start).
			First(&period).Error; err != nil {
			return nil, fmt.Errorf("reloading quota period: %w", err)
		}
	}

	return &period, nil
}

func periodBounds(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
