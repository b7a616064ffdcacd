package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/richjun-project/vibescan/internal/database/models"
	"gorm.io/gorm"
)

// Watchdog fails running scans that stopped reporting progress, so a
// crashed worker cannot leave a client polling forever or a quota slot
// permanently held by a phantom active scan.
type Watchdog struct {
	db         *gorm.DB
	lifecycle  *Lifecycle
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewWatchdog(db *gorm.DB, lifecycle *Lifecycle, staleAfter time.Duration, logger *slog.Logger) *Watchdog {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &Watchdog{db: db, lifecycle: lifecycle, staleAfter: staleAfter, logger: logger}
}

// Sweep fails every running scan whose last progress update is older
// than the stale window. Quota stays consumed. Returns the number of
// scans failed.
func (w *Watchdog) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-w.staleAfter).Unix()

	var stale []models.Scan
	if err := w.db.WithContext(ctx).
		Where("status = ? AND last_progress_at < ?", models.ScanStatusRunning, cutoff).
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("finding stale scans: %w", err)
	}

	failed := 0
	for _, s := range stale {
		err := w.lifecycle.Fail(ctx, s.ID, "scan timed out")
		if err != nil {
			// Lost the race with a real terminal transition; fine.
			w.logger.Debug("stale scan already transitioned", "scan_id", s.ID, "error", err)
			continue
		}
		w.logger.Warn("watchdog failed stale scan",
			"scan_id", s.ID,
			"domain", s.Domain,
			"last_progress_at", s.LastProgressAt,
		)
		failed++
	}
	return failed, nil
}
