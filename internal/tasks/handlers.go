package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/richjun-project/vibescan/internal/engine"
	"github.com/richjun-project/vibescan/internal/scan"
)

// Handler executes queued scan jobs and the periodic watchdog sweep.
// It is the only caller of the per-scan transition methods for jobs it
// owns; the lifecycle's conditional updates reject anything else.
type Handler struct {
	lifecycle *scan.Lifecycle
	watchdog  *scan.Watchdog
	engine    engine.Engine
	logger    *slog.Logger
}

func NewHandler(lifecycle *scan.Lifecycle, watchdog *scan.Watchdog, eng engine.Engine, logger *slog.Logger) *Handler {
	return &Handler{
		lifecycle: lifecycle,
		watchdog:  watchdog,
		engine:    eng,
		logger:    logger,
	}
}

func (h *Handler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeScanExecute, h.HandleScanExecute)
	mux.HandleFunc(TypeWatchdogTick, h.HandleWatchdogTick)
}

func (h *Handler) HandleScanExecute(ctx context.Context, t *asynq.Task) error {
	var payload ScanExecutePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	log := h.logger.With("scan_id", payload.ScanID, "domain", payload.Domain)

	if err := h.lifecycle.Start(ctx, payload.ScanID); err != nil {
		// Canceled before pickup, or the row is gone. Nothing to run.
		if errors.Is(err, scan.ErrInvalidTransition) || errors.Is(err, scan.ErrScanNotFound) {
			log.Info("skipping scan job", "reason", err)
			return nil
		}
		return err
	}

	log.Info("scan started")

	result, err := h.engine.Run(ctx, payload.Domain, func(percent int, message string) {
		if err := h.lifecycle.ReportProgress(ctx, payload.ScanID, percent, message); err != nil {
			// Stale or raced updates are dropped, not fatal.
			log.Debug("progress update rejected", "percent", percent, "error", err)
		}
	})
	if err != nil {
		log.Warn("scan failed", "error", err)
		if failErr := h.lifecycle.Fail(ctx, payload.ScanID, err.Error()); failErr != nil {
			log.Error("failed to record scan failure", "error", failErr)
		}
		// The failure is terminal by contract; do not let asynq retry.
		return nil
	}

	if err := h.lifecycle.Complete(ctx, payload.ScanID, result); err != nil {
		log.Error("failed to complete scan", "error", err)
		return nil
	}

	log.Info("scan completed", "score", result.Score, "grade", result.Grade)
	return nil
}

func (h *Handler) HandleWatchdogTick(ctx context.Context, t *asynq.Task) error {
	failed, err := h.watchdog.Sweep(ctx)
	if err != nil {
		return err
	}
	if failed > 0 {
		h.logger.Info("watchdog sweep", "failed_scans", failed)
	}
	return nil
}
