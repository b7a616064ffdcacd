package tasks_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/richjun-project/vibescan/internal/database/models"
	"github.com/richjun-project/vibescan/internal/engine"
	"github.com/richjun-project/vibescan/internal/scan"
	"github.com/richjun-project/vibescan/internal/tasks"
	"github.com/richjun-project/vibescan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeEngine reports scripted progress and returns a fixed result.
type fakeEngine struct {
	progress []int
	result   *scan.Result
	err      error
}

func (e *fakeEngine) Run(_ context.Context, _ string, report engine.ProgressFunc) (*scan.Result, error) {
	for _, p := range e.progress {
		report(p, "working")
	}
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

func setupTaskHandler(t *testing.T, eng *fakeEngine) (*gorm.DB, *tasks.Handler, *models.User) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	logger := slog.Default()
	lifecycle := scan.NewLifecycle(db, scan.NopPublisher{}, logger)
	watchdog := scan.NewWatchdog(db, lifecycle, 15*time.Minute, logger)
	handler := tasks.NewHandler(lifecycle, watchdog, eng, logger)
	user := testutil.CreateTestUser(t, db, models.PlanFree)
	return db, handler, user
}

func scanExecuteTask(t *testing.T, payload tasks.ScanExecutePayload) *asynq.Task {
	t.Helper()
	task, err := tasks.NewScanExecuteTask(payload)
	require.NoError(t, err)
	return task
}

func TestHandleScanExecute_Success(t *testing.T) {
	eng := &fakeEngine{
		progress: []int{5, 40, 95},
		result: &scan.Result{
			Score: 85,
			Grade: models.GradeB,
			Findings: []scan.Finding{
				{Title: "Missing HSTS header", Severity: models.SeverityMedium, Category: "headers"},
			},
		},
	}
	db, handler, user := setupTaskHandler(t, eng)
	ctx := testutil.TestContext(t)

	s := testutil.CreateTestScan(t, db, user.ID, "example.com", models.ScanStatusPending)
	task := scanExecuteTask(t, tasks.ScanExecutePayload{ScanID: s.ID, Domain: s.Domain})

	require.NoError(t, handler.HandleScanExecute(ctx, task))

	var got models.Scan
	require.NoError(t, db.Preload("Vulnerabilities").First(&got, "id = ?", s.ID).Error)
	assert.Equal(t, models.ScanStatusCompleted, got.Status)
	assert.Equal(t, models.GradeB, got.Grade)
	require.NotNil(t, got.Score)
	assert.Equal(t, 85, *got.Score)
	assert.Len(t, got.Vulnerabilities, 1)
	assert.NotEmpty(t, got.JSONReport)
}

func TestHandleScanExecute_EngineFailureDoesNotRetry(t *testing.T) {
	eng := &fakeEngine{err: errors.New("domain did not resolve")}
	db, handler, user := setupTaskHandler(t, eng)
	ctx := testutil.TestContext(t)

	s := testutil.CreateTestScan(t, db, user.ID, "example.com", models.ScanStatusPending)
	task := scanExecuteTask(t, tasks.ScanExecutePayload{ScanID: s.ID, Domain: s.Domain})

	// A nil return keeps asynq from retrying a terminal failure
	require.NoError(t, handler.HandleScanExecute(ctx, task))

	var got models.Scan
	require.NoError(t, db.First(&got, "id = ?", s.ID).Error)
	assert.Equal(t, models.ScanStatusFailed, got.Status)
	assert.Equal(t, "domain did not resolve", got.Error)
}

func TestHandleScanExecute_SkipsCanceledScan(t *testing.T) {
	eng := &fakeEngine{result: &scan.Result{Score: 100, Grade: models.GradeA}}
	db, handler, user := setupTaskHandler(t, eng)
	ctx := testutil.TestContext(t)

	// Canceled between enqueue and pickup
	s := testutil.CreateTestScan(t, db, user.ID, "example.com", models.ScanStatusFailed)
	task := scanExecuteTask(t, tasks.ScanExecutePayload{ScanID: s.ID, Domain: s.Domain})

	require.NoError(t, handler.HandleScanExecute(ctx, task))

	var got models.Scan
	require.NoError(t, db.First(&got, "id = ?", s.ID).Error)
	assert.Equal(t, models.ScanStatusFailed, got.Status)
}

func TestHandleScanExecute_BadPayload(t *testing.T) {
	_, handler, _ := setupTaskHandler(t, &fakeEngine{})
	ctx := testutil.TestContext(t)

	task := asynq.NewTask(tasks.TypeScanExecute, []byte("not json"))
	assert.Error(t, handler.HandleScanExecute(ctx, task))
}

func TestHandleWatchdogTick(t *testing.T) {
	db, handler, user := setupTaskHandler(t, &fakeEngine{})
	ctx := testutil.TestContext(t)

	stale := testutil.CreateTestScan(t, db, user.ID, "stale.com", models.ScanStatusRunning)
	require.NoError(t, db.Model(&models.Scan{}).
		Where("id = ?", stale.ID).
		Update("last_progress_at", time.Now().Add(-time.Hour).Unix()).Error)

	require.NoError(t, handler.HandleWatchdogTick(ctx, tasks.NewWatchdogTickTask()))

	var got models.Scan
	require.NoError(t, db.First(&got, "id = ?", stale.ID).Error)
	assert.Equal(t, models.ScanStatusFailed, got.Status)
}

func TestScanExecutePayloadRoundTrip(t *testing.T) {
	payload := tasks.ScanExecutePayload{Domain: "example.com"}
	task, err := tasks.NewScanExecuteTask(payload)
	require.NoError(t, err)
	assert.Equal(t, tasks.TypeScanExecute, task.Type())

	var decoded tasks.ScanExecutePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, payload.Domain, decoded.Domain)
}
