package scan_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/richjun-project/vibescan/internal/database/models"
	"github.com/richjun-project/vibescan/internal/scan"
	"github.com/richjun-project/vibescan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchdog_FailsStaleRunningScans(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	ctx := testutil.TestContext(t)

	pub := &capturingPublisher{}
	lc := scan.NewLifecycle(db, pub, slog.Default())
	wd := scan.NewWatchdog(db, lc, 15*time.Minute, slog.Default())
	user := testutil.CreateTestUser(t, db, models.PlanFree)

	stale := testutil.CreateTestScan(t, db, user.ID, "stale.com", models.ScanStatusRunning)
	require.NoError(t, db.Model(&models.Scan{}).
		Where("id = ?", stale.ID).
		Update("last_progress_at", time.Now().Add(-30*time.Minute).Unix()).Error)

	fresh := testutil.CreateTestScan(t, db, user.ID, "fresh.com", models.ScanStatusRunning)
	pending := testutil.CreateTestScan(t, db, user.ID, "pending.com", models.ScanStatusPending)

	failed, err := wd.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	var got models.Scan
	require.NoError(t, db.First(&got, "id = ?", stale.ID).Error)
	assert.Equal(t, models.ScanStatusFailed, got.Status)
	assert.Equal(t, "scan timed out", got.Error)

	// Fresh and pending scans are untouched
	var gotFresh models.Scan
	require.NoError(t, db.First(&gotFresh, "id = ?", fresh.ID).Error)
	assert.Equal(t, models.ScanStatusRunning, gotFresh.Status)
	var gotPending models.Scan
	require.NoError(t, db.First(&gotPending, "id = ?", pending.ID).Error)
	assert.Equal(t, models.ScanStatusPending, gotPending.Status)

	// Clients watching the stale scan hear about the failure
	events := pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, scan.EventFailed, events[0].Type)
	assert.Equal(t, stale.ID, events[0].ScanID)

	// A second sweep finds nothing
	failed, err = wd.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, failed)
}

func TestWatchdog_ProgressKeepsScanAlive(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer testutil.CleanupTestDB(t, db)
	ctx := testutil.TestContext(t)

	lc := scan.NewLifecycle(db, scan.NopPublisher{}, slog.Default())
	wd := scan.NewWatchdog(db, lc, 15*time.Minute, slog.Default())
	user := testutil.CreateTestUser(t, db, models.PlanFree)

	s := testutil.CreateTestScan(t, db, user.ID, "slow.com", models.ScanStatusRunning)
	require.NoError(t, db.Model(&models.Scan{}).
		Where("id = ?", s.ID).
		Update("last_progress_at", time.Now().Add(-20*time.Minute).Unix()).Error)

	// A progress report refreshes the liveness timestamp
	require.NoError(t, lc.ReportProgress(ctx, s.ID, 50, "half way"))

	failed, err := wd.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, failed)
}
