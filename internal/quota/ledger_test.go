package quota_test

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/richjun-project/vibescan/internal/database/models"
	"github.com/richjun-project/vibescan/internal/quota"
	"github.com/richjun-project/vibescan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupLedger(t *testing.T) (*gorm.DB, *quota.Ledger) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	return db, quota.NewLedger(db, slog.Default())
}

func usedCount(t *testing.T, db *gorm.DB, periodID interface{}) int {
	t.Helper()
	var period models.QuotaPeriod
	require.NoError(t, db.First(&period, "id = ?", periodID).Error)
	return period.UsedCount
}

func TestLedger_ReserveUntilExhausted(t *testing.T) {
	db, ledger := setupLedger(t)
	ctx := testutil.TestContext(t)

	user := testutil.CreateTestUser(t, db, models.PlanFree)
	period := testutil.CreateTestQuotaPeriod(t, db, user.ID, 3, 0)

	for i := 0; i < 3; i++ {
		res, err := ledger.Reserve(ctx, user.ID)
		require.NoError(t, err)
		require.NoError(t, ledger.Finalize(ctx, res))
	}

	_, err := ledger.Reserve(ctx, user.ID)
	assert.ErrorIs(t, err, quota.ErrQuotaExceeded)
	assert.Equal(t, 3, usedCount(t, db, period.ID))
}

func TestLedger_ReleaseIsIdempotent(t *testing.T) {
	db, ledger := setupLedger(t)
	ctx := testutil.TestContext(t)

	user := testutil.CreateTestUser(t, db, models.PlanFree)
	period := testutil.CreateTestQuotaPeriod(t, db, user.ID, 3, 0)

	res, err := ledger.Reserve(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, usedCount(t, db, period.ID))

	require.NoError(t, ledger.Release(ctx, res))
	assert.Equal(t, 0, usedCount(t, db, period.ID))

	// Releasing again must not decrement below the real usage
	require.NoError(t, ledger.Release(ctx, res))
	assert.Equal(t, 0, usedCount(t, db, period.ID))
}

func TestLedger_FinalizedReservationCannotBeReleased(t *testing.T) {
	db, ledger := setupLedger(t)
	ctx := testutil.TestContext(t)

	user := testutil.CreateTestUser(t, db, models.PlanFree)
	period := testutil.CreateTestQuotaPeriod(t, db, user.ID, 3, 0)

	res, err := ledger.Reserve(ctx, user.ID)
	require.NoError(t, err)
	require.NoError(t, ledger.Finalize(ctx, res))

	// Release after finalize is a no-op; the attempt stays consumed
	require.NoError(t, ledger.Release(ctx, res))
	assert.Equal(t, 1, usedCount(t, db, period.ID))
}

func TestLedger_FinalizeAfterReleaseFails(t *testing.T) {
	db, ledger := setupLedger(t)
	ctx := testutil.TestContext(t)

	user := testutil.CreateTestUser(t, db, models.PlanFree)
	testutil.CreateTestQuotaPeriod(t, db, user.ID, 3, 0)

	res, err := ledger.Reserve(ctx, user.ID)
	require.NoError(t, err)
	require.NoError(t, ledger.Release(ctx, res))
	assert.Error(t, ledger.Finalize(ctx, res))
}

func TestLedger_LastSlotGoesToOneCaller(t *testing.T) {
	db, ledger := setupLedger(t)
	ctx := testutil.TestContext(t)

	user := testutil.CreateTestUser(t, db, models.PlanFree)
	period := testutil.CreateTestQuotaPeriod(t, db, user.ID, 3, 2)

	_, err := ledger.Reserve(ctx, user.ID)
	require.NoError(t, err)

	_, err = ledger.Reserve(ctx, user.ID)
	assert.ErrorIs(t, err, quota.ErrQuotaExceeded)
	assert.Equal(t, 3, usedCount(t, db, period.ID))
}

// Same property under real contention: a file-backed database lets the
// conditional update see simultaneous callers on separate connections.
func TestLedger_ConcurrentReserveLastSlot(t *testing.T) {
	db := testutil.SetupFileTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	ledger := quota.NewLedger(db, slog.Default())
	ctx := testutil.TestContext(t)

	user := testutil.CreateTestUser(t, db, models.PlanFree)
	period := testutil.CreateTestQuotaPeriod(t, db, user.ID, 1, 0)

	const callers = 4
	errs := make(chan error, callers)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < callers; i++ {
		go func() {
			start.Wait()
			_, err := ledger.Reserve(ctx, user.ID)
			errs <- err
		}()
	}
	start.Done()

	var won, exhausted int
	for i := 0; i < callers; i++ {
		err := <-errs
		switch {
		case err == nil:
			won++
		case errors.Is(err, quota.ErrQuotaExceeded):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, callers-1, exhausted)
	assert.Equal(t, 1, usedCount(t, db, period.ID))
}

func TestLedger_OpensPeriodLazilyFromPlan(t *testing.T) {
	db, ledger := setupLedger(t)
	ctx := testutil.TestContext(t)

	user := testutil.CreateTestUser(t, db, models.PlanPro)

	remaining, err := ledger.Remaining(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, remaining)

	var period models.QuotaPeriod
	require.NoError(t, db.First(&period, "user_id = ?", user.ID).Error)
	assert.Equal(t, 50, period.MonthlyLimit)
	assert.Equal(t, 0, period.UsedCount)
}

func TestLedger_UserWithoutSubscriptionGetsFreeLimit(t *testing.T) {
	db, ledger := setupLedger(t)
	ctx := testutil.TestContext(t)

	user := testutil.CreateTestUser(t, db, models.PlanFree)
	require.NoError(t, db.Where("user_id = ?", user.ID).Delete(&models.Subscription{}).Error)

	remaining, err := ledger.Remaining(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestLedger_LimitIsSnapshottedPerPeriod(t *testing.T) {
	db, ledger := setupLedger(t)
	ctx := testutil.TestContext(t)

	user := testutil.CreateTestUser(t, db, models.PlanFree)
	testutil.CreateTestQuotaPeriod(t, db, user.ID, 3, 3)

	// A mid-period upgrade does not reopen the current period
	require.NoError(t, db.Model(&models.Subscription{}).
		Where("user_id = ?", user.ID).
		Update("plan", models.PlanPro).Error)

	_, err := ledger.Reserve(ctx, user.ID)
	assert.ErrorIs(t, err, quota.ErrQuotaExceeded)
}
