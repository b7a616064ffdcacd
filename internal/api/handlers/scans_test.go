package handlers_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/richjun-project/vibescan/internal/api/dto"
	"github.com/richjun-project/vibescan/internal/api/handlers"
	"github.com/richjun-project/vibescan/internal/api/middleware"
	"github.com/richjun-project/vibescan/internal/billing"
	"github.com/richjun-project/vibescan/internal/database/models"
	"github.com/richjun-project/vibescan/internal/quota"
	"github.com/richjun-project/vibescan/internal/scan"
	"github.com/richjun-project/vibescan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue accepts every job without a broker.
type fakeQueue struct{}

func (fakeQueue) EnqueueScan(_ context.Context, scanID uuid.UUID, _ string) (string, error) {
	return "task-" + scanID.String()[:8], nil
}

func setupScanTestRouter(t *testing.T) (*chi.Mux, *testutil.TestSetup) {
	tc := testutil.NewTestContext(t)

	logger := slog.Default()
	ledger := quota.NewLedger(tc.DB, logger)
	billingSvc := billing.NewService(tc.DB, logger)
	lifecycle := scan.NewLifecycle(tc.DB, scan.NopPublisher{}, logger)
	dispatcher := scan.NewDispatcher(tc.DB, lifecycle, ledger, billingSvc, fakeQueue{}, logger)
	registry := scan.NewRegistry(tc.DB, logger)

	handler := handlers.NewScanHandler(dispatcher, registry)

	r := chi.NewRouter()
	r.Get("/api/v1/scans/public/{shareToken}", handler.GetPublic)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(tc.JWTService))
		r.Route("/api/v1/scans", func(r chi.Router) {
			r.Get("/", handler.List)
			r.Post("/", handler.Create)
			r.Get("/{id}", handler.Get)
			r.Post("/{id}/cancel", handler.Cancel)
			r.Patch("/{id}/toggle-public", handler.TogglePublic)
		})
	})

	return r, tc
}

func TestScanHandler_Create(t *testing.T) {
	router, tc := setupScanTestRouter(t)
	defer tc.Cleanup()

	tests := []struct {
		name       string
		body       map[string]interface{}
		wantStatus int
	}{
		{
			name:       "valid domain",
			body:       map[string]interface{}{"domain": "example.com"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "domain with scheme",
			body:       map[string]interface{}{"domain": "https://other.com/path"},
			wantStatus: http.StatusCreated,
		},
		{
			name:       "duplicate active domain",
			body:       map[string]interface{}{"domain": "example.com"},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "missing domain",
			body:       map[string]interface{}{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid domain",
			body:       map[string]interface{}{"domain": "not a domain"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "blocked domain",
			body:       map[string]interface{}{"domain": "vibescan.io"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "quota exhausted after third scan",
			body:       map[string]interface{}{"domain": "fourth.com"},
			wantStatus: http.StatusPaymentRequired,
		},
	}

	// Free plan: three scans. Two are consumed above; burn the third.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name == "quota exhausted after third scan" {
				req := testutil.AuthenticatedRequest(t, "POST", "/api/v1/scans",
					map[string]interface{}{"domain": "third.com"}, tc.Token)
				rec := httptest.NewRecorder()
				router.ServeHTTP(rec, req)
				testutil.AssertStatus(t, rec, http.StatusCreated)
			}

			req := testutil.AuthenticatedRequest(t, "POST", "/api/v1/scans", tt.body, tc.Token)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			testutil.AssertStatus(t, rec, tt.wantStatus)

			if tt.wantStatus == http.StatusCreated {
				var resp handlers.ScanResponse
				testutil.ParseJSONResponse(t, rec, &resp)
				assert.Equal(t, "pending", resp.Status)
				assert.NotEmpty(t, resp.ID)
				assert.NotEmpty(t, resp.ShareToken)
			}
		})
	}
}

func TestScanHandler_CreateRequiresAuth(t *testing.T) {
	router, tc := setupScanTestRouter(t)
	defer tc.Cleanup()

	req := testutil.UnauthenticatedRequest(t, "POST", "/api/v1/scans",
		map[string]interface{}{"domain": "example.com"})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	testutil.AssertStatus(t, rec, http.StatusUnauthorized)
}

func TestScanHandler_List(t *testing.T) {
	router, tc := setupScanTestRouter(t)
	defer tc.Cleanup()

	for _, domain := range []string{"a.com", "b.com", "c.com"} {
		testutil.CreateTestScan(t, tc.DB, tc.User.ID, domain, models.ScanStatusCompleted)
	}
	// Another user's scan must not appear
	other := testutil.CreateTestUser(t, tc.DB, models.PlanFree)
	testutil.CreateTestScan(t, tc.DB, other.ID, "other.com", models.ScanStatusCompleted)

	req := testutil.AuthenticatedRequest(t, "GET", "/api/v1/scans?page=1&per_page=2", nil, tc.Token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	testutil.AssertStatus(t, rec, http.StatusOK)

	var resp dto.PaginatedResponse
	testutil.ParseJSONResponse(t, rec, &resp)
	assert.EqualValues(t, 3, resp.Total)
	assert.Equal(t, 2, resp.TotalPages)
}

func TestScanHandler_Get(t *testing.T) {
	router, tc := setupScanTestRouter(t)
	defer tc.Cleanup()

	s := testutil.CreateTestScan(t, tc.DB, tc.User.ID, "example.com", models.ScanStatusCompleted)
	other := testutil.CreateTestUser(t, tc.DB, models.PlanFree)
	otherToken := testutil.GenerateTestToken(t, tc.JWTService, other)

	t.Run("owner sees scan with share token", func(t *testing.T) {
		req := testutil.AuthenticatedRequest(t, "GET", "/api/v1/scans/"+s.ID.String(), nil, tc.Token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		testutil.AssertStatus(t, rec, http.StatusOK)

		var resp handlers.ScanResponse
		testutil.ParseJSONResponse(t, rec, &resp)
		assert.Equal(t, s.ShareToken, resp.ShareToken)
	})

	t.Run("non-owner gets 403", func(t *testing.T) {
		req := testutil.AuthenticatedRequest(t, "GET", "/api/v1/scans/"+s.ID.String(), nil, otherToken)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		testutil.AssertStatus(t, rec, http.StatusForbidden)
	})

	t.Run("unknown id gets 404", func(t *testing.T) {
		req := testutil.AuthenticatedRequest(t, "GET", "/api/v1/scans/"+uuid.NewString(), nil, tc.Token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		testutil.AssertStatus(t, rec, http.StatusNotFound)
	})

	t.Run("malformed id gets 400", func(t *testing.T) {
		req := testutil.AuthenticatedRequest(t, "GET", "/api/v1/scans/not-a-uuid", nil, tc.Token)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		testutil.AssertStatus(t, rec, http.StatusBadRequest)
	})
}

func TestScanHandler_Cancel(t *testing.T) {
	router, tc := setupScanTestRouter(t)
	defer tc.Cleanup()

	running := testutil.CreateTestScan(t, tc.DB, tc.User.ID, "running.com", models.ScanStatusRunning)
	done := testutil.CreateTestScan(t, tc.DB, tc.User.ID, "done.com", models.ScanStatusCompleted)

	req := testutil.AuthenticatedRequest(t, "POST", "/api/v1/scans/"+running.ID.String()+"/cancel", nil, tc.Token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	testutil.AssertStatus(t, rec, http.StatusOK)

	var resp handlers.ScanResponse
	testutil.ParseJSONResponse(t, rec, &resp)
	assert.Equal(t, "failed", resp.Status)
	assert.Equal(t, "canceled by user", resp.Error)

	// Terminal scans cannot be canceled
	req = testutil.AuthenticatedRequest(t, "POST", "/api/v1/scans/"+done.ID.String()+"/cancel", nil, tc.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	testutil.AssertStatus(t, rec, http.StatusConflict)
}

func TestScanHandler_ShareFlow(t *testing.T) {
	router, tc := setupScanTestRouter(t)
	defer tc.Cleanup()

	s := testutil.CreateTestScan(t, tc.DB, tc.User.ID, "example.com", models.ScanStatusCompleted)

	// Private: the share URL is a 404 for everyone
	req := testutil.UnauthenticatedRequest(t, "GET", "/api/v1/scans/public/"+s.ShareToken, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	testutil.AssertStatus(t, rec, http.StatusNotFound)

	// Owner makes it public
	req = testutil.AuthenticatedRequest(t, "PATCH", "/api/v1/scans/"+s.ID.String()+"/toggle-public", nil, tc.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	testutil.AssertStatus(t, rec, http.StatusOK)

	var toggled handlers.ScanResponse
	testutil.ParseJSONResponse(t, rec, &toggled)
	require.True(t, toggled.IsPublic)

	// Anonymous access now works, without the share token echoed back
	req = testutil.UnauthenticatedRequest(t, "GET", "/api/v1/scans/public/"+s.ShareToken, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	testutil.AssertStatus(t, rec, http.StatusOK)

	var public handlers.ScanResponse
	testutil.ParseJSONResponse(t, rec, &public)
	assert.Equal(t, s.ID.String(), public.ID)
	assert.Empty(t, public.ShareToken)

	// Toggle back to private revokes the link
	req = testutil.AuthenticatedRequest(t, "PATCH", "/api/v1/scans/"+s.ID.String()+"/toggle-public", nil, tc.Token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	testutil.AssertStatus(t, rec, http.StatusOK)

	req = testutil.UnauthenticatedRequest(t, "GET", "/api/v1/scans/public/"+s.ShareToken, nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	testutil.AssertStatus(t, rec, http.StatusNotFound)
}
