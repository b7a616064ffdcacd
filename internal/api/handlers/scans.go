package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/richjun-project/vibescan/internal/api/dto"
	"github.com/richjun-project/vibescan/internal/api/middleware"
	"github.com/richjun-project/vibescan/internal/database/models"
	"github.com/richjun-project/vibescan/internal/quota"
	"github.com/richjun-project/vibescan/internal/scan"
)

type ScanHandler struct {
	dispatcher *scan.Dispatcher
	registry   *scan.Registry
}

func NewScanHandler(dispatcher *scan.Dispatcher, registry *scan.Registry) *ScanHandler {
	return &ScanHandler{dispatcher: dispatcher, registry: registry}
}

// CreateScanRequest represents the request to start a scan
type CreateScanRequest struct {
	Domain string `json:"domain"`
}

func (r CreateScanRequest) Validate() map[string]string {
	errors := make(map[string]string)
	if r.Domain == "" {
		errors["domain"] = "Domain is required"
	}
	return errors
}

// VulnerabilityResponse represents a finding in API responses
type VulnerabilityResponse struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Severity    string `json:"severity"`
	Category    string `json:"category,omitempty"`
	CVEID       string `json:"cve_id,omitempty"`
	Evidence    string `json:"evidence,omitempty"`
	Explanation string `json:"explanation,omitempty"`
	FixGuide    string `json:"fix_guide,omitempty"`
}

// ScanResponse represents a scan in API responses
type ScanResponse struct {
	ID              string                  `json:"id"`
	Domain          string                  `json:"domain"`
	Status          string                  `json:"status"`
	Progress        int                     `json:"progress"`
	ProgressMessage string                  `json:"progress_message,omitempty"`
	Grade           string                  `json:"grade,omitempty"`
	Score           *int                    `json:"score,omitempty"`
	IsPaid          bool                    `json:"is_paid"`
	IsPublic        bool                    `json:"is_public"`
	ShareToken      string                  `json:"share_token,omitempty"`
	StartedAt       int64                   `json:"started_at,omitempty"`
	CompletedAt     int64                   `json:"completed_at,omitempty"`
	Error           string                  `json:"error,omitempty"`
	CreatedAt       string                  `json:"created_at"`
	Vulnerabilities []VulnerabilityResponse `json:"vulnerabilities,omitempty"`
}

// scanToResponse projects a scan for its owner. The share token is
// included so the owner can hand out the public URL.
func scanToResponse(s *models.Scan) ScanResponse {
	vulns := make([]VulnerabilityResponse, len(s.Vulnerabilities))
	for i, v := range s.Vulnerabilities {
		vulns[i] = VulnerabilityResponse{
			ID:          v.ID.String(),
			Title:       v.Title,
			Description: v.Description,
			Severity:    string(v.Severity),
			Category:    v.Category,
			CVEID:       v.CVEID,
			Evidence:    v.Evidence,
			Explanation: v.Explanation,
			FixGuide:    v.FixGuide,
		}
	}

	return ScanResponse{
		ID:              s.ID.String(),
		Domain:          s.Domain,
		Status:          string(s.Status),
		Progress:        s.Progress,
		ProgressMessage: s.ProgressMessage,
		Grade:           string(s.Grade),
		Score:           s.Score,
		IsPaid:          s.IsPaid,
		IsPublic:        s.IsPublic,
		ShareToken:      s.ShareToken,
		StartedAt:       s.StartedAt,
		CompletedAt:     s.CompletedAt,
		Error:           s.Error,
		CreatedAt:       s.CreatedAt.Format(time.RFC3339),
		Vulnerabilities: vulns,
	}
}

// scanToPublicResponse strips owner-only fields for anonymous viewers.
func scanToPublicResponse(s *models.Scan) ScanResponse {
	resp := scanToResponse(s)
	resp.ShareToken = ""
	return resp
}

// Create handles POST /api/v1/scans
func (h *ScanHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req CreateScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if errors := req.Validate(); len(errors) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errors})
		return
	}

	created, err := h.dispatcher.Submit(r.Context(), userID, req.Domain)
	if err != nil {
		writeScanError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, scanToResponse(created))
}

// List handles GET /api/v1/scans
func (h *ScanHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	pagination := dto.PaginationParams{Page: page, PerPage: perPage}
	pagination.Normalize()

	result, err := h.registry.ListByOwner(r.Context(), userID, pagination.Page, pagination.PerPage)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to list scans"})
		return
	}

	response := make([]ScanResponse, len(result.Items))
	for i := range result.Items {
		response[i] = scanToResponse(&result.Items[i])
	}

	writeJSON(w, http.StatusOK, dto.PaginatedResponse{
		Data:       response,
		Total:      result.Total,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages,
	})
}

// Get handles GET /api/v1/scans/{id}
func (h *ScanHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	scanID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid scan ID"})
		return
	}

	s, err := h.registry.GetByID(r.Context(), scanID, userID)
	if err != nil {
		writeScanError(w, err)
		return
	}

	if s.OwnerID == userID {
		writeJSON(w, http.StatusOK, scanToResponse(s))
		return
	}
	writeJSON(w, http.StatusOK, scanToPublicResponse(s))
}

// Cancel handles POST /api/v1/scans/{id}/cancel
func (h *ScanHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	scanID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid scan ID"})
		return
	}

	s, err := h.dispatcher.Cancel(r.Context(), scanID, userID)
	if err != nil {
		writeScanError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, scanToResponse(s))
}

// TogglePublic handles POST /api/v1/scans/{id}/share
func (h *ScanHandler) TogglePublic(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	scanID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid scan ID"})
		return
	}

	s, err := h.registry.TogglePublic(r.Context(), scanID, userID)
	if err != nil {
		writeScanError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, scanToResponse(s))
}

// GetPublic handles GET /api/v1/scans/public/{shareToken}. No auth.
func (h *ScanHandler) GetPublic(w http.ResponseWriter, r *http.Request) {
	shareToken := chi.URLParam(r, "shareToken")
	if shareToken == "" {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Share token is required"})
		return
	}

	s, err := h.registry.GetByShareToken(r.Context(), shareToken)
	if err != nil {
		writeScanError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, scanToPublicResponse(s))
}

func writeScanError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scan.ErrInvalidDomain):
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid domain"})
	case errors.Is(err, scan.ErrBlockedDomain):
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Domain cannot be scanned"})
	case errors.Is(err, quota.ErrQuotaExceeded):
		writeJSON(w, http.StatusPaymentRequired, dto.ErrorResponse{Error: "Monthly scan quota exceeded"})
	case errors.Is(err, scan.ErrDuplicateActiveScan):
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{Error: "A scan for this domain is already in progress"})
	case errors.Is(err, scan.ErrInvalidTransition):
		writeJSON(w, http.StatusConflict, dto.ErrorResponse{Error: "Scan is not in a cancelable state"})
	case errors.Is(err, scan.ErrForbidden):
		writeJSON(w, http.StatusForbidden, dto.ErrorResponse{Error: "Access denied"})
	case errors.Is(err, scan.ErrScanNotFound):
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "Scan not found"})
	case errors.Is(err, scan.ErrQueueUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, dto.ErrorResponse{Error: "Scanning is temporarily unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Internal server error"})
	}
}
