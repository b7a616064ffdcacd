package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/richjun-project/vibescan/internal/api/dto"
	"github.com/richjun-project/vibescan/internal/api/middleware"
	"github.com/richjun-project/vibescan/internal/auth"
	"github.com/richjun-project/vibescan/internal/billing"
	"github.com/richjun-project/vibescan/internal/database/models"
	"github.com/richjun-project/vibescan/internal/quota"
)

type AuthHandler struct {
	authService *auth.Service
	ledger      *quota.Ledger
}

func NewAuthHandler(authService *auth.Service, ledger *quota.Ledger) *AuthHandler {
	return &AuthHandler{authService: authService, ledger: ledger}
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if errors := req.Validate(); len(errors) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errors})
		return
	}

	resp, err := h.authService.Register(r.Context(), auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})

	if err != nil {
		switch err {
		case auth.ErrUserExists:
			writeJSON(w, http.StatusConflict, dto.ErrorResponse{Error: "User already exists"})
		default:
			writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Registration failed"})
		}
		return
	}

	setTokenCookie(w, resp.Token)
	writeJSON(w, http.StatusCreated, dto.AuthResponse{
		Token: resp.Token,
		User:  h.userToDTO(r, resp.User),
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if errors := req.Validate(); len(errors) > 0 {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "Validation failed", Details: errors})
		return
	}

	resp, err := h.authService.Login(r.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})

	if err != nil {
		switch err {
		case auth.ErrInvalidCredentials:
			writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{Error: "Invalid credentials"})
		case auth.ErrInactiveUser:
			writeJSON(w, http.StatusForbidden, dto.ErrorResponse{Error: "Account is inactive"})
		default:
			writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "Login failed"})
		}
		return
	}

	setTokenCookie(w, resp.Token)
	writeJSON(w, http.StatusOK, dto.AuthResponse{
		Token: resp.Token,
		User:  h.userToDTO(r, resp.User),
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	writeJSON(w, http.StatusOK, dto.SuccessResponse{Message: "Logged out"})
}

// Me handles GET /api/v1/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	user, err := h.authService.GetUserByID(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusNotFound, dto.ErrorResponse{Error: "User not found"})
		return
	}

	writeJSON(w, http.StatusOK, h.userToDTO(r, user))
}

func (h *AuthHandler) userToDTO(r *http.Request, user *models.User) dto.UserDTO {
	out := dto.UserDTO{
		ID:            user.ID.String(),
		Email:         user.Email,
		Name:          user.Name,
		Plan:          string(billing.EffectivePlan(user.Subscription)),
		EmailVerified: user.EmailVerified,
	}

	// Best effort: a freshly registered user may not have a quota
	// period yet, and opening one here is harmless.
	if period, err := h.ledger.Usage(r.Context(), user.ID); err == nil {
		out.ScansUsed = period.UsedCount
		out.MonthlyLimit = period.MonthlyLimit
	}

	return out
}

func setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   false, // Set to true in production with HTTPS
		SameSite: http.SameSiteLaxMode,
		MaxAge:   86400, // 24 hours
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
