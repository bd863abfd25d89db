package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/loginguard/internal/models"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
)

// ThrottleResetter clears a source key's failure counter
type ThrottleResetter interface {
	ResetThrottle(ctx context.Context, sourceKey string) bool
}

// LocationTruster trusts a country for a user without a token
type LocationTruster interface {
	TrustLocation(ctx context.Context, userID, countryCode string) (bool, error)
}

// AdminHandler exposes operational recovery actions
type AdminHandler struct {
	throttle ThrottleResetter
	trust    LocationTruster
}

func NewAdminHandler(throttle ThrottleResetter, trust LocationTruster) *AdminHandler {
	return &AdminHandler{throttle: throttle, trust: trust}
}

// TrustLocationRequest represents the request body for trusting a location
type TrustLocationRequest struct {
	UserID      string `json:"user_id" validate:"required,uuid"`
	CountryCode string `json:"country_code" validate:"required,len=2,alpha"`
}

// ResetThrottle handles DELETE /admin/throttle/{key}
func (h *AdminHandler) ResetThrottle(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		pkghttp.WriteBadRequest(w, "source key is required")
		return
	}

	cleared := h.throttle.ResetThrottle(r.Context(), key)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"source_key": key,
		"cleared":    cleared,
	})
}

// TrustLocation handles POST /admin/trusted-locations
func (h *AdminHandler) TrustLocation(w http.ResponseWriter, r *http.Request) {
	var req TrustLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	added, err := h.trust.TrustLocation(r.Context(), req.UserID, req.CountryCode)
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "unknown user or invalid country code")
			return
		}
		pkghttp.WriteInternalError(w, "Failed to trust location")
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	pkghttp.WriteJSON(w, status, map[string]interface{}{
		"user_id":      req.UserID,
		"country_code": req.CountryCode,
		"added":        added,
	})
}
