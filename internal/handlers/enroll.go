package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/BradenHooton/loginguard/internal/models"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
)

// EnrollmentServiceInterface redeems location enrollment tokens
type EnrollmentServiceInterface interface {
	EnableLocation(ctx context.Context, plainToken string) (string, error)
}

// EnrollResponse is the localized outcome of an enrollment link
type EnrollResponse struct {
	Success bool   `json:"success"`
	Country string `json:"country,omitempty"`
	Message string `json:"message"`
}

var enrollMessages = map[string]struct{ success, invalid string }{
	"en": {
		success: "Location confirmed. You can now sign in from this location.",
		invalid: "This link is invalid or has expired.",
	},
	"de": {
		success: "Standort bestätigt. Sie können sich jetzt von diesem Standort aus anmelden.",
		invalid: "Dieser Link ist ungültig oder abgelaufen.",
	},
	"es": {
		success: "Ubicación confirmada. Ya puede iniciar sesión desde esta ubicación.",
		invalid: "Este enlace no es válido o ha caducado.",
	},
	"fr": {
		success: "Emplacement confirmé. Vous pouvez maintenant vous connecter depuis cet emplacement.",
		invalid: "Ce lien est invalide ou a expiré.",
	},
	"zh": {
		success: "位置已确认。您现在可以从此位置登录。",
		invalid: "此链接无效或已过期。",
	},
}

// EnrollHandler serves the confirmation link mailed on a location challenge
type EnrollHandler struct {
	service EnrollmentServiceInterface
}

func NewEnrollHandler(service EnrollmentServiceInterface) *EnrollHandler {
	return &EnrollHandler{service: service}
}

// Enroll handles GET /enroll?token=...&lang=..
func (h *EnrollHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	msgs := enrollMessages[requestLocale(r)]

	country, err := h.service.EnableLocation(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		if errors.Is(err, models.ErrTokenNotFound) || errors.Is(err, models.ErrTokenExpired) {
			pkghttp.WriteJSON(w, http.StatusNotFound, EnrollResponse{Message: msgs.invalid})
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, EnrollResponse{
		Success: true,
		Country: country,
		Message: msgs.success,
	})
}
