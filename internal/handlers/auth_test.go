package handlers_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/loginguard/internal/handlers"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
)

func newAuthHandler(svc *handlers.MockAuthService) *handlers.AuthHandler {
	return handlers.NewAuthHandler(svc, nil, "https://app.example.com", slog.Default())
}

func TestLogin_Success(t *testing.T) {
	var got services.LoginRequest
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			got = req
			return &services.LoginResult{
				AccessToken:         "access_token_123",
				SessionID:           "session-2",
				ExpiresAt:           time.Now().Add(time.Hour),
				InvalidatedSessions: []string{"session-1"},
			}, nil
		},
	}

	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    " User@Example.com",
		Password: "password123",
	})
	req.RemoteAddr = "10.0.0.5:4321"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.5")
	req.Header.Set("User-Agent", "curl/8.4.0")
	req.Header.Set("Accept-Language", "fr-CH, fr;q=0.9, en;q=0.8")

	w := httptest.NewRecorder()
	newAuthHandler(mockAuth).Login(w, req)

	var resp services.LoginResult
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "access_token_123", resp.AccessToken)
	assert.Equal(t, []string{"session-1"}, resp.InvalidatedSessions)

	assert.Equal(t, "user@example.com", got.Email)
	assert.Equal(t, "198.51.100.7", got.SourceKey)
	assert.Equal(t, "curl/8.4.0", got.UserAgent)
	assert.Equal(t, "fr", got.Locale)
	assert.Equal(t, "https://app.example.com", got.BaseURL)
}

func TestLogin_Denials(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"bad credentials", models.ErrUnauthorized, http.StatusUnauthorized, "unauthorized"},
		{"throttled", models.ErrThrottled, http.StatusTooManyRequests, "rate_limit_exceeded"},
		{"unusual location", models.ErrUnusualLocation, http.StatusForbidden, "unusual_location"},
		{"internal", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockAuth := &handlers.MockAuthService{
				LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
					return nil, tt.err
				},
			}

			req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
				Email:    "user@example.com",
				Password: "password123",
			})
			w := httptest.NewRecorder()
			newAuthHandler(mockAuth).Login(w, req)

			handlers.AssertErrorResponse(t, w, tt.status, tt.code)
		})
	}
}

func TestLogin_InvalidBody(t *testing.T) {
	called := false
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			called = true
			return nil, nil
		},
	}

	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{Email: "not-an-email"})
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth).Login(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "bad_request")
	assert.False(t, called)
}

func TestLogout(t *testing.T) {
	var gotSession string
	mockAuth := &handlers.MockAuthService{
		LogoutFunc: func(ctx context.Context, claims *models.TokenClaims) error {
			gotSession = claims.SessionID()
			return nil
		},
	}

	req := handlers.WithSessionContext(httptest.NewRequest("POST", "/auth/logout", nil), "user-1", "session-1")
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth).Logout(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "session-1", gotSession)
}

func TestLogout_Unauthenticated(t *testing.T) {
	w := httptest.NewRecorder()
	newAuthHandler(&handlers.MockAuthService{}).Logout(w, httptest.NewRequest("POST", "/auth/logout", nil))

	handlers.AssertErrorResponse(t, w, http.StatusUnauthorized, "unauthorized")
}

func TestSessions(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	mockAuth := &handlers.MockAuthService{
		ActiveSessionsFunc: func(ctx context.Context, userID string) ([]models.SessionHandle, error) {
			return []models.SessionHandle{{UserID: userID, SessionID: "session-1", CreatedAt: created}}, nil
		},
	}

	req := handlers.WithSessionContext(httptest.NewRequest("GET", "/auth/sessions", nil), "user-1", "session-1")
	w := httptest.NewRecorder()
	newAuthHandler(mockAuth).Sessions(w, req)

	var resp handlers.SessionsResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, "session-1", resp.CurrentSessionID)
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, created, resp.Sessions[0].CreatedAt)
}

func TestLogin_EnrollmentLinkIgnoresHostHeader(t *testing.T) {
	var got services.LoginRequest
	mockAuth := &handlers.MockAuthService{
		LoginFunc: func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
			got = req
			return nil, models.ErrUnusualLocation
		},
	}

	req := handlers.NewTestRequest(t, "POST", "/auth/login", handlers.LoginRequest{
		Email:    "user@example.com",
		Password: "password123",
	})
	req.Host = "attacker.example"
	req.Header.Set("X-Forwarded-Host", "attacker.example")

	w := httptest.NewRecorder()
	newAuthHandler(mockAuth).Login(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "https://app.example.com", got.BaseURL)
}
