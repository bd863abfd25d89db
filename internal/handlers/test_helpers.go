package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BradenHooton/loginguard/internal/auth"
	"github.com/BradenHooton/loginguard/internal/models"
	"github.com/BradenHooton/loginguard/internal/services"
	pkghttp "github.com/BradenHooton/loginguard/pkg/http"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSessionContext adds session claims to the request context
func WithSessionContext(req *http.Request, userID, sessionID string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Type:   "access",
	}
	claims.ID = sessionID
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface and ThrottleResetter for testing
type MockAuthService struct {
	LoginFunc          func(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error)
	LogoutFunc         func(ctx context.Context, claims *models.TokenClaims) error
	ActiveSessionsFunc func(ctx context.Context, userID string) ([]models.SessionHandle, error)
	ResetThrottleFunc  func(ctx context.Context, sourceKey string) bool
}

func (m *MockAuthService) Login(ctx context.Context, req services.LoginRequest) (*services.LoginResult, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, req)
}

func (m *MockAuthService) Logout(ctx context.Context, claims *models.TokenClaims) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, claims)
}

func (m *MockAuthService) ActiveSessions(ctx context.Context, userID string) ([]models.SessionHandle, error) {
	if m.ActiveSessionsFunc == nil {
		return nil, nil
	}
	return m.ActiveSessionsFunc(ctx, userID)
}

func (m *MockAuthService) ResetThrottle(ctx context.Context, sourceKey string) bool {
	if m.ResetThrottleFunc == nil {
		return false
	}
	return m.ResetThrottleFunc(ctx, sourceKey)
}

// MockRiskService implements EnrollmentServiceInterface and LocationTruster for testing
type MockRiskService struct {
	EnableLocationFunc func(ctx context.Context, plainToken string) (string, error)
	TrustLocationFunc  func(ctx context.Context, userID, countryCode string) (bool, error)
}

func (m *MockRiskService) EnableLocation(ctx context.Context, plainToken string) (string, error) {
	if m.EnableLocationFunc == nil {
		return "", models.ErrTokenNotFound
	}
	return m.EnableLocationFunc(ctx, plainToken)
}

func (m *MockRiskService) TrustLocation(ctx context.Context, userID, countryCode string) (bool, error) {
	if m.TrustLocationFunc == nil {
		return true, nil
	}
	return m.TrustLocationFunc(ctx, userID, countryCode)
}
