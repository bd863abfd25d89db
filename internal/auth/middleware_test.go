package auth

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
)

type MockSessionChecker struct {
	IsActiveFunc func(ctx context.Context, sessionID string) (bool, error)
}

func (m *MockSessionChecker) IsActive(ctx context.Context, sessionID string) (bool, error) {
	if m.IsActiveFunc != nil {
		return m.IsActiveFunc(ctx, sessionID)
	}
	return true, nil
}

func runRequireSession(t *testing.T, checker SessionChecker, cfg SessionCheckConfig, header string) (*httptest.ResponseRecorder, bool) {
	t.Helper()

	tm := NewTokenManager(testSecret, time.Minute)
	called := false
	handler := RequireSession(tm, checker, cfg, slog.Default())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		claims := GetUserFromContext(r)
		require.NotNil(t, claims)
		assert.Equal(t, "session-1", claims.SessionID())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/sessions", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w, called
}

func bearer(t *testing.T) string {
	t.Helper()
	token, _, err := NewTokenManager(testSecret, time.Minute).GenerateAccessToken("user-1", "user@example.com", "session-1")
	require.NoError(t, err)
	return "Bearer " + token
}

func TestRequireSession_ActiveSession(t *testing.T) {
	w, called := runRequireSession(t, &MockSessionChecker{}, SessionCheckConfig{}, bearer(t))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}

func TestRequireSession_DisplacedSession(t *testing.T) {
	checker := &MockSessionChecker{
		IsActiveFunc: func(ctx context.Context, sessionID string) (bool, error) {
			return false, nil
		},
	}

	w, called := runRequireSession(t, checker, SessionCheckConfig{}, bearer(t))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.False(t, called)
}

func TestRequireSession_RegistryErrors(t *testing.T) {
	checker := &MockSessionChecker{
		IsActiveFunc: func(ctx context.Context, sessionID string) (bool, error) {
			return false, errors.New("redis down")
		},
	}

	w, called := runRequireSession(t, checker, SessionCheckConfig{FailClosed: true}, bearer(t))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, called)

	w, called = runRequireSession(t, checker, SessionCheckConfig{FailClosed: false}, bearer(t))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}

func TestRequireSession_BadHeaders(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not-a-jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, called := runRequireSession(t, &MockSessionChecker{}, SessionCheckConfig{}, tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.False(t, called)
		})
	}
}
