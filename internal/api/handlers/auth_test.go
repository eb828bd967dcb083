package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Togather-Foundation/retriever/internal/auth"
	"github.com/Togather-Foundation/retriever/internal/domain/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, username, password string) (*users.User, error) {
	args := m.Called(ctx, username, password)
	if u, ok := args.Get(0).(*users.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func newLoginHandler(t *testing.T) (*AuthHandler, *MockAuthenticator, *auth.JWTManager) {
	t.Helper()
	manager, err := auth.NewJWTManager("test-secret-with-enough-entropy", time.Hour, auth.PurposeAPI)
	require.NoError(t, err)
	authenticator := new(MockAuthenticator)
	return NewAuthHandler(authenticator, manager, "test"), authenticator, manager
}

func TestLogin_Success(t *testing.T) {
	handler, authenticator, manager := newLoginHandler(t)
	authenticator.On("Authenticate", mock.Anything, "alice", "correct horse").
		Return(&users.User{ID: "u1", Username: "alice", Email: "alice@example.com", Role: "admin"}, nil)

	rec := httptest.NewRecorder()
	handler.Login(rec, jsonRequest(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Username: "alice", Password: "correct horse"}))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp loginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "alice", resp.User.Username)
	assert.Equal(t, "admin", resp.User.Role)
	_, err := time.Parse(time.RFC3339, resp.ExpiresAt)
	assert.NoError(t, err)

	claims, err := manager.Validate(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "admin", claims.Role)
	authenticator.AssertExpectations(t)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	handler, authenticator, _ := newLoginHandler(t)
	authenticator.On("Authenticate", mock.Anything, "alice", "wrong").Return(nil, users.ErrInvalidLogin)

	rec := httptest.NewRecorder()
	handler.Login(rec, jsonRequest(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Username: "alice", Password: "wrong"}))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	p := decodeProblem(t, rec)
	assert.Equal(t, "Invalid credentials", p.Title)
}

func TestLogin_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body any
		want int
	}{
		{name: "missing password", body: loginRequest{Username: "alice"}, want: http.StatusBadRequest},
		{name: "malformed json", body: `{"username":`, want: http.StatusBadRequest},
		{name: "unknown field", body: `{"username":"a","password":"b","remember":true}`, want: http.StatusBadRequest},
		{name: "empty body", body: nil, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, authenticator, _ := newLoginHandler(t)
			rec := httptest.NewRecorder()
			handler.Login(rec, jsonRequest(t, http.MethodPost, "/api/v1/auth/login", tt.body))
			assert.Equal(t, tt.want, rec.Code)
			authenticator.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestLogin_BackendError(t *testing.T) {
	handler, authenticator, _ := newLoginHandler(t)
	authenticator.On("Authenticate", mock.Anything, "alice", "pw").Return(nil, errors.New("db down"))

	rec := httptest.NewRecorder()
	handler.Login(rec, jsonRequest(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Username: "alice", Password: "pw"}))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestLogin_NotConfigured(t *testing.T) {
	var handler *AuthHandler
	rec := httptest.NewRecorder()
	handler.Login(rec, jsonRequest(t, http.MethodPost, "/api/v1/auth/login", loginRequest{Username: "a", Password: "b"}))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
