package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Togather-Foundation/retriever/internal/domain/users"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockUserService is a mock implementation of UserService.
type MockUserService struct {
	mock.Mock
}

func (m *MockUserService) Create(ctx context.Context, params users.CreateParams, actor string) (*users.User, error) {
	args := m.Called(ctx, params, actor)
	if u, ok := args.Get(0).(*users.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserService) Get(ctx context.Context, id string) (*users.User, error) {
	args := m.Called(ctx, id)
	if u, ok := args.Get(0).(*users.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserService) List(ctx context.Context) ([]users.User, error) {
	args := m.Called(ctx)
	return args.Get(0).([]users.User), args.Error(1)
}

func (m *MockUserService) Update(ctx context.Context, id string, params users.UpdateParams, actor string) (*users.User, error) {
	args := m.Called(ctx, id, params, actor)
	if u, ok := args.Get(0).(*users.User); ok {
		return u, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUserService) Deactivate(ctx context.Context, id, actor string) error {
	return m.Called(ctx, id, actor).Error(0)
}

func (m *MockUserService) Activate(ctx context.Context, id, actor string) error {
	return m.Called(ctx, id, actor).Error(0)
}

func testUser(id, username, role string) *users.User {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &users.User{
		ID:           id,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "$2a$12$secret",
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestCreateUser_Success(t *testing.T) {
	mockService := new(MockUserService)
	handler := NewAdminUsersHandler(mockService, "test")

	mockService.On("Create", mock.Anything, mock.MatchedBy(func(p users.CreateParams) bool {
		return p.Username == "bob" && p.Email == "bob@example.com" && p.Role == "user" && p.Password == "long-enough-pw"
	}), "root").Return(testUser("u2", "bob", "user"), nil)

	req := withClaims(jsonRequest(t, http.MethodPost, "/api/v1/admin/users", CreateUserRequest{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "long-enough-pw",
		Role:     "user",
	}), "root", "admin")
	rec := httptest.NewRecorder()
	handler.CreateUser(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret", "password hash must never be serialized")

	var resp AdminUserResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "u2", resp.ID)
	assert.Equal(t, "bob", resp.Username)
	assert.True(t, resp.IsActive)
	mockService.AssertExpectations(t)
}

func TestCreateUser_RoleEscalation(t *testing.T) {
	mockService := new(MockUserService)
	handler := NewAdminUsersHandler(mockService, "test")

	req := withClaims(jsonRequest(t, http.MethodPost, "/api/v1/admin/users", CreateUserRequest{
		Username: "eve", Password: "long-enough-pw", Role: "super_admin",
	}), "root", "admin")
	rec := httptest.NewRecorder()
	handler.CreateUser(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	mockService.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateUser_ValidationAndConflicts(t *testing.T) {
	tests := []struct {
		name       string
		body       CreateUserRequest
		serviceErr error
		wantStatus int
	}{
		{name: "missing username", body: CreateUserRequest{Password: "long-enough-pw"}, wantStatus: http.StatusBadRequest},
		{name: "unknown role", body: CreateUserRequest{Username: "x", Password: "long-enough-pw", Role: "editor"}, wantStatus: http.StatusBadRequest},
		{name: "short password", body: CreateUserRequest{Username: "x", Password: "short"}, serviceErr: users.ErrPasswordTooShort, wantStatus: http.StatusBadRequest},
		{name: "username taken", body: CreateUserRequest{Username: "x", Password: "long-enough-pw"}, serviceErr: users.ErrUsernameTaken, wantStatus: http.StatusConflict},
		{name: "email taken", body: CreateUserRequest{Username: "x", Password: "long-enough-pw"}, serviceErr: users.ErrEmailTaken, wantStatus: http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockUserService)
			handler := NewAdminUsersHandler(mockService, "production")
			if tt.serviceErr != nil {
				mockService.On("Create", mock.Anything, mock.Anything, "root").Return(nil, tt.serviceErr)
			}

			rec := httptest.NewRecorder()
			handler.CreateUser(rec, withClaims(jsonRequest(t, http.MethodPost, "/api/v1/admin/users", tt.body), "root", "super_admin"))

			assert.Equal(t, tt.wantStatus, rec.Code)
			p := decodeProblem(t, rec)
			if tt.serviceErr == users.ErrPasswordTooShort {
				assert.Equal(t, users.ErrPasswordTooShort.Error(), p.Detail, "validation detail is shown even in production")
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestListUsers_Success(t *testing.T) {
	mockService := new(MockUserService)
	handler := NewAdminUsersHandler(mockService, "test")
	mockService.On("List", mock.Anything).Return([]users.User{*testUser("u1", "alice", "super_admin"), *testUser("u2", "bob", "user")}, nil)

	rec := httptest.NewRecorder()
	handler.ListUsers(rec, withClaims(httptest.NewRequest(http.MethodGet, "/api/v1/admin/users", nil), "alice", "admin"))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ListUsersResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, "alice", resp.Items[0].Username)
	assert.Equal(t, "bob", resp.Items[1].Username)
}

func TestGetUser(t *testing.T) {
	mockService := new(MockUserService)
	handler := NewAdminUsersHandler(mockService, "test")
	mockService.On("Get", mock.Anything, "u1").Return(testUser("u1", "alice", "admin"), nil)
	mockService.On("Get", mock.Anything, "missing").Return(nil, users.ErrUserNotFound)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/users/u1", nil)
	req.SetPathValue("id", "u1")
	rec := httptest.NewRecorder()
	handler.GetUser(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/admin/users/missing", nil)
	req.SetPathValue("id", "missing")
	rec = httptest.NewRecorder()
	handler.GetUser(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "User not found", decodeProblem(t, rec).Title)
}

func TestUpdateUser(t *testing.T) {
	mockService := new(MockUserService)
	handler := NewAdminUsersHandler(mockService, "test")

	role := "admin"
	mockService.On("Update", mock.Anything, "u2", mock.MatchedBy(func(p users.UpdateParams) bool {
		return p.Role != nil && *p.Role == "admin" && p.Email == nil && p.Password == nil
	}), "root").Return(testUser("u2", "bob", "admin"), nil)

	req := withClaims(jsonRequest(t, http.MethodPut, "/api/v1/admin/users/u2", UpdateUserRequest{Role: &role}), "root", "admin")
	req.SetPathValue("id", "u2")
	rec := httptest.NewRecorder()
	handler.UpdateUser(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp AdminUserResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "admin", resp.Role)
	mockService.AssertExpectations(t)
}

func TestUpdateUser_CannotPromoteAboveSelf(t *testing.T) {
	mockService := new(MockUserService)
	handler := NewAdminUsersHandler(mockService, "test")

	role := "super_admin"
	req := withClaims(jsonRequest(t, http.MethodPut, "/api/v1/admin/users/u2", UpdateUserRequest{Role: &role}), "root", "admin")
	req.SetPathValue("id", "u2")
	rec := httptest.NewRecorder()
	handler.UpdateUser(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	mockService.AssertNotCalled(t, "Update", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDeactivateAndActivateUser(t *testing.T) {
	mockService := new(MockUserService)
	handler := NewAdminUsersHandler(mockService, "test")
	mockService.On("Deactivate", mock.Anything, "u2", "root").Return(nil)
	mockService.On("Deactivate", mock.Anything, "u1", "root").Return(users.ErrLastSuperAdmin)
	mockService.On("Activate", mock.Anything, "u2", "root").Return(nil)

	call := func(fn http.HandlerFunc, id string) *httptest.ResponseRecorder {
		req := withClaims(httptest.NewRequest(http.MethodPost, "/api/v1/admin/users/"+id, nil), "root", "super_admin")
		req.SetPathValue("id", id)
		rec := httptest.NewRecorder()
		fn(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, call(handler.DeactivateUser, "u2").Code)
	assert.Equal(t, http.StatusConflict, call(handler.DeactivateUser, "u1").Code)
	assert.Equal(t, http.StatusOK, call(handler.ActivateUser, "u2").Code)
	mockService.AssertExpectations(t)
}

func TestMapUserError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{users.ErrEmailTaken, http.StatusConflict},
		{users.ErrUsernameTaken, http.StatusConflict},
		{users.ErrLastSuperAdmin, http.StatusConflict},
		{users.ErrUserNotFound, http.StatusNotFound},
		{users.ErrInvalidRole, http.StatusBadRequest},
		{users.ErrPasswordTooLong, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _, title := mapUserError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.NotEmpty(t, title)
	}
}
