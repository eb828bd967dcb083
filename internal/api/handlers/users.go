package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Togather-Foundation/retriever/internal/api/middleware"
	"github.com/Togather-Foundation/retriever/internal/api/problem"
	"github.com/Togather-Foundation/retriever/internal/auth"
	"github.com/Togather-Foundation/retriever/internal/domain/users"
)

// UserService defines the user management operations the admin API needs.
type UserService interface {
	Create(ctx context.Context, params users.CreateParams, actor string) (*users.User, error)
	Get(ctx context.Context, id string) (*users.User, error)
	List(ctx context.Context) ([]users.User, error)
	Update(ctx context.Context, id string, params users.UpdateParams, actor string) (*users.User, error)
	Deactivate(ctx context.Context, id, actor string) error
	Activate(ctx context.Context, id, actor string) error
}

// AdminUsersHandler handles user management for admins.
type AdminUsersHandler struct {
	userService UserService
	env         string
}

func NewAdminUsersHandler(userService UserService, env string) *AdminUsersHandler {
	return &AdminUsersHandler{
		userService: userService,
		env:         env,
	}
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UpdateUserRequest struct {
	Email    *string `json:"email,omitempty"`
	Role     *string `json:"role,omitempty"`
	Password *string `json:"password,omitempty"`
}

// AdminUserResponse never carries the password hash.
type AdminUserResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email,omitempty"`
	Role        string     `json:"role"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

type ListUsersResponse struct {
	Items []AdminUserResponse `json:"items"`
	Total int                 `json:"total"`
}

// CreateUser handles POST /api/v1/admin/users
func (h *AdminUsersHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err, h.env)
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Username is required", nil, h.env)
		return
	}
	if req.Role != "" && !auth.ValidRole(req.Role) {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Role must be one of: super_admin, admin, user", nil, h.env)
		return
	}
	if !h.canGrant(r, req.Role) {
		problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Cannot grant a role above your own", problem.ErrForbidden, h.env)
		return
	}

	user, err := h.userService.Create(r.Context(), users.CreateParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	}, middleware.Actor(r))
	if err != nil {
		h.writeUserError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAdminUserResponse(*user))
}

// ListUsers handles GET /api/v1/admin/users
func (h *AdminUsersHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.userService.List(r.Context())
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Failed to list users", err, h.env)
		return
	}

	items := make([]AdminUserResponse, 0, len(list))
	for _, u := range list {
		items = append(items, toAdminUserResponse(u))
	}
	writeJSON(w, http.StatusOK, ListUsersResponse{Items: items, Total: len(items)})
}

// GetUser handles GET /api/v1/admin/users/{id}
func (h *AdminUsersHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "User ID is required", nil, h.env)
		return
	}

	user, err := h.userService.Get(r.Context(), id)
	if err != nil {
		h.writeUserError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdminUserResponse(*user))
}

// UpdateUser handles PUT /api/v1/admin/users/{id}
func (h *AdminUsersHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "User ID is required", nil, h.env)
		return
	}

	var req UpdateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err, h.env)
		return
	}
	if req.Role != nil {
		if !auth.ValidRole(*req.Role) {
			problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Role must be one of: super_admin, admin, user", nil, h.env)
			return
		}
		if !h.canGrant(r, *req.Role) {
			problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Cannot grant a role above your own", problem.ErrForbidden, h.env)
			return
		}
	}

	user, err := h.userService.Update(r.Context(), id, users.UpdateParams{
		Email:    req.Email,
		Role:     req.Role,
		Password: req.Password,
	}, middleware.Actor(r))
	if err != nil {
		h.writeUserError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdminUserResponse(*user))
}

// DeactivateUser handles POST /api/v1/admin/users/{id}/deactivate
func (h *AdminUsersHandler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

// ActivateUser handles POST /api/v1/admin/users/{id}/activate
func (h *AdminUsersHandler) ActivateUser(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *AdminUsersHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := pathParam(r, "id")
	if id == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "User ID is required", nil, h.env)
		return
	}

	var err error
	message := "User deactivated"
	if active {
		err = h.userService.Activate(r.Context(), id, middleware.Actor(r))
		message = "User activated"
	} else {
		err = h.userService.Deactivate(r.Context(), id, middleware.Actor(r))
	}
	if err != nil {
		h.writeUserError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: message})
}

// writeUserError shows validation messages in every environment.
func (h *AdminUsersHandler) writeUserError(w http.ResponseWriter, r *http.Request, err error) {
	status, problemType, title := mapUserError(err)
	var opts []problem.Option
	if status == http.StatusBadRequest {
		opts = append(opts, problem.WithDetail(err.Error()))
	}
	problem.Write(w, r, status, problemType, title, err, h.env, opts...)
}

// canGrant allows assigning a role only up to the caller's own rank.
func (h *AdminUsersHandler) canGrant(r *http.Request, role string) bool {
	if strings.TrimSpace(role) == "" {
		return true
	}
	claims := middleware.Claims(r)
	if claims == nil {
		return false
	}
	return auth.AtLeast(claims.Role, auth.NormalizeRole(role))
}

// mapUserError maps domain errors to HTTP status codes and problem types
func mapUserError(err error) (status int, problemType, title string) {
	switch {
	case errors.Is(err, users.ErrEmailTaken):
		return http.StatusConflict, problem.TypeConflict, "Email already taken"
	case errors.Is(err, users.ErrUsernameTaken):
		return http.StatusConflict, problem.TypeConflict, "Username already taken"
	case errors.Is(err, users.ErrLastSuperAdmin):
		return http.StatusConflict, problem.TypeConflict, "Cannot remove the last super admin"
	case errors.Is(err, users.ErrUserNotFound):
		return http.StatusNotFound, problem.TypeNotFound, "User not found"
	case errors.Is(err, users.ErrInvalidRole),
		errors.Is(err, users.ErrInvalidUsername),
		errors.Is(err, users.ErrPasswordTooShort),
		errors.Is(err, users.ErrPasswordTooLong):
		return http.StatusBadRequest, problem.TypeValidation, "Invalid user"
	default:
		return http.StatusInternalServerError, problem.TypeServerError, "Server error"
	}
}

func toAdminUserResponse(u users.User) AdminUserResponse {
	return AdminUserResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Role:        u.Role,
		IsActive:    u.Active,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}
