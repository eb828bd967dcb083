package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Togather-Foundation/retriever/internal/api/problem"
	"github.com/Togather-Foundation/retriever/internal/auth"
	"github.com/Togather-Foundation/retriever/internal/domain/users"
)

// Authenticator checks credentials. users.Service implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*users.User, error)
}

type AuthHandler struct {
	Users      Authenticator
	JWTManager *auth.JWTManager
	Env        string
}

func NewAuthHandler(authenticator Authenticator, jwtManager *auth.JWTManager, env string) *AuthHandler {
	return &AuthHandler{
		Users:      authenticator,
		JWTManager: jwtManager,
		Env:        env,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string   `json:"token"`
	ExpiresAt string   `json:"expires_at"`
	User      userInfo `json:"user"`
}

type userInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
}

// Login handles POST /api/v1/auth/login and returns a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Users == nil || h.JWTManager == nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", errors.New("auth handler not configured"), h.env())
		return
	}

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err, h.Env)
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Username and password are required", nil, h.Env)
		return
	}

	user, err := h.Users.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, users.ErrInvalidLogin) {
			problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Invalid credentials", nil, h.Env)
			return
		}
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	token, expiresAt, err := h.JWTManager.Generate(user.ID, user.Username, user.Role)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeServerError, "Server error", err, h.Env)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
		User: userInfo{
			ID:       user.ID,
			Username: user.Username,
			Email:    user.Email,
			Role:     user.Role,
		},
	})
}

func (h *AuthHandler) env() string {
	if h == nil {
		return ""
	}
	return h.Env
}
