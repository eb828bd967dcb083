// Package users manages the accounts allowed to search and administer the
// retriever.
package users

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrUsernameTaken    = errors.New("username is already taken")
	ErrEmailTaken       = errors.New("email is already taken")
	ErrInvalidRole      = errors.New("invalid role")
	ErrInvalidUsername  = errors.New("username is required")
	ErrInvalidLogin     = errors.New("invalid credentials")
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrPasswordTooLong  = errors.New("password must be at most 128 characters")
	ErrLastSuperAdmin   = errors.New("cannot deactivate the last active super admin")
)

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Repository persists users. Usernames and emails are unique ignoring
// case.
type Repository interface {
	Create(ctx context.Context, u User) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	List(ctx context.Context) ([]User, error)
	Update(ctx context.Context, u User) (*User, error)
	SetActive(ctx context.Context, id string, active bool) error
	TouchLogin(ctx context.Context, id string, at time.Time) error
}
