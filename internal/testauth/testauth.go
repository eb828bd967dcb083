// Package testauth mints bearer tokens for load tests, smoke tests and local
// development. It signs with the server's JWT_SECRET, so it is only useful
// against a server whose secret the caller already holds.
package testauth

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Togather-Foundation/retriever/internal/auth"
)

// AuthMode determines how requests are authenticated.
type AuthMode string

const (
	// AuthModeJWT signs a fresh token with the configured secret.
	AuthModeJWT AuthMode = "jwt"
	// AuthModeToken sends a token obtained elsewhere (login, gentoken).
	AuthModeToken AuthMode = "token"
	// AuthModeNone sends no Authorization header.
	AuthModeNone AuthMode = "none"
)

const devSecret = "dev_jwt_secret_change_me_in_production"

// Config configures an Authenticator.
type Config struct {
	Mode AuthMode

	// JWTSecret defaults to JWT_SECRET, then the development secret.
	JWTSecret string
	// Purpose is auth.PurposeAPI unless set to auth.PurposeMCP.
	Purpose string

	// Token is sent as-is in AuthModeToken.
	Token string

	Subject  string
	Username string
	Role     auth.Role
	Expiry   time.Duration
}

// Authenticator adds one fixed Authorization header to requests.
type Authenticator struct {
	mode   AuthMode
	header string
}

// New builds an Authenticator, minting the token up front in AuthModeJWT.
func New(cfg Config) (*Authenticator, error) {
	if cfg.Mode == "" {
		cfg.Mode = AuthModeJWT
	}

	switch cfg.Mode {
	case AuthModeJWT:
		token, err := mint(cfg)
		if err != nil {
			return nil, err
		}
		return &Authenticator{mode: cfg.Mode, header: "Bearer " + token}, nil
	case AuthModeToken:
		if cfg.Token == "" {
			return nil, fmt.Errorf("token mode requires a token")
		}
		return &Authenticator{mode: cfg.Mode, header: "Bearer " + cfg.Token}, nil
	case AuthModeNone:
		return &Authenticator{mode: cfg.Mode}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode: %s", cfg.Mode)
	}
}

func mint(cfg Config) (string, error) {
	secret := cfg.JWTSecret
	if secret == "" {
		secret = os.Getenv("JWT_SECRET")
	}
	if secret == "" {
		secret = devSecret
	}
	purpose := cfg.Purpose
	if purpose == "" {
		purpose = auth.PurposeAPI
	}
	if purpose != auth.PurposeAPI && purpose != auth.PurposeMCP {
		return "", fmt.Errorf("unknown token purpose: %s", purpose)
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	role := cfg.Role
	if role == "" {
		role = auth.RoleAdmin
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "loadtest"
	}
	username := cfg.Username
	if username == "" {
		username = subject
	}

	manager, err := auth.NewJWTManager(secret, expiry, purpose)
	if err != nil {
		return "", err
	}
	token, _, err := manager.Generate(subject, username, string(role))
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

// Mode reports how the authenticator was configured.
func (a *Authenticator) Mode() AuthMode {
	return a.mode
}

// AddAuth sets the Authorization header on req.
func (a *Authenticator) AddAuth(req *http.Request) {
	if req == nil || a == nil || a.header == "" {
		return
	}
	req.Header.Set("Authorization", a.header)
}

// Header returns the Authorization header value, empty in AuthModeNone.
func (a *Authenticator) Header() string {
	if a == nil {
		return ""
	}
	return a.header
}

// DevToken signs an API token with the development defaults.
func DevToken(role auth.Role, subject string) (string, error) {
	return mint(Config{Role: role, Subject: subject})
}
