package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Togather-Foundation/retriever/internal/audit"
	"github.com/Togather-Foundation/retriever/internal/auth"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const BcryptCost = 12

// dummyHash keeps Authenticate timing similar for unknown usernames.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("retriever-dummy-password"), bcrypt.MinCost)

type Service struct {
	repo    Repository
	auditor audit.Recorder
	logger  zerolog.Logger
	cost    int
}

func NewService(repo Repository, auditor audit.Recorder, logger zerolog.Logger) *Service {
	if auditor == nil {
		auditor = audit.Discard
	}
	return &Service{
		repo:    repo,
		auditor: auditor,
		logger:  logger.With().Str("component", "users").Logger(),
		cost:    BcryptCost,
	}
}

type CreateParams struct {
	Username string
	Email    string
	Password string
	Role     string
}

type UpdateParams struct {
	Email    *string
	Role     *string
	Password *string
}

func (s *Service) Create(ctx context.Context, params CreateParams, actor string) (*User, error) {
	username := strings.TrimSpace(params.Username)
	if username == "" {
		return nil, ErrInvalidUsername
	}
	role := strings.TrimSpace(params.Role)
	if role == "" {
		role = string(auth.RoleUser)
	}
	if !auth.ValidRole(role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, params.Role)
	}
	hash, err := s.hash(params.Password)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.Create(ctx, User{
		Username:     username,
		Email:        strings.TrimSpace(params.Email),
		PasswordHash: hash,
		Role:         string(auth.NormalizeRole(role)),
		Active:       true,
	})
	if err != nil {
		return nil, err
	}
	s.audit(actor, "user.create", created.ID, map[string]string{"username": created.Username, "role": created.Role})
	return created, nil
}

// Authenticate checks a username and password against the stored bcrypt
// hash. Unknown users, wrong passwords and inactive accounts all yield
// ErrInvalidLogin.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*User, error) {
	u, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			s.audit(username, audit.ActionLogin, "", map[string]string{"reason": "unknown user"}, audit.StatusFailure)
			return nil, ErrInvalidLogin
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil || !u.Active {
		s.audit(u.Username, audit.ActionLogin, u.ID, map[string]string{"reason": "rejected"}, audit.StatusFailure)
		return nil, ErrInvalidLogin
	}

	now := time.Now().UTC()
	if err := s.repo.TouchLogin(ctx, u.ID, now); err != nil {
		s.logger.Warn().Err(err).Str("user_id", u.ID).Msg("update last login failed")
	} else {
		u.LastLoginAt = &now
	}
	s.audit(u.Username, audit.ActionLogin, u.ID, nil)
	return u, nil
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

func (s *Service) Update(ctx context.Context, id string, params UpdateParams, actor string) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	details := map[string]string{}
	if params.Email != nil {
		u.Email = strings.TrimSpace(*params.Email)
		details["email"] = "changed"
	}
	if params.Role != nil {
		if !auth.ValidRole(*params.Role) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRole, *params.Role)
		}
		if u.Role == string(auth.RoleSuperAdmin) && auth.NormalizeRole(*params.Role) != auth.RoleSuperAdmin {
			if err := s.ensureAnotherSuperAdmin(ctx, u.ID); err != nil {
				return nil, err
			}
		}
		u.Role = string(auth.NormalizeRole(*params.Role))
		details["role"] = u.Role
	}
	if params.Password != nil {
		hash, err := s.hash(*params.Password)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = hash
		details["password"] = "changed"
	}
	updated, err := s.repo.Update(ctx, *u)
	if err != nil {
		return nil, err
	}
	s.audit(actor, "user.update", updated.ID, details)
	return updated, nil
}

func (s *Service) Deactivate(ctx context.Context, id, actor string) error {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if u.Role == string(auth.RoleSuperAdmin) {
		if err := s.ensureAnotherSuperAdmin(ctx, u.ID); err != nil {
			return err
		}
	}
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return err
	}
	s.audit(actor, "user.deactivate", id, map[string]string{"username": u.Username})
	return nil
}

func (s *Service) Activate(ctx context.Context, id, actor string) error {
	if err := s.repo.SetActive(ctx, id, true); err != nil {
		return err
	}
	s.audit(actor, "user.activate", id, nil)
	return nil
}

// EnsureBootstrapAdmin creates the initial super admin when no user with
// that username exists. Existing accounts are left untouched.
func (s *Service) EnsureBootstrapAdmin(ctx context.Context, username, password, email string) (bool, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return false, nil
	}
	if _, err := s.repo.GetByUsername(ctx, username); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrUserNotFound) {
		return false, fmt.Errorf("check bootstrap admin: %w", err)
	}
	_, err := s.Create(ctx, CreateParams{
		Username: username,
		Email:    email,
		Password: password,
		Role:     string(auth.RoleSuperAdmin),
	}, "system")
	if err != nil {
		return false, fmt.Errorf("create bootstrap admin: %w", err)
	}
	s.logger.Info().Str("username", username).Msg("bootstrap super admin created")
	return true, nil
}

func (s *Service) ensureAnotherSuperAdmin(ctx context.Context, excludeID string) error {
	all, err := s.repo.List(ctx)
	if err != nil {
		return err
	}
	for _, u := range all {
		if u.ID != excludeID && u.Active && u.Role == string(auth.RoleSuperAdmin) {
			return nil
		}
	}
	return ErrLastSuperAdmin
}

func (s *Service) hash(password string) (string, error) {
	if err := validatePassword(password); err != nil {
		return "", err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

func (s *Service) audit(actor, action, id string, details map[string]string, status ...string) {
	event := audit.Event{
		Actor:        actor,
		Action:       action,
		ResourceType: "user",
		ResourceID:   id,
		Details:      details,
	}
	if len(status) > 0 {
		event.Status = status[0]
	}
	s.auditor.Record(event)
}

func validatePassword(password string) error {
	if len(password) < 8 {
		return ErrPasswordTooShort
	}
	if len(password) > 128 {
		return ErrPasswordTooLong
	}
	return nil
}
