package users

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-process Repository for tests and the CLI.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]User
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]User)}
}

func (r *MemoryRepository) Create(_ context.Context, u User) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if strings.EqualFold(existing.Username, u.Username) {
			return nil, ErrUsernameTaken
		}
		if u.Email != "" && strings.EqualFold(existing.Email, u.Email) {
			return nil, ErrEmailTaken
		}
	}
	now := time.Now().UTC()
	u.ID = uuid.NewString()
	u.CreatedAt = now
	u.UpdatedAt = now
	r.items[u.ID] = u
	return &u, nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.items[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (r *MemoryRepository) GetByUsername(_ context.Context, username string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.items {
		if strings.EqualFold(u.Username, username) {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *MemoryRepository) List(_ context.Context) ([]User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]User, 0, len(r.items))
	for _, u := range r.items {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (r *MemoryRepository) Update(_ context.Context, u User) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.items[u.ID]
	if !ok {
		return nil, ErrUserNotFound
	}
	for id, other := range r.items {
		if id != u.ID && u.Email != "" && strings.EqualFold(other.Email, u.Email) {
			return nil, ErrEmailTaken
		}
	}
	u.Username = existing.Username
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = time.Now().UTC()
	r.items[u.ID] = u
	return &u, nil
}

func (r *MemoryRepository) SetActive(_ context.Context, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.items[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Active = active
	u.UpdatedAt = time.Now().UTC()
	r.items[id] = u
	return nil
}

func (r *MemoryRepository) TouchLogin(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.items[id]
	if !ok {
		return ErrUserNotFound
	}
	u.LastLoginAt = &at
	r.items[id] = u
	return nil
}
