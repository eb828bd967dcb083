package sources

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Togather-Foundation/retriever/internal/domain/ids"
)

// MemoryRepository keeps descriptors in process. The CLI uses it to search
// a descriptor directory without a database.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]Descriptor
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository(seed ...Descriptor) *MemoryRepository {
	repo := &MemoryRepository{items: make(map[string]Descriptor)}
	now := time.Now().UTC()
	for _, d := range seed {
		if d.ID == "" {
			d.ID = ids.MustULID()
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
			d.UpdatedAt = now
		}
		repo.items[key(d.Name)] = d
	}
	return repo
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *MemoryRepository) Create(_ context.Context, d Descriptor) (*Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[key(d.Name)]; exists {
		return nil, ErrNameTaken
	}
	now := time.Now().UTC()
	d.ID = ids.MustULID()
	d.CreatedAt = now
	d.UpdatedAt = now
	r.items[key(d.Name)] = d
	return &d, nil
}

func (r *MemoryRepository) Update(_ context.Context, d Descriptor) (*Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.items[key(d.Name)]
	if !ok {
		return nil, ErrNotFound
	}
	d.ID = existing.ID
	d.CreatedAt = existing.CreatedAt
	d.UpdatedAt = time.Now().UTC()
	if d.Schema == nil {
		d.Schema = existing.Schema
		d.SchemaRefreshedAt = existing.SchemaRefreshedAt
	}
	r.items[key(d.Name)] = d
	return &d, nil
}

func (r *MemoryRepository) GetByName(_ context.Context, name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.items[key(name)]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (r *MemoryRepository) List(_ context.Context, activeOnly bool) ([]Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.items))
	for _, d := range r.items {
		if activeOnly && !d.Active {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryRepository) SetActive(_ context.Context, name string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.items[key(name)]
	if !ok {
		return ErrNotFound
	}
	d.Active = active
	d.UpdatedAt = time.Now().UTC()
	r.items[key(name)] = d
	return nil
}

func (r *MemoryRepository) UpdateSchema(_ context.Context, name string, fields []FieldDescriptor, refreshedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.items[key(name)]
	if !ok {
		return ErrNotFound
	}
	d.Schema = append([]FieldDescriptor(nil), fields...)
	d.SchemaRefreshedAt = &refreshedAt
	r.items[key(name)] = d
	return nil
}
