package history

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepository keeps history in process, for the CLI and tests.
type MemoryRepository struct {
	mu       sync.Mutex
	searches []SearchSession
	exports  []ExportRecord
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) CreateSearch(_ context.Context, s SearchSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.searches = append(r.searches, s)
	return nil
}

func (r *MemoryRepository) CreateExport(_ context.Context, e ExportRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exports = append(r.exports, e)
	return nil
}

func (r *MemoryRepository) ListSearches(_ context.Context, actor string, limit int) ([]SearchSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []SearchSession{}
	for _, s := range r.searches {
		if actor == "" || strings.EqualFold(actor, s.Actor) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListExports(_ context.Context, actor string, limit int) ([]ExportRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []ExportRecord{}
	for _, e := range r.exports {
		if actor == "" || strings.EqualFold(actor, e.Actor) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) FindExport(_ context.Context, actor, name string) (*ExportRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.exports) - 1; i >= 0; i-- {
		e := r.exports[i]
		if strings.EqualFold(actor, e.Actor) && filepath.Base(e.Path) == name {
			return &e, nil
		}
	}
	return nil, ErrExportNotFound
}

func (r *MemoryRepository) DeleteExportsBefore(_ context.Context, cutoff time.Time) ([]ExportRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []ExportRecord
	kept := r.exports[:0]
	for _, e := range r.exports {
		if e.CreatedAt.Before(cutoff) {
			expired = append(expired, e)
			continue
		}
		kept = append(kept, e)
	}
	r.exports = kept
	return expired, nil
}
