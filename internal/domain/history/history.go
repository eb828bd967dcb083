// Package history records the searches and exports each user ran.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Togather-Foundation/retriever/internal/domain/ids"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

var ErrExportNotFound = errors.New("export record not found")

// SearchSession is one executed search.
type SearchSession struct {
	ID             string    `json:"id"`
	Actor          string    `json:"actor"`
	Identifier     string    `json:"identifier"`
	ResultsCount   int       `json:"results_count"`
	SourcesQueried int       `json:"sources_queried"`
	SourcesErrored int       `json:"sources_errored"`
	CreatedAt      time.Time `json:"created_at"`
}

// ExportRecord is one file produced from a search outcome.
type ExportRecord struct {
	ID           string    `json:"id"`
	Actor        string    `json:"actor"`
	SessionID    string    `json:"session_id,omitempty"`
	Identifier   string    `json:"identifier"`
	Format       string    `json:"format"`
	Path         string    `json:"path"`
	RecordsCount int       `json:"records_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repository persists history. List methods return newest first; an empty
// actor lists every actor.
type Repository interface {
	CreateSearch(ctx context.Context, s SearchSession) error
	CreateExport(ctx context.Context, e ExportRecord) error
	ListSearches(ctx context.Context, actor string, limit int) ([]SearchSession, error)
	ListExports(ctx context.Context, actor string, limit int) ([]ExportRecord, error)
	// FindExport returns the actor's export whose file base name is name,
	// or ErrExportNotFound.
	FindExport(ctx context.Context, actor, name string) (*ExportRecord, error)
	// DeleteExportsBefore removes export records older than cutoff and
	// returns them so their files can be removed.
	DeleteExportsBefore(ctx context.Context, cutoff time.Time) ([]ExportRecord, error)
}

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// RecordSearch stores s, assigning an ID and timestamp when missing.
func (s *Service) RecordSearch(ctx context.Context, session SearchSession) error {
	if session.ID == "" {
		session.ID = ids.MustULID()
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = s.now()
	}
	if err := s.repo.CreateSearch(ctx, session); err != nil {
		return fmt.Errorf("record search session: %w", err)
	}
	return nil
}

func (s *Service) RecordExport(ctx context.Context, rec ExportRecord) error {
	if rec.ID == "" {
		rec.ID = ids.MustULID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if err := s.repo.CreateExport(ctx, rec); err != nil {
		return fmt.Errorf("record export: %w", err)
	}
	return nil
}

func (s *Service) Searches(ctx context.Context, actor string, limit int) ([]SearchSession, error) {
	return s.repo.ListSearches(ctx, actor, ClampLimit(limit))
}

func (s *Service) Exports(ctx context.Context, actor string, limit int) ([]ExportRecord, error) {
	return s.repo.ListExports(ctx, actor, ClampLimit(limit))
}

// OwnsExport reports whether actor produced the export file called name.
func (s *Service) OwnsExport(ctx context.Context, actor, name string) (bool, error) {
	if actor == "" || name == "" {
		return false, nil
	}
	_, err := s.repo.FindExport(ctx, actor, name)
	switch {
	case errors.Is(err, ErrExportNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("find export: %w", err)
	}
	return true, nil
}

// ExpireExports deletes export records older than cutoff.
func (s *Service) ExpireExports(ctx context.Context, cutoff time.Time) ([]ExportRecord, error) {
	return s.repo.DeleteExportsBefore(ctx, cutoff)
}

func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
