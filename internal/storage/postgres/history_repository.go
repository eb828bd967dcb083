package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Togather-Foundation/retriever/internal/domain/history"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ history.Repository = (*HistoryRepository)(nil)

type HistoryRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewHistoryRepository(pool *pgxpool.Pool) *HistoryRepository {
	return &HistoryRepository{pool: pool}
}

func (r *HistoryRepository) CreateSearch(ctx context.Context, s history.SearchSession) (err error) {
	defer observe("create_search_session", time.Now(), &err)
	_, err = pick(r.pool, r.tx).Exec(ctx, `
INSERT INTO search_sessions (id, actor, identifier, results_count, sources_queried, sources_errored, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.Actor, s.Identifier, s.ResultsCount, s.SourcesQueried, s.SourcesErrored, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert search session: %w", err)
	}
	return nil
}

func (r *HistoryRepository) CreateExport(ctx context.Context, e history.ExportRecord) error {
	_, err := pick(r.pool, r.tx).Exec(ctx, `
INSERT INTO export_records (id, actor, session_id, identifier, format, path, records_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.Actor, e.SessionID, e.Identifier, e.Format, e.Path, e.RecordsCount, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert export record: %w", err)
	}
	return nil
}

func (r *HistoryRepository) ListSearches(ctx context.Context, actor string, limit int) (_ []history.SearchSession, err error) {
	defer observe("list_search_sessions", time.Now(), &err)
	rows, err := pick(r.pool, r.tx).Query(ctx, `
SELECT id, actor, identifier, results_count, sources_queried, sources_errored, created_at
  FROM search_sessions
 WHERE ($1 = '' OR actor = $1)
 ORDER BY created_at DESC, id DESC
 LIMIT $2`, actor, limit)
	if err != nil {
		return nil, fmt.Errorf("list search sessions: %w", err)
	}
	defer rows.Close()

	out := []history.SearchSession{}
	for rows.Next() {
		var s history.SearchSession
		if err := rows.Scan(&s.ID, &s.Actor, &s.Identifier, &s.ResultsCount, &s.SourcesQueried, &s.SourcesErrored, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *HistoryRepository) ListExports(ctx context.Context, actor string, limit int) ([]history.ExportRecord, error) {
	rows, err := pick(r.pool, r.tx).Query(ctx, `
SELECT id, actor, session_id, identifier, format, path, records_count, created_at
  FROM export_records
 WHERE ($1 = '' OR actor = $1)
 ORDER BY created_at DESC, id DESC
 LIMIT $2`, actor, limit)
	if err != nil {
		return nil, fmt.Errorf("list export records: %w", err)
	}
	return collectExports(rows)
}

// FindExport matches on the last path element without LIKE, since export
// names contain underscores.
func (r *HistoryRepository) FindExport(ctx context.Context, actor, name string) (_ *history.ExportRecord, err error) {
	defer observe("find_export_record", time.Now(), &err)
	var e history.ExportRecord
	err = pick(r.pool, r.tx).QueryRow(ctx, `
SELECT id, actor, session_id, identifier, format, path, records_count, created_at
  FROM export_records
 WHERE actor = $1
   AND (path = $2 OR right(path, char_length($2) + 1) = '/' || $2)
 ORDER BY created_at DESC, id DESC
 LIMIT 1`, actor, name).Scan(&e.ID, &e.Actor, &e.SessionID, &e.Identifier, &e.Format, &e.Path, &e.RecordsCount, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, history.ErrExportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find export record: %w", err)
	}
	return &e, nil
}

func (r *HistoryRepository) DeleteExportsBefore(ctx context.Context, cutoff time.Time) ([]history.ExportRecord, error) {
	rows, err := pick(r.pool, r.tx).Query(ctx, `
DELETE FROM export_records
 WHERE created_at < $1
RETURNING id, actor, session_id, identifier, format, path, records_count, created_at`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("delete export records: %w", err)
	}
	return collectExports(rows)
}

func collectExports(rows pgx.Rows) ([]history.ExportRecord, error) {
	defer rows.Close()
	out := []history.ExportRecord{}
	for rows.Next() {
		var e history.ExportRecord
		if err := rows.Scan(&e.ID, &e.Actor, &e.SessionID, &e.Identifier, &e.Format, &e.Path, &e.RecordsCount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan export record: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
