package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Togather-Foundation/retriever/internal/audit"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	_ audit.Sink  = (*AuditRepository)(nil)
	_ audit.Store = (*AuditRepository)(nil)
)

// AuditRepository is both an audit sink and the queryable audit log.
type AuditRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func (r *AuditRepository) Name() string { return "postgres" }

func (r *AuditRepository) Write(ctx context.Context, e audit.Event) (err error) {
	defer observe("write_audit_event", time.Now(), &err)
	var details []byte
	if len(e.Details) > 0 {
		if details, err = json.Marshal(e.Details); err != nil {
			return fmt.Errorf("encode audit details: %w", err)
		}
	}
	_, err = pick(r.pool, r.tx).Exec(ctx, `
INSERT INTO audit_log (id, occurred_at, actor, action, status, identifier, sources_queried, sources_errored,
                       resource_type, resource_id, ip_address, details)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Timestamp, e.Actor, e.Action, e.Status, e.Identifier, nonNil(e.SourcesQueried), nonNil(e.SourcesErrored),
		e.ResourceType, e.ResourceID, e.IPAddress, details,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (r *AuditRepository) List(ctx context.Context, filter audit.Filter) (_ []audit.Event, err error) {
	defer observe("list_audit_events", time.Now(), &err)
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Actor != "" {
		add("lower(actor) = lower($%d)", filter.Actor)
	}
	if filter.Action != "" {
		add("lower(action) = lower($%d)", filter.Action)
	}
	if !filter.Since.IsZero() {
		add("occurred_at >= $%d", filter.Since)
	}
	if !filter.Until.IsZero() {
		add("occurred_at < $%d", filter.Until)
	}

	query := `
SELECT id, occurred_at, actor, action, status, identifier, sources_queried, sources_errored,
       resource_type, resource_id, ip_address, details
  FROM audit_log`
	if len(where) > 0 {
		query += "\n WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.EffectiveLimit())
	query += fmt.Sprintf("\n ORDER BY occurred_at DESC, id DESC\n LIMIT $%d", len(args))

	rows, err := pick(r.pool, r.tx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	out := []audit.Event{}
	for rows.Next() {
		var (
			e       audit.Event
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &e.Action, &e.Status, &e.Identifier,
			&e.SourcesQueried, &e.SourcesErrored, &e.ResourceType, &e.ResourceID, &e.IPAddress, &details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("decode audit details: %w", err)
			}
		}
		if len(e.SourcesQueried) == 0 {
			e.SourcesQueried = nil
		}
		if len(e.SourcesErrored) == 0 {
			e.SourcesErrored = nil
		}
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
