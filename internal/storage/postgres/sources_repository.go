package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Togather-Foundation/retriever/internal/domain/ids"
	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ sources.Repository = (*SourceRepository)(nil)

// SourceRepository stores descriptors. Connection parameters live in one
// JSONB column holding whichever variant the kind selects.
type SourceRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewSourceRepository(pool *pgxpool.Pool) *SourceRepository {
	return &SourceRepository{pool: pool}
}

type sourceParams struct {
	SQL  *sources.SQLParams  `json:"sql,omitempty"`
	File *sources.FileParams `json:"file,omitempty"`
}

const sourceColumns = `id, name, kind, description, params, identity_fields, timeout_ms, active,
       schema_fields, schema_refreshed_at, created_by, created_at, updated_at`

func (r *SourceRepository) Create(ctx context.Context, d sources.Descriptor) (*sources.Descriptor, error) {
	params, err := json.Marshal(sourceParams{SQL: d.SQL, File: d.File})
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	row := pick(r.pool, r.tx).QueryRow(ctx, `
INSERT INTO data_sources (id, name, kind, description, params, identity_fields, timeout_ms, active, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING `+sourceColumns,
		ids.MustULID(), d.Name, string(d.Kind), d.Description, params, nonNil(d.IdentityFields), d.TimeoutMS, d.Active, d.CreatedBy,
	)
	created, err := scanDescriptor(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, sources.ErrNameTaken
		}
		return nil, fmt.Errorf("create data source %q: %w", d.Name, err)
	}
	return created, nil
}

// Update replaces the descriptor with the same name. The stored schema is
// kept unless d carries one.
func (r *SourceRepository) Update(ctx context.Context, d sources.Descriptor) (*sources.Descriptor, error) {
	params, err := json.Marshal(sourceParams{SQL: d.SQL, File: d.File})
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}
	var schemaJSON []byte
	if d.Schema != nil {
		if schemaJSON, err = json.Marshal(d.Schema); err != nil {
			return nil, fmt.Errorf("encode schema: %w", err)
		}
	}
	row := pick(r.pool, r.tx).QueryRow(ctx, `
UPDATE data_sources
   SET kind = $2, description = $3, params = $4, identity_fields = $5, timeout_ms = $6, active = $7,
       schema_fields = COALESCE($8, schema_fields),
       schema_refreshed_at = CASE WHEN $8::jsonb IS NULL THEN schema_refreshed_at ELSE $9 END,
       updated_at = now()
 WHERE lower(name) = lower($1)
RETURNING `+sourceColumns,
		d.Name, string(d.Kind), d.Description, params, nonNil(d.IdentityFields), d.TimeoutMS, d.Active, schemaJSON, d.SchemaRefreshedAt,
	)
	updated, err := scanDescriptor(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sources.ErrNotFound
		}
		return nil, fmt.Errorf("update data source %q: %w", d.Name, err)
	}
	return updated, nil
}

func (r *SourceRepository) GetByName(ctx context.Context, name string) (_ *sources.Descriptor, err error) {
	defer observe("get_source", time.Now(), &err)
	row := pick(r.pool, r.tx).QueryRow(ctx, `SELECT `+sourceColumns+` FROM data_sources WHERE lower(name) = lower($1)`, name)
	d, err := scanDescriptor(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sources.ErrNotFound
		}
		return nil, fmt.Errorf("get data source %q: %w", name, err)
	}
	return d, nil
}

func (r *SourceRepository) List(ctx context.Context, activeOnly bool) (_ []sources.Descriptor, err error) {
	defer observe("list_sources", time.Now(), &err)
	rows, err := pick(r.pool, r.tx).Query(ctx, `
SELECT `+sourceColumns+`
  FROM data_sources
 WHERE ($1 = false OR active)
 ORDER BY name`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list data sources: %w", err)
	}
	defer rows.Close()

	out := []sources.Descriptor{}
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan data source: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *SourceRepository) SetActive(ctx context.Context, name string, active bool) error {
	tag, err := pick(r.pool, r.tx).Exec(ctx,
		`UPDATE data_sources SET active = $2, updated_at = now() WHERE lower(name) = lower($1)`, name, active)
	if err != nil {
		return fmt.Errorf("set active for %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return sources.ErrNotFound
	}
	return nil
}

func (r *SourceRepository) UpdateSchema(ctx context.Context, name string, fields []sources.FieldDescriptor, refreshedAt time.Time) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	tag, err := pick(r.pool, r.tx).Exec(ctx,
		`UPDATE data_sources SET schema_fields = $2, schema_refreshed_at = $3 WHERE lower(name) = lower($1)`,
		name, raw, refreshedAt)
	if err != nil {
		return fmt.Errorf("update schema for %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return sources.ErrNotFound
	}
	return nil
}

func scanDescriptor(row pgx.Row) (*sources.Descriptor, error) {
	var (
		d          sources.Descriptor
		kind       string
		params     []byte
		schemaJSON []byte
	)
	if err := row.Scan(
		&d.ID, &d.Name, &kind, &d.Description, &params, &d.IdentityFields, &d.TimeoutMS, &d.Active,
		&schemaJSON, &d.SchemaRefreshedAt, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Kind = sources.Kind(kind)
	var p sourceParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("decode params for %q: %w", d.Name, err)
		}
	}
	d.SQL, d.File = p.SQL, p.File
	if len(schemaJSON) > 0 {
		if err := json.Unmarshal(schemaJSON, &d.Schema); err != nil {
			return nil, fmt.Errorf("decode schema for %q: %w", d.Name, err)
		}
	}
	if len(d.IdentityFields) == 0 {
		d.IdentityFields = nil
	}
	return &d, nil
}
