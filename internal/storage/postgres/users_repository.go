package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Togather-Foundation/retriever/internal/domain/users"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ users.Repository = (*UserRepository)(nil)

type UserRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `id::text, username, email, password_hash, role, active, last_login_at, created_at, updated_at`

func (r *UserRepository) Create(ctx context.Context, u users.User) (*users.User, error) {
	row := pick(r.pool, r.tx).QueryRow(ctx, `
INSERT INTO users (id, username, email, password_hash, role, active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING `+userColumns,
		uuid.New(), u.Username, u.Email, u.PasswordHash, u.Role, u.Active,
	)
	created, err := scanUser(row)
	if err != nil {
		return nil, mapUserConflict(err, "create user")
	}
	return created, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*users.User, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return nil, users.ErrUserNotFound
	}
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, uid)
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*users.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username)
}

func (r *UserRepository) getOne(ctx context.Context, query string, arg any) (*users.User, error) {
	u, err := scanUser(pick(r.pool, r.tx).QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, users.ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) List(ctx context.Context) ([]users.User, error) {
	rows, err := pick(r.pool, r.tx).Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := []users.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (r *UserRepository) Update(ctx context.Context, u users.User) (*users.User, error) {
	uid, err := uuid.Parse(u.ID)
	if err != nil {
		return nil, users.ErrUserNotFound
	}
	row := pick(r.pool, r.tx).QueryRow(ctx, `
UPDATE users
   SET email = $2, password_hash = $3, role = $4, active = $5, updated_at = now()
 WHERE id = $1
RETURNING `+userColumns,
		uid, u.Email, u.PasswordHash, u.Role, u.Active,
	)
	updated, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, users.ErrUserNotFound
		}
		return nil, mapUserConflict(err, "update user")
	}
	return updated, nil
}

func (r *UserRepository) SetActive(ctx context.Context, id string, active bool) error {
	return r.exec(ctx, `UPDATE users SET active = $2, updated_at = now() WHERE id = $1`, id, active)
}

func (r *UserRepository) TouchLogin(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx, `UPDATE users SET last_login_at = $2 WHERE id = $1`, id, at)
}

func (r *UserRepository) exec(ctx context.Context, query, id string, arg any) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return users.ErrUserNotFound
	}
	tag, err := pick(r.pool, r.tx).Exec(ctx, query, uid, arg)
	if err != nil {
		return fmt.Errorf("update user %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return users.ErrUserNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (*users.User, error) {
	var u users.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.Active, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func mapUserConflict(err error, op string) error {
	if isUniqueViolation(err) {
		if strings.Contains(constraintName(err), "email") {
			return users.ErrEmailTaken
		}
		return users.ErrUsernameTaken
	}
	return fmt.Errorf("%s: %w", op, err)
}
