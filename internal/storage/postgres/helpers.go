package postgres

import (
	"errors"
	"time"

	"github.com/Togather-Foundation/retriever/internal/metrics"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// constraintName returns the violated constraint, or "".
func constraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// observe records query latency and errors for op. Call it deferred with a
// pointer to the named error result.
func observe(op string, start time.Time, err *error) {
	metrics.RecordQuery(op, start, *err)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
