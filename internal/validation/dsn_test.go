package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePostgresDSN(t *testing.T) {
	assert.NoError(t, ValidatePostgresDSN("postgres://reader:secret@db:5432/crm?sslmode=disable", "sql.dsn"))
	assert.NoError(t, ValidatePostgresDSN("host=db user=reader dbname=crm", "sql.dsn"))

	for _, dsn := range []string{"", "mysql://db/crm", "postgres://reader:secret@db:notaport/crm"} {
		err := ValidatePostgresDSN(dsn, "sql.dsn")
		require.Error(t, err, dsn)
		assert.NotContains(t, err.Error(), "secret")
	}
}

func TestValidateMySQLDSN(t *testing.T) {
	assert.NoError(t, ValidateMySQLDSN("reader:secret@tcp(db:3306)/hr", "sql.dsn"))

	err := ValidateMySQLDSN("reader:secret@tcp(db:3306)/", "sql.dsn")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database")

	err = ValidateMySQLDSN("reader:secret@db", "sql.dsn")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
}

func TestValidateSQLiteDSN(t *testing.T) {
	assert.NoError(t, ValidateSQLiteDSN("/data/people.db", "sql.dsn"))
	assert.NoError(t, ValidateSQLiteDSN("file:/data/people.db?mode=ro", "sql.dsn"))

	assert.Error(t, ValidateSQLiteDSN("", "sql.dsn"))
	assert.Error(t, ValidateSQLiteDSN(":memory:", "sql.dsn"))
	assert.Error(t, ValidateSQLiteDSN("file:/data/people.db?mode=rwc", "sql.dsn"))
}
