package library

import (
	"errors"
	"fmt"

	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // goqu dialect
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // goqu dialect
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// Supported database/sql driver names.
const (
	DriverSQLite   = "sqlite3"
	DriverPGX      = "pgx"
	DriverPostgres = "postgres"
)

const (
	dialectSQLite   = "sqlite3"
	dialectPostgres = "postgres"

	pgUniqueViolation = "23505"
)

// dialectFor maps a driver name onto the SQL dialect used for schema and
// query building.
func dialectFor(driver string) (string, error) {
	switch driver {
	case DriverSQLite:
		return dialectSQLite, nil
	case DriverPGX, DriverPostgres:
		return dialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

// isUniqueViolation recognizes a unique-constraint failure from any of the
// supported drivers.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}

	return false
}
