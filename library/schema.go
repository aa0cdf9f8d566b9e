package library

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
)

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS books (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		borrower_email TEXT REFERENCES users(email)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_books_borrower ON books(borrower_email);`,
	`CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		issued_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_user ON tokens(user_id);`,
	// No foreign keys: history outlives the users and books it mentions.
	`CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_email TEXT NOT NULL,
		book_id INTEGER NOT NULL,
		book_title TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('borrow','return')),
		date DATETIME NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_history_email ON history(user_email);`,
	`CREATE INDEX IF NOT EXISTS idx_history_title ON history(book_title);`,
	`CREATE INDEX IF NOT EXISTS idx_history_date ON history(date);`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS books (
		id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		author TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		borrower_email TEXT REFERENCES users(email)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_books_borrower ON books(borrower_email);`,
	`CREATE TABLE IF NOT EXISTS tokens (
		id TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		issued_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_tokens_user ON tokens(user_id);`,
	`CREATE TABLE IF NOT EXISTS history (
		id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		user_email TEXT NOT NULL,
		book_id BIGINT NOT NULL,
		book_title TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('borrow','return')),
		date TIMESTAMPTZ NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_history_email ON history(user_email);`,
	`CREATE INDEX IF NOT EXISTS idx_history_title ON history(book_title);`,
	`CREATE INDEX IF NOT EXISTS idx_history_date ON history(date);`,
}

func applyMigrations(ctx context.Context, db *sqlx.DB, dialect string) error {
	stmts := postgresSchema
	if dialect == dialectSQLite {
		// WAL improves write concurrency.
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable WAL: %w", err)
		}
		stmts = sqliteSchema
	}

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	current, err := readSchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	upsert := db.Rebind(`INSERT INTO meta(key,value) VALUES('schema_version',?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value;`)
	if _, err := tx.ExecContext(ctx, upsert, strconv.Itoa(schemaVersion)); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}

	return tx.Commit()
}

func readSchemaVersion(ctx context.Context, db *sqlx.DB) (int, error) {
	var values []string
	if err := db.SelectContext(ctx, &values, `SELECT value FROM meta WHERE key='schema_version'`); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if len(values) == 0 {
		return 0, nil
	}
	return strconv.Atoi(values[0])
}
