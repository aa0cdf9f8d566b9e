package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jmoiron/sqlx"
)

// Database provides high-level helpers around a SQL connection. It speaks
// both SQLite and Postgres; queries are written with '?' placeholders and
// rebound for the active driver.
type Database struct {
	db      *sqlx.DB
	dialect string
	logger  *slog.Logger
	now     func() time.Time

	addBookStmt *sqlx.Stmt
	addUserStmt *sqlx.Stmt
}

// Option configures a Database.
type Option func(*Database) error

// WithLogger sets the logger for the Database. Debug level receives one line
// per successful mutation; failures are returned, not logged.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Database) error {
		if logger != nil {
			d.logger = logger
		}
		return nil
	}
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Database) error {
		if now == nil {
			return errors.New("nil clock supplied")
		}
		d.now = now
		return nil
	}
}

// NewDatabase opens (or creates) the SQLite database at dbPath, applies schema
// migrations, and prepares common statements.
func NewDatabase(dbPath string, opts ...Option) (*Database, error) {
	return Open(context.Background(), DriverSQLite, dbPath, opts...)
}

// Open connects with the given driver and DSN and migrates the schema. For
// sqlite3 a plain file path is accepted in place of a "file:" DSN.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Database, error) {
	if _, err := dialectFor(driver); err != nil {
		return nil, err
	}
	if driver == DriverSQLite && !strings.HasPrefix(dsn, "file:") {
		var err error
		if dsn, err = sqliteDSN(dsn); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	database, err := NewDatabaseFromSQLX(ctx, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return database, nil
}

// NewDatabaseFromSQLX wraps an existing connection pool. The caller keeps
// ownership of db until Close is called on the returned Database.
func NewDatabaseFromSQLX(ctx context.Context, db *sqlx.DB, opts ...Option) (*Database, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	dialect, err := dialectFor(db.DriverName())
	if err != nil {
		return nil, err
	}

	database := &Database{
		db:      db,
		dialect: dialect,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if err := opt(database); err != nil {
			return nil, err
		}
	}

	if err := applyMigrations(ctx, db, dialect); err != nil {
		return nil, err
	}
	if err := database.prepareStatements(ctx); err != nil {
		database.closeStatements()
		return nil, err
	}
	return database, nil
}

// sqliteDSN turns a file path into a DSN. busy_timeout and immediate
// transactions serialize writers instead of failing them; foreign keys are
// off by default in SQLite.
func sqliteDSN(dbPath string) (string, error) {
	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create db dir: %w", err)
		}
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_txlock=immediate", dbPath), nil
}

// Close releases prepared statements and closes the DB.
func (d *Database) Close() error {
	d.closeStatements()
	return d.db.Close()
}

func (d *Database) closeStatements() {
	if d.addBookStmt != nil {
		d.addBookStmt.Close()
	}
	if d.addUserStmt != nil {
		d.addUserStmt.Close()
	}
}

// SchemaVersion reports the migration level recorded in the meta table.
func (d *Database) SchemaVersion(ctx context.Context) (int, error) {
	return readSchemaVersion(ctx, d.db)
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (d *Database) prepareStatements(ctx context.Context) error {
	var err error
	if d.addBookStmt, err = d.db.PreparexContext(ctx, d.db.Rebind(
		`INSERT INTO books(title,description,author,count) VALUES(?,?,?,?) RETURNING id`)); err != nil {
		return fmt.Errorf("prepare add book: %w", err)
	}
	if d.addUserStmt, err = d.db.PreparexContext(ctx, d.db.Rebind(
		`INSERT INTO users(name,email,password_hash,is_admin,created_at) VALUES(?,?,?,?,?) RETURNING id`)); err != nil {
		return fmt.Errorf("prepare add user: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

const userColumns = `id,name,email,password_hash,is_admin,created_at`

// AddUser inserts a user. The email must already be normalized; a duplicate
// yields ErrEmailTaken.
func (d *Database) AddUser(ctx context.Context, name, email, passwordHash string, isAdmin bool) (*User, error) {
	u := &User{
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
		CreatedAt:    d.now(),
	}
	err := d.addUserStmt.QueryRowxContext(ctx, u.Name, u.Email, u.PasswordHash, u.IsAdmin, u.CreatedAt).Scan(&u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("add user: %w", err)
	}
	d.logger.Debug("user added", "user_id", u.ID, "is_admin", u.IsAdmin)
	return u, nil
}

// GetUser fetches a single user by id.
func (d *Database) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := d.db.GetContext(ctx, &u, d.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id=?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &u, nil
}

// GetUserByEmail fetches a single user by (normalized) email.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := d.db.GetContext(ctx, &u, d.db.Rebind(`SELECT `+userColumns+` FROM users WHERE email=?`), email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// ---------------------------------------------------------------------------
// Books
// ---------------------------------------------------------------------------

const bookColumns = `id,title,description,author,count,borrower_email`

// AddBook inserts an available book.
func (d *Database) AddBook(ctx context.Context, nb NewBook) (*Book, error) {
	b := &Book{Title: nb.Title, Description: nb.Description, Author: nb.Author, Count: nb.Count}
	if err := d.addBookStmt.QueryRowxContext(ctx, b.Title, b.Description, b.Author, b.Count).Scan(&b.ID); err != nil {
		return nil, fmt.Errorf("add book: %w", err)
	}
	d.logger.Debug("book added", "book_id", b.ID, "title", b.Title)
	return b, nil
}

func (d *Database) GetBook(ctx context.Context, id int64) (*Book, error) {
	var b Book
	err := d.db.GetContext(ctx, &b, d.db.Rebind(`SELECT `+bookColumns+` FROM books WHERE id=?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get book %d: %w", id, err)
	}
	return &b, nil
}

// ListBooks returns one page of books ordered by id.
func (d *Database) ListBooks(ctx context.Context, page Page) ([]*Book, error) {
	books := []*Book{}
	err := d.db.SelectContext(ctx, &books,
		d.db.Rebind(`SELECT `+bookColumns+` FROM books ORDER BY id LIMIT ? OFFSET ?`),
		page.Limit, page.Skip)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	return books, nil
}

// ListBooksBorrowedBy returns one page of the books currently held by email.
func (d *Database) ListBooksBorrowedBy(ctx context.Context, email string, page Page) ([]*Book, error) {
	books := []*Book{}
	err := d.db.SelectContext(ctx, &books,
		d.db.Rebind(`SELECT `+bookColumns+` FROM books WHERE borrower_email=? ORDER BY id LIMIT ? OFFSET ?`),
		email, page.Limit, page.Skip)
	if err != nil {
		return nil, fmt.Errorf("list borrowed books: %w", err)
	}
	return books, nil
}

// DeleteBook removes a book whether or not it is borrowed. History rows are
// kept.
func (d *Database) DeleteBook(ctx context.Context, id int64) error {
	result, err := d.db.ExecContext(ctx, d.db.Rebind(`DELETE FROM books WHERE id=?`), id)
	if err != nil {
		return fmt.Errorf("delete book %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrBookNotFound
	}
	d.logger.Debug("book deleted", "book_id", id)
	return nil
}

// ---------------------------------------------------------------------------
// Circulation
// ---------------------------------------------------------------------------

// BorrowBook hands an available book to email and records the event in one
// transaction. The update only matches a book without a borrower, so of two
// concurrent borrowers exactly one wins.
func (d *Database) BorrowBook(ctx context.Context, bookID int64, email string) (*HistoryEntry, error) {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		tx.Rebind(`UPDATE books SET borrower_email=? WHERE id=? AND borrower_email IS NULL`), email, bookID)
	if err != nil {
		return nil, fmt.Errorf("borrow book %d: %w", bookID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		if err := d.requireBook(ctx, tx, bookID); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyBorrowed
	}

	entry, err := d.recordHistory(ctx, tx, email, bookID, HistoryBorrow)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("borrow book %d: %w", bookID, err)
	}

	d.logger.Debug("book borrowed", "book_id", bookID, "email", email)
	return entry, nil
}

// ReturnBook clears the borrower of a book held by email and records the
// event in one transaction.
func (d *Database) ReturnBook(ctx context.Context, bookID int64, email string) (*HistoryEntry, error) {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		tx.Rebind(`UPDATE books SET borrower_email=NULL WHERE id=? AND borrower_email=?`), bookID, email)
	if err != nil {
		return nil, fmt.Errorf("return book %d: %w", bookID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		if err := d.requireBook(ctx, tx, bookID); err != nil {
			return nil, err
		}
		return nil, ErrNotBorrower
	}

	entry, err := d.recordHistory(ctx, tx, email, bookID, HistoryReturn)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("return book %d: %w", bookID, err)
	}

	d.logger.Debug("book returned", "book_id", bookID, "email", email)
	return entry, nil
}

func (d *Database) requireBook(ctx context.Context, tx *sqlx.Tx, bookID int64) error {
	var exists bool
	if err := tx.QueryRowxContext(ctx,
		tx.Rebind(`SELECT EXISTS(SELECT 1 FROM books WHERE id=?)`), bookID).Scan(&exists); err != nil {
		return fmt.Errorf("check book %d: %w", bookID, err)
	}
	if !exists {
		return ErrBookNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

// recordHistory appends an entry inside tx, snapshotting the book title.
func (d *Database) recordHistory(ctx context.Context, tx *sqlx.Tx, email string, bookID int64, typ HistoryType) (*HistoryEntry, error) {
	entry := &HistoryEntry{UserEmail: email, BookID: bookID, Type: typ, Date: d.now()}
	if err := tx.GetContext(ctx, &entry.BookTitle, tx.Rebind(`SELECT title FROM books WHERE id=?`), bookID); err != nil {
		return nil, fmt.Errorf("read title of book %d: %w", bookID, err)
	}
	err := tx.QueryRowxContext(ctx,
		tx.Rebind(`INSERT INTO history(user_email,book_id,book_title,type,date) VALUES(?,?,?,?,?) RETURNING id`),
		entry.UserEmail, entry.BookID, entry.BookTitle, string(entry.Type), entry.Date).Scan(&entry.ID)
	if err != nil {
		return nil, fmt.Errorf("record %s history: %w", typ, err)
	}
	return entry, nil
}

// QueryHistory returns the entries matching every non-empty field of filter,
// oldest first.
func (d *Database) QueryHistory(ctx context.Context, filter HistoryFilter) ([]*HistoryEntry, error) {
	ds := goqu.Dialect(d.dialect).
		From("history").
		Select("id", "user_email", "book_id", "book_title", "type", "date").
		Order(goqu.I("id").Asc()).
		Prepared(true)

	if email := strings.TrimSpace(filter.Email); email != "" {
		ds = ds.Where(goqu.C("user_email").Eq(email))
	}
	if filter.BookTitle != "" {
		ds = ds.Where(goqu.C("book_title").Eq(filter.BookTitle))
	}
	if filter.Type != "" {
		ds = ds.Where(goqu.C("type").Eq(string(filter.Type)))
	}
	if filter.Date != nil {
		day := filter.Date.UTC()
		start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
		ds = ds.Where(
			goqu.C("date").Gte(start),
			goqu.C("date").Lt(start.AddDate(0, 0, 1)),
		)
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	entries := []*HistoryEntry{}
	if err := d.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return entries, nil
}

// ---------------------------------------------------------------------------
// Session tokens
// ---------------------------------------------------------------------------

// SaveToken stores the server-side record of an issued session.
func (d *Database) SaveToken(ctx context.Context, tok SessionToken) error {
	_, err := d.db.ExecContext(ctx,
		d.db.Rebind(`INSERT INTO tokens(id,user_id,issued_at,expires_at) VALUES(?,?,?,?)`),
		tok.ID, tok.UserID, tok.IssuedAt, tok.ExpiresAt)
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// FindToken returns the stored token with id if it has not expired at now.
// A missing or expired token yields ErrUnauthorized.
func (d *Database) FindToken(ctx context.Context, id string, now time.Time) (*SessionToken, error) {
	var tok SessionToken
	err := d.db.GetContext(ctx, &tok,
		d.db.Rebind(`SELECT id,user_id,issued_at,expires_at FROM tokens WHERE id=? AND expires_at > ?`),
		id, now.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("find token: %w", err)
	}
	return &tok, nil
}

// DeleteTokensForUser removes every stored session of a user and reports how
// many there were.
func (d *Database) DeleteTokensForUser(ctx context.Context, userID int64) (int64, error) {
	result, err := d.db.ExecContext(ctx, d.db.Rebind(`DELETE FROM tokens WHERE user_id=?`), userID)
	if err != nil {
		return 0, fmt.Errorf("delete tokens of user %d: %w", userID, err)
	}
	return result.RowsAffected()
}

// DeleteExpiredTokens removes tokens whose expiry is at or before now.
func (d *Database) DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx, d.db.Rebind(`DELETE FROM tokens WHERE expires_at <= ?`), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return result.RowsAffected()
}
