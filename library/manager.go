package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// LibraryManager is the lending workflow: accounts, sessions, inventory and
// history, with the admin policy applied where it belongs.
type LibraryManager struct {
	db           *Database
	sessions     *SessionIssuer
	logger       *slog.Logger
	passwordCost int
}

// ManagerOption configures a LibraryManager.
type ManagerOption func(*LibraryManager)

// WithManagerLogger sets the logger for account and lending events.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(lm *LibraryManager) {
		if logger != nil {
			lm.logger = logger
		}
	}
}

// WithPasswordCost sets the bcrypt cost for new password hashes.
func WithPasswordCost(cost int) ManagerOption {
	return func(lm *LibraryManager) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			lm.passwordCost = cost
		}
	}
}

// NewLibraryManager wires the workflow over an open Database and a session
// issuer backed by it.
func NewLibraryManager(db *Database, sessions *SessionIssuer, opts ...ManagerOption) *LibraryManager {
	lm := &LibraryManager{
		db:           db,
		sessions:     sessions,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		passwordCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(lm)
	}
	return lm
}

// Close closes the underlying database.
func (lm *LibraryManager) Close() error { return lm.db.Close() }

// ------------------ Accounts ------------------

// RegisterInput is what a new user supplies.
type RegisterInput struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}

// LoginResult carries a fresh session token and the user's display name.
type LoginResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserName    string `json:"user_name"`
}

// NormalizeEmail trims and lower-cases an address so lookups are stable.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalid("malformed email %q", email)
	}
	return nil
}

// Register creates a user with a bcrypt-hashed password.
func (lm *LibraryManager) Register(ctx context.Context, in RegisterInput) (*User, error) {
	name := strings.TrimSpace(in.Name)
	email := NormalizeEmail(in.Email)
	if name == "" {
		return nil, invalid("name is required")
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if in.Password == "" {
		return nil, invalid("password is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), lm.passwordCost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, invalid("password longer than 72 bytes")
	}
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := lm.db.AddUser(ctx, name, email, string(hash), in.IsAdmin)
	if err != nil {
		return nil, err
	}
	lm.logger.Info("user registered", "user_id", u.ID, "is_admin", u.IsAdmin)
	return u, nil
}

// Login verifies credentials and opens a new session.
func (lm *LibraryManager) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	u, err := lm.db.GetUserByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		lm.logger.Warn("login rejected", "reason", "unknown email")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		lm.logger.Warn("login rejected", "reason", "password mismatch", "user_id", u.ID)
		return nil, ErrInvalidCredentials
	}

	token, err := lm.sessions.Issue(ctx, u)
	if err != nil {
		return nil, err
	}
	lm.logger.Info("user logged in", "user_id", u.ID)
	return &LoginResult{AccessToken: token, TokenType: "bearer", UserName: u.Name}, nil
}

// Authenticate resolves a bearer token into the caller's identity.
func (lm *LibraryManager) Authenticate(ctx context.Context, token string) (Identity, error) {
	return lm.sessions.Validate(ctx, token)
}

// Logout revokes every session of the caller, not just the current one.
func (lm *LibraryManager) Logout(ctx context.Context, id Identity) error {
	if id.UserID == 0 {
		return ErrUnauthorized
	}
	if err := lm.sessions.Revoke(ctx, id.UserID); err != nil {
		return err
	}
	lm.logger.Info("user logged out", "user_id", id.UserID)
	return nil
}

// PurgeExpiredSessions removes stale token rows.
func (lm *LibraryManager) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	return lm.sessions.PurgeExpired(ctx)
}

// ------------------ Access policy ------------------

// resolve maps an identity onto its user record.
func (lm *LibraryManager) resolve(ctx context.Context, id Identity) (*User, error) {
	if id.Email == "" {
		return nil, ErrUnauthorized
	}
	u, err := lm.db.GetUserByEmail(ctx, id.Email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// RequireAdmin returns the caller's user record if it carries the admin flag.
func (lm *LibraryManager) RequireAdmin(ctx context.Context, id Identity) (*User, error) {
	u, err := lm.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.IsAdmin {
		lm.logger.Warn("admin action denied", "user_id", u.ID)
		return nil, ErrAdminRequired
	}
	return u, nil
}

// ------------------ Inventory ------------------

// CreateBook adds an available book and returns it with the admin who added it.
func (lm *LibraryManager) CreateBook(ctx context.Context, nb NewBook, id Identity) (*Book, *User, error) {
	admin, err := lm.RequireAdmin(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	nb.Title = strings.TrimSpace(nb.Title)
	nb.Author = strings.TrimSpace(nb.Author)
	if nb.Title == "" || nb.Author == "" {
		return nil, nil, invalid("title and author are required")
	}
	if nb.Count < 0 {
		return nil, nil, invalid("count must not be negative")
	}

	b, err := lm.db.AddBook(ctx, nb)
	if err != nil {
		return nil, nil, err
	}
	lm.logger.Info("book created", "book_id", b.ID, "admin_id", admin.ID)
	return b, admin, nil
}

// DeleteBook removes a book, borrowed or not.
func (lm *LibraryManager) DeleteBook(ctx context.Context, bookID int64, id Identity) error {
	admin, err := lm.RequireAdmin(ctx, id)
	if err != nil {
		return err
	}
	if err := lm.db.DeleteBook(ctx, bookID); err != nil {
		return err
	}
	lm.logger.Info("book deleted", "book_id", bookID, "admin_id", admin.ID)
	return nil
}

func (lm *LibraryManager) GetBook(ctx context.Context, bookID int64) (*Book, error) {
	return lm.db.GetBook(ctx, bookID)
}

func (lm *LibraryManager) ListBooks(ctx context.Context, page Page) ([]*Book, error) {
	page, err := page.normalize()
	if err != nil {
		return nil, err
	}
	return lm.db.ListBooks(ctx, page)
}

// ListBorrowedBooks returns the books the caller currently holds.
func (lm *LibraryManager) ListBorrowedBooks(ctx context.Context, id Identity, page Page) ([]*Book, error) {
	page, err := page.normalize()
	if err != nil {
		return nil, err
	}
	u, err := lm.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	return lm.db.ListBooksBorrowedBy(ctx, u.Email, page)
}

// ------------------ Circulation ------------------

// BorrowBook lends an available book to the caller. Any authenticated user
// may borrow.
func (lm *LibraryManager) BorrowBook(ctx context.Context, bookID int64, id Identity) (*HistoryEntry, error) {
	u, err := lm.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	entry, err := lm.db.BorrowBook(ctx, bookID, u.Email)
	if err != nil {
		return nil, err
	}
	lm.logger.Info("book borrowed", "book_id", bookID, "user_id", u.ID)
	return entry, nil
}

// ReturnBook takes a book back from the caller, who must be its borrower.
func (lm *LibraryManager) ReturnBook(ctx context.Context, bookID int64, id Identity) (*HistoryEntry, error) {
	u, err := lm.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	entry, err := lm.db.ReturnBook(ctx, bookID, u.Email)
	if err != nil {
		return nil, err
	}
	lm.logger.Info("book returned", "book_id", bookID, "user_id", u.ID)
	return entry, nil
}

// ------------------ History ------------------

// QueryHistory lists borrow/return events matching filter. Admin only.
func (lm *LibraryManager) QueryHistory(ctx context.Context, filter HistoryFilter, id Identity) ([]*HistoryEntry, error) {
	if _, err := lm.RequireAdmin(ctx, id); err != nil {
		return nil, err
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, invalid("type must be %q or %q", HistoryBorrow, HistoryReturn)
	}
	filter.Email = NormalizeEmail(filter.Email)
	return lm.db.QueryHistory(ctx, filter)
}
