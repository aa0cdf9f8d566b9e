package library

import "time"

// User represents a registered library user.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"` // Don't serialize password hash
	IsAdmin      bool      `json:"is_admin" db:"is_admin"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Book represents a catalog entry and its current borrower, if any.
// Count is the number of copies the library owns; borrowing does not change it.
type Book struct {
	ID            int64   `json:"id" db:"id"`
	Title         string  `json:"title" db:"title"`
	Description   string  `json:"description" db:"description"`
	Author        string  `json:"author" db:"author"`
	Count         int     `json:"count" db:"count"`
	BorrowerEmail *string `json:"borrower_email" db:"borrower_email"`
}

// Available reports whether nobody currently holds the book.
func (b *Book) Available() bool { return b.BorrowerEmail == nil }

// Borrower returns the borrower's email, or "" when the book is available.
func (b *Book) Borrower() string {
	if b.BorrowerEmail == nil {
		return ""
	}
	return *b.BorrowerEmail
}

// SessionToken is the server-side record of an issued session.
type SessionToken struct {
	ID        string    `db:"id"`
	UserID    int64     `db:"user_id"`
	IssuedAt  time.Time `db:"issued_at"`
	ExpiresAt time.Time `db:"expires_at"`
}

// HistoryType is the kind of event recorded in the history ledger.
type HistoryType string

const (
	HistoryBorrow HistoryType = "borrow"
	HistoryReturn HistoryType = "return"
)

// Valid reports whether t is one of the known event types.
func (t HistoryType) Valid() bool {
	return t == HistoryBorrow || t == HistoryReturn
}

// HistoryEntry is an immutable audit record of a borrow or return. Title and
// email are snapshots taken when the event happened.
type HistoryEntry struct {
	ID        int64       `json:"id" db:"id"`
	UserEmail string      `json:"user_email" db:"user_email"`
	BookID    int64       `json:"book_id" db:"book_id"`
	BookTitle string      `json:"book_title" db:"book_title"`
	Type      HistoryType `json:"type" db:"type"`
	Date      time.Time   `json:"date" db:"date"`
}

// Identity is the authenticated caller, as carried by a valid session token.
type Identity struct {
	UserID  int64
	Email   string
	TokenID string
}

// Page is an offset/limit window over an ordered listing.
type Page struct {
	Skip  int
	Limit int
}

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

func (p Page) normalize() (Page, error) {
	if p.Skip < 0 {
		return p, invalid("skip must not be negative")
	}
	if p.Limit < 0 || p.Limit > MaxPageLimit {
		return p, invalid("limit must be between 0 and %d", MaxPageLimit)
	}
	if p.Limit == 0 {
		p.Limit = DefaultPageLimit
	}
	return p, nil
}

// NewBook holds the fields an admin supplies when adding a book.
type NewBook struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description" yaml:"description"`
	Author      string `json:"author" yaml:"author"`
	Count       int    `json:"count" yaml:"count"`
}

// HistoryFilter narrows a history query. Empty fields are ignored; the rest
// are combined with AND. Date is a calendar day in UTC.
type HistoryFilter struct {
	Email     string
	BookTitle string
	Type      HistoryType
	Date      *time.Time
}
