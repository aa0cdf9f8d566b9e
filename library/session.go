package library

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const DefaultTokenTTL = 30 * time.Minute

// Claims is the payload of a session token. The subject is the user's email.
type Claims struct {
	UserID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// TokenStore persists issued sessions so they can be revoked.
type TokenStore interface {
	SaveToken(ctx context.Context, tok SessionToken) error
	FindToken(ctx context.Context, id string, now time.Time) (*SessionToken, error)
	DeleteTokensForUser(ctx context.Context, userID int64) (int64, error)
	DeleteExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// SessionIssuer signs, validates and revokes bearer session tokens.
// A token is valid only if its HS256 signature checks out, it has not expired
// and its id is still present in the store.
type SessionIssuer struct {
	store  TokenStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// SessionOption configures a SessionIssuer.
type SessionOption func(*SessionIssuer)

// WithTokenTTL sets how long issued tokens stay valid. Non-positive values
// keep the default.
func WithTokenTTL(ttl time.Duration) SessionOption {
	return func(s *SessionIssuer) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSessionClock overrides the time source, mainly for tests.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(s *SessionIssuer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSessionLogger sets the logger used for rejected tokens.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *SessionIssuer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSessionIssuer builds an issuer signing with secret.
func NewSessionIssuer(store TokenStore, secret []byte, opts ...SessionOption) *SessionIssuer {
	s := &SessionIssuer{
		store:  store,
		secret: secret,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the lifetime given to new tokens.
func (s *SessionIssuer) TTL() time.Duration { return s.ttl }

// Issue signs a new token for u and records it in the store.
func (s *SessionIssuer) Issue(ctx context.Context, u *User) (string, error) {
	if len(s.secret) == 0 {
		return "", fmt.Errorf("%w: no signing key configured", ErrInvalidCredentials)
	}

	issuedAt := s.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.ttl)
	tokenID := uuid.NewString()

	claims := &Claims{
		UserID: u.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			Subject:   u.Email,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	if err := s.store.SaveToken(ctx, SessionToken{
		ID:        tokenID,
		UserID:    u.ID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}); err != nil {
		return "", err
	}
	return signed, nil
}

// Validate checks signature, expiry and revocation and returns the caller's
// identity. Every rejection is reported as ErrUnauthorized.
func (s *SessionIssuer) Validate(ctx context.Context, tokenStr string) (Identity, error) {
	claims, err := s.parse(tokenStr)
	if err != nil {
		s.logger.Warn("session token rejected", "reason", err.Error())
		return Identity{}, ErrUnauthorized
	}

	if _, err := s.store.FindToken(ctx, claims.ID, s.now()); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			s.logger.Warn("session token rejected", "reason", "revoked or unknown", "user_id", claims.UserID)
		}
		return Identity{}, err
	}

	return Identity{UserID: claims.UserID, Email: claims.Subject, TokenID: claims.ID}, nil
}

func (s *SessionIssuer) parse(tokenStr string) (*Claims, error) {
	if len(s.secret) == 0 {
		return nil, errors.New("no signing key configured")
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if c.ID == "" || c.Subject == "" {
		return nil, errors.New("token lacks id or subject")
	}
	return c, nil
}

// Revoke deletes every stored session of the user, logging them all out.
func (s *SessionIssuer) Revoke(ctx context.Context, userID int64) error {
	n, err := s.store.DeleteTokensForUser(ctx, userID)
	if err != nil {
		return err
	}
	s.logger.Debug("sessions revoked", "user_id", userID, "count", n)
	return nil
}

// PurgeExpired drops stored tokens that can no longer validate.
func (s *SessionIssuer) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredTokens(ctx, s.now())
}
