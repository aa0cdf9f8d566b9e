package library

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newIssuer(t *testing.T, secret []byte) (*SessionIssuer, *Database, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	db := tempDB(t)
	return NewSessionIssuer(db, secret, WithSessionClock(clock.Now)), db, clock
}

func Test_SessionIssuer_IssueAndValidate(t *testing.T) {
	// setup
	ctx := context.Background()
	issuer, db, _ := newIssuer(t, testSecret)
	user := addUser(t, db, "alice@x.com")

	// act
	token, err := issuer.Issue(ctx, user)
	require.NoError(t, err)
	id, err := issuer.Validate(ctx, token)

	// assert
	require.NoError(t, err)
	assert.Equal(t, user.ID, id.UserID)
	assert.Equal(t, "alice@x.com", id.Email)
	assert.NotEmpty(t, id.TokenID)
	assert.Equal(t, DefaultTokenTTL, issuer.TTL())
}

func Test_SessionIssuer_Issue_WithoutSecret(t *testing.T) {
	ctx := context.Background()
	issuer, db, _ := newIssuer(t, nil)
	user := addUser(t, db, "alice@x.com")

	_, err := issuer.Issue(ctx, user)

	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func Test_SessionIssuer_Validate_Expired(t *testing.T) {
	ctx := context.Background()
	issuer, db, clock := newIssuer(t, testSecret)
	token, err := issuer.Issue(ctx, addUser(t, db, "alice@x.com"))
	require.NoError(t, err)

	clock.Advance(29 * time.Minute)
	_, err = issuer.Validate(ctx, token)
	assert.NoError(t, err, "token should still be valid before expiry")

	clock.Advance(2 * time.Minute)
	_, err = issuer.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrUnauthorized, "token should expire after 30 minutes")
}

func Test_SessionIssuer_Validate_RejectsTampering(t *testing.T) {
	ctx := context.Background()
	issuer, db, clock := newIssuer(t, testSecret)
	user := addUser(t, db, "alice@x.com")
	token, err := issuer.Issue(ctx, user)
	require.NoError(t, err)

	otherIssuer := NewSessionIssuer(db, []byte("other-secret"), WithSessionClock(clock.Now))
	forged, err := otherIssuer.Issue(ctx, user)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)
	swappedSig := parts[0] + "." + parts[1] + "." + strings.Split(forged, ".")[2]

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": user.Email, "uid": user.ID, "jti": "x", "exp": clock.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, candidate := range map[string]string{
		"foreign key":     forged,
		"swapped sig":     swappedSig,
		"alg none":        noneToken,
		"garbage":         "not-a-token",
		"empty":           "",
		"truncated token": parts[0] + "." + parts[1],
	} {
		t.Run(name, func(t *testing.T) {
			_, err := issuer.Validate(ctx, candidate)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func Test_SessionIssuer_Revoke(t *testing.T) {
	ctx := context.Background()
	issuer, db, _ := newIssuer(t, testSecret)
	alice := addUser(t, db, "alice@x.com")
	bob := addUser(t, db, "bob@x.com")

	first, err := issuer.Issue(ctx, alice)
	require.NoError(t, err)
	second, err := issuer.Issue(ctx, alice)
	require.NoError(t, err)
	bobs, err := issuer.Issue(ctx, bob)
	require.NoError(t, err)

	require.NoError(t, issuer.Revoke(ctx, alice.ID))

	_, err = issuer.Validate(ctx, first)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = issuer.Validate(ctx, second)
	assert.ErrorIs(t, err, ErrUnauthorized, "logout revokes every session of the user")
	_, err = issuer.Validate(ctx, bobs)
	assert.NoError(t, err, "other users keep their sessions")
}

func Test_SessionIssuer_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	issuer, db, clock := newIssuer(t, testSecret)
	user := addUser(t, db, "alice@x.com")

	_, err := issuer.Issue(ctx, user)
	require.NoError(t, err)
	clock.Advance(time.Hour)
	fresh, err := issuer.Issue(ctx, user)
	require.NoError(t, err)

	purged, err := issuer.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = issuer.Validate(ctx, fresh)
	assert.NoError(t, err)
}

func Test_SessionIssuer_CustomTTL(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	db := tempDB(t)
	issuer := NewSessionIssuer(db, testSecret, WithSessionClock(clock.Now), WithTokenTTL(5*time.Minute))
	token, err := issuer.Issue(ctx, addUser(t, db, "alice@x.com"))
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	_, err = issuer.Validate(ctx, token)

	assert.ErrorIs(t, err, ErrUnauthorized)
}
