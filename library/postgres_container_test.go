//go:build container
// +build container

package library

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const pgPassword = "library"

// setupPostgres starts a throwaway Postgres and returns a DSN template with a
// %s placeholder for the database name.
func setupPostgres(t *testing.T, ctx context.Context) string {
	t.Helper()

	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "library",
			"POSTGRES_PASSWORD": pgPassword,
			"POSTGRES_DB":       "library",
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		).WithDeadline(2 * time.Minute),
	}
	pg, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pg.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	host, err := pg.Host(ctx)
	require.NoError(t, err)
	port, err := pg.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://library:%s@%s:%s/%%s?sslmode=disable", pgPassword, host, port.Port())
}

func Test_Postgres_LendingWorkflow(t *testing.T) {
	ctx := context.Background()
	dsnFor := setupPostgres(t, ctx)

	admin, err := sqlx.Open(DriverPGX, fmt.Sprintf(dsnFor, "library"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })

	for _, driver := range []string{DriverPGX, DriverPostgres} {
		t.Run(driver, func(t *testing.T) {
			name := "lib_" + driver
			_, err := admin.ExecContext(ctx, "CREATE DATABASE "+name)
			require.NoError(t, err)

			db, err := Open(ctx, driver, fmt.Sprintf(dsnFor, name))
			require.NoError(t, err)
			t.Cleanup(func() { _ = db.Close() })

			version, err := db.SchemaVersion(ctx)
			require.NoError(t, err)
			assert.Equal(t, schemaVersion, version)

			exercisePostgres(t, ctx, db)
		})
	}
}

func exercisePostgres(t *testing.T, ctx context.Context, db *Database) {
	alice, err := db.AddUser(ctx, "Alice", "alice@x.com", "hash", true)
	require.NoError(t, err)
	_, err = db.AddUser(ctx, "Bob", "bob@y.com", "hash", false)
	require.NoError(t, err)

	_, err = db.AddUser(ctx, "Mallory", "alice@x.com", "hash", false)
	assert.ErrorIs(t, err, ErrEmailTaken)

	dune, err := db.AddBook(ctx, NewBook{Title: "Dune", Author: "Frank Herbert", Count: 1})
	require.NoError(t, err)

	_, err = db.BorrowBook(ctx, dune.ID, "bob@y.com")
	require.NoError(t, err)
	_, err = db.BorrowBook(ctx, dune.ID, "alice@x.com")
	assert.ErrorIs(t, err, ErrAlreadyBorrowed)
	_, err = db.ReturnBook(ctx, dune.ID, "alice@x.com")
	assert.ErrorIs(t, err, ErrNotBorrower)
	_, err = db.ReturnBook(ctx, dune.ID, "bob@y.com")
	require.NoError(t, err)
	_, err = db.BorrowBook(ctx, 9999, "bob@y.com")
	assert.ErrorIs(t, err, ErrBookNotFound)

	today := time.Now().UTC()
	entries, err := db.QueryHistory(ctx, HistoryFilter{BookTitle: "Dune", Date: &today})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, HistoryBorrow, entries[0].Type)
	assert.Equal(t, HistoryReturn, entries[1].Type)

	entries, err = db.QueryHistory(ctx, HistoryFilter{Email: "bob@y.com", Type: HistoryReturn})
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// Exactly one of several concurrent borrowers wins.
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := db.BorrowBook(ctx, dune.ID, "bob@y.com")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case !errors.Is(err, ErrAlreadyBorrowed):
				t.Errorf("unexpected borrow error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	now := time.Now().UTC()
	require.NoError(t, db.SaveToken(ctx, SessionToken{ID: "live", UserID: alice.ID, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, db.SaveToken(ctx, SessionToken{ID: "stale", UserID: alice.ID, IssuedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}))
	_, err = db.FindToken(ctx, "live", now)
	require.NoError(t, err)
	n, err := db.DeleteExpiredTokens(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = db.DeleteTokensForUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
