package testutil

import (
	"testing"

	"shareit/internal/blob"
	"shareit/internal/database"
	"shareit/internal/shareit"
)

// TestEnv bundles a Service with the test doubles behind it.
type TestEnv struct {
	Service     *shareit.Service
	Accounts    *shareit.AccountStore
	Catalog     *shareit.Catalog
	Blobs       *blob.MemoryStore
	Snapshotter *MemorySnapshotter
	Journal     *MemoryJournal
	Clock       *StubClock
	IDs         *StubIDGenerator
}

// NewTestEnv creates a Service over in-memory stores, a FixedClock and a
// StubIDGenerator.
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	env := &TestEnv{
		Blobs:       blob.NewMemoryStore(),
		Snapshotter: NewMemorySnapshotter(),
		Journal:     NewMemoryJournal(),
		Clock:       FixedClock(),
		IDs:         NewStubIDGenerator(),
	}
	logger := shareit.NewNopLogger()
	env.Accounts = shareit.NewAccountStore(env.Snapshotter, PlainHasher{}, env.Clock, logger, 0)
	env.Catalog = shareit.NewCatalog(env.Journal, env.Clock, logger)
	env.Service = shareit.NewService(env.Accounts, env.Catalog, env.Blobs, logger, env.IDs)
	return env
}

// MustRegister registers username with password "pw-<username>".
func (e *TestEnv) MustRegister(t *testing.T, usernames ...string) {
	t.Helper()
	for _, u := range usernames {
		if err := e.Accounts.Register(u, "pw-"+u, u+"@example.com"); err != nil {
			t.Fatalf("Register(%s) error = %v", u, err)
		}
	}
}

// NewTestDatabase creates a new in-memory SQLite database with migrations
// applied. The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) *database.SQLiteDatabase {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
