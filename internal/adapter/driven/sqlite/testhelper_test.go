package sqlite

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/ratingsync/internal/adapter/driven/secretbox"
)

// setupTestDB opens a migrated in-memory database named after the test, so
// parallel tests never share rows.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := NewMemoryDB(context.Background(), t.Name())
	require.NoError(t, err, "open test db")
	t.Cleanup(func() { _ = db.Close() })

	_, err = RunMigrations(db)
	require.NoError(t, err, "run migrations")
	return db
}

func testBox(t *testing.T) *secretbox.Box {
	t.Helper()
	box, err := secretbox.New(bytes.Repeat([]byte{0x5a}, secretbox.KeySize))
	require.NoError(t, err)
	return box
}
