package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteCreatesSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "data", "worker.db")

	db, err := OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO revoked_tasks(task_id, revoked_at) VALUES('t-1', '2026-01-01T00:00:00Z')`)
	assert.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM revoked_tasks`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestOpenSQLiteEmptyPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "")
	assert.Error(t, err)
}

func TestBootstrapIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "worker.db")

	db, err := OpenSQLite(context.Background(), dbPath)
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, BootstrapSQLite(context.Background(), db))
}
