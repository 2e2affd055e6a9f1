package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loykin/mcpanel/internal/store/storetest"
)

func TestSQLiteStore(t *testing.T) {
	db, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))

	storetest.Run(t, db)
}

func TestSQLiteSchemaIsIdempotentOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcpanel.db")
	ctx := context.Background()

	db, err := New(path)
	require.NoError(t, err)
	require.NoError(t, db.EnsureSchema(ctx))
	require.NoError(t, db.EnsureSchema(ctx))
	require.NoError(t, db.Ping(ctx))
	require.NoError(t, db.Close())

	again, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = again.Close() })
	require.NoError(t, again.EnsureSchema(ctx))
	ids, err := again.ServerIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestSQLiteEmptyPath(t *testing.T) {
	_, err := New("  ")
	require.Error(t, err)
}
