package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/mcpanel/internal/store"
)

func TestFactoryDSNSelection(t *testing.T) {
	_, err := NewFromDSN("")
	require.Error(t, err)

	_, err = NewFromDSN("mysql://root@localhost/db")
	require.Error(t, err)

	// sql.Open does not connect, so no server is needed
	pg, err := NewFromDSN("postgres://user@localhost/db")
	require.NoError(t, err)
	assert.Equal(t, "postgres", pg.(*store.DB).Dialect())
	_ = pg.Close()

	s1, err := NewFromDSN("sqlite://:memory:")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", s1.(*store.DB).Dialect())
	_ = s1.Close()

	s2, err := NewFromDSN(":memory:")
	require.NoError(t, err)
	_ = s2.Close()
}

func TestFactorySQLiteFileDSN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.db")
	st, err := NewFromDSN("sqlite://" + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.EnsureSchema(context.Background()))
	assert.FileExists(t, path)
}
