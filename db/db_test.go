package db_test

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/wgfence/db"
	"go.hackfix.me/wgfence/db/queries"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()

	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	d, err := db.Open(t.Context(), fmt.Sprintf("file:wgfence-%x?mode=memory&cache=shared", rndName),
		func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) })
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	return d
}

func TestDBInit(t *testing.T) {
	t.Parallel()

	d := openTestDB(t)
	logger := slog.New(slog.DiscardHandler)

	version, err := queries.Version(d.NewContext(), d)
	require.NoError(t, err)
	assert.False(t, version.Valid)

	require.NoError(t, d.Init("v1.2.3", logger))

	version, err = queries.Version(d.NewContext(), d)
	require.NoError(t, err)
	assert.Equal(t, "v1.2.3", version.V)

	tables, err := queries.GetAllTables(d.NewContext(), d)
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{
		"interfaces":    {},
		"clients":       {},
		"acl_rules":     {},
		"acl_config":    {},
		"egress_config": {},
	}, tables)

	// Migrating an up-to-date schema is a no-op.
	require.NoError(t, d.Migrate(logger))
	tables2, err := queries.GetAllTables(d.NewContext(), d)
	require.NoError(t, err)
	assert.Equal(t, tables, tables2)
}
