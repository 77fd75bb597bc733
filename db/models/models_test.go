package models_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"go.hackfix.me/wgfence/db"
	"go.hackfix.me/wgfence/db/models"
)

var timeNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func timeNowFn() time.Time {
	return timeNow
}

// newTestDB returns an initialized in-memory database with a single wg0
// interface.
func newTestDB(t *testing.T) (*db.DB, context.Context) {
	t.Helper()

	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	ctx := t.Context()
	d, err := db.Open(ctx,
		fmt.Sprintf("file:wgfence-%x?mode=memory&cache=shared", rndName), timeNowFn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	require.NoError(t, d.Init("test", slog.New(slog.DiscardHandler)))

	iface := &models.Interface{Name: "wg0", Subnet: netip.MustParsePrefix("10.8.0.0/24")}
	require.NoError(t, iface.Save(ctx, d, false))

	return d, ctx
}
