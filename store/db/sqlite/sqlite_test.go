package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/platewise/platewise/store"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	driver, err := NewDriver(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = driver.Close() })
	require.NoError(t, driver.Migrate(context.Background()))
	return driver
}

func TestUpsertAndGetSession(t *testing.T) {
	driver := newTestDriver(t)
	ctx := context.Background()

	row := &store.SessionRow{
		ID:         "sess-1",
		UserID:     7,
		ThreadID:   "thread_abc1",
		Transcript: `[{"role":"user","content":"hi"}]`,
		FollowUps:  `["tip"]`,
		UpdatedTs:  100,
	}
	require.NoError(t, driver.UpsertSession(ctx, row))

	got, err := driver.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, row, got)

	// Upsert replaces in place.
	row.ThreadID = "thread_def2"
	row.UpdatedTs = 200
	require.NoError(t, driver.UpsertSession(ctx, row))

	got, err = driver.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, "thread_def2", got.ThreadID)
	require.EqualValues(t, 200, got.UpdatedTs)
}

func TestGetUnknownSession(t *testing.T) {
	driver := newTestDriver(t)

	got, err := driver.GetSession(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDeleteSessionsBefore(t *testing.T) {
	driver := newTestDriver(t)
	ctx := context.Background()

	require.NoError(t, driver.UpsertSession(ctx, &store.SessionRow{ID: "old", UpdatedTs: 10}))
	require.NoError(t, driver.UpsertSession(ctx, &store.SessionRow{ID: "fresh", UpdatedTs: 99}))

	n, err := driver.DeleteSessionsBefore(ctx, 50)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := driver.GetSession(ctx, "old")
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = driver.GetSession(ctx, "fresh")
	require.NoError(t, err)
	require.NotNil(t, got)
}
