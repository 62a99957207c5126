package ingest

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testStore(t *testing.T) *Store {
	store, err := Open(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	return store
}

func ptr(v float64) *float64 { return &v }

func TestStorePutAndLoad(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Sample{Ts: "1700000000", TempC: ptr(20.5), RhPct: ptr(48)}))
	require.NoError(t, store.Put(ctx, &Sample{Ts: "1700000060", TempC: ptr(20.7)}))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	table, err := store.LoadTable(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, table.Rows())
	assert.Equal(t, []string{"1700000000", "1700000060"}, table.Timestamps)
	assert.Equal(t, 20.5, table.Columns["temp_c"][0])
	assert.Equal(t, 48.0, table.Columns["rh_pct"][0])
	// The second sample did not report humidity.
	assert.True(t, math.IsNaN(table.Columns["rh_pct"][1]))
	// Channels never reported still exist as all-NaN columns.
	assert.True(t, math.IsNaN(table.Columns["dust_ugm3"][0]))
}

func TestStoreUpsertLastWriteWins(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Sample{Ts: "1700000000", DeviceID: "dev-1", TempC: ptr(19)}))
	require.NoError(t, store.Put(ctx, &Sample{Ts: "1700000000", DeviceID: "dev-1", TempC: ptr(20)}))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	table, err := store.LoadTable(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20.0, table.Columns["temp_c"][0])
}

func TestStoreSameInstantDifferentDevices(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Sample{Ts: "1700000000", DeviceID: "dev-1", TempC: ptr(19)}))
	require.NoError(t, store.Put(ctx, &Sample{Ts: "1700000000", DeviceID: "dev-2", TempC: ptr(21)}))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestStoreImportCSV(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "export.csv")
	csv := "ts,temp_c,rh_pct,tvoc_ppb\n" +
		"1700000000,20.5,48,120\n" +
		"1700000060,20.7,,125\n" +
		"1700000120,not-a-number,49,130\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	imported, err := store.ImportCSV(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 3, imported)

	table, err := store.LoadTable(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, table.Rows())
	// Empty and unparseable cells stay undefined rather than zero.
	assert.True(t, math.IsNaN(table.Columns["rh_pct"][1]))
	assert.True(t, math.IsNaN(table.Columns["temp_c"][2]))
	assert.Equal(t, 130.0, table.Columns["tvoc_ppb"][2])
	// Column absent from the file entirely.
	assert.True(t, math.IsNaN(table.Columns["eco2_ppm"][0]))
}

func TestStoreImportCSVRequiresTsColumn(t *testing.T) {
	store := testStore(t)
	path := filepath.Join(t.TempDir(), "broken.csv")
	require.NoError(t, os.WriteFile(path, []byte("time,temp_c\n1,2\n"), 0o644))

	_, err := store.ImportCSV(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ts")
}

func TestStoreLoadTableEmpty(t *testing.T) {
	store := testStore(t)
	table, err := store.LoadTable(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, table.Rows())
}
