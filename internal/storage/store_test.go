package storage_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pm25forecast/pm25forecast/internal/database"
	"github.com/pm25forecast/pm25forecast/internal/storage"
	"github.com/pm25forecast/pm25forecast/internal/table"
)

func newTestStore(t *testing.T, chunkSize int) *storage.Store {
	t.Helper()
	db, err := database.Connect(context.Background(), database.DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return storage.New(storage.Config{
		DB:        db,
		Driver:    database.DriverSQLite,
		Logger:    zerolog.Nop(),
		ChunkSize: chunkSize,
	})
}

func sampleTable(t *testing.T, n int) *table.Table {
	t.Helper()
	tbl := table.New("城市", "年份", "PM2.5", "质量等级")
	for i := 0; i < n; i++ {
		require.NoError(t, tbl.Append("北京", int64(2024), float64(i)+0.5, "良"))
	}
	return tbl
}

func TestSave_CreatesTableWithInferredTypes(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	n, err := store.Save(ctx, "history_data", sampleTable(t, 3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	info, err := store.TableInfo(ctx, "history_data")
	require.NoError(t, err)
	require.Len(t, info, 5)

	assert.Equal(t, "id", info[0].Name)
	assert.True(t, info[0].PrimaryKey)
	assert.Equal(t, "TEXT", info[1].Type)
	assert.Equal(t, "INTEGER", info[2].Type)
	assert.Equal(t, "REAL", info[3].Type)
	assert.Equal(t, "TEXT", info[4].Type)
}

func TestSave_ChunksAllRows(t *testing.T) {
	store := newTestStore(t, 2)
	ctx := context.Background()

	n, err := store.Save(ctx, "history_data", sampleTable(t, 5))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	result, err := store.Query(ctx, `SELECT COUNT(*) AS n FROM history_data`)
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Get(0, "n"))
}

func TestSave_AppendsWithoutMigrating(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	_, err := store.Save(ctx, "history_data", sampleTable(t, 1))
	require.NoError(t, err)

	extra := table.New("城市", "新列")
	require.NoError(t, extra.Append("天津", "x"))

	_, err = store.Save(ctx, "history_data", extra)
	assert.Error(t, err)
}

func TestSave_EmptyTableIsNoop(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	n, err := store.Save(ctx, "realtime_data", table.New("城市"))
	require.NoError(t, err)
	assert.Zero(t, n)

	exists, err := store.TableExists(ctx, "realtime_data")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestQueryAndListTables(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	_, err := store.Save(ctx, "b_table", sampleTable(t, 2))
	require.NoError(t, err)
	_, err = store.Save(ctx, "a_table", sampleTable(t, 1))
	require.NoError(t, err)

	names, err := store.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a_table", "b_table"}, names)

	result, err := store.Query(ctx, `SELECT "城市", "PM2.5" FROM b_table ORDER BY id`)
	require.NoError(t, err)
	assert.Equal(t, []string{"城市", "PM2.5"}, result.Columns)
	assert.Equal(t, "北京", result.Get(0, "城市"))
	assert.Equal(t, 1.5, result.Get(1, "PM2.5"))
}

func TestDistinctKeys(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()

	tbl := table.New("城市", "日期", "小时")
	require.NoError(t, tbl.Append("北京", "2024-01-01", int64(8)))
	require.NoError(t, tbl.Append("天津", "2024-01-01", nil))
	_, err := store.Save(ctx, "realtime_data", tbl)
	require.NoError(t, err)

	keys, err := store.DistinctKeys(ctx, "realtime_data", []string{"城市", "日期", "小时"})
	require.NoError(t, err)

	assert.Len(t, keys, 2)
	assert.Contains(t, keys, "北京|2024-01-01|8")
	assert.Contains(t, keys, "天津|2024-01-01|")
}

func TestReadOnly(t *testing.T) {
	tests := []struct {
		query string
		want  string
		ok    bool
	}{
		{"SELECT * FROM a", "SELECT * FROM a", true},
		{"  select 1;  ", "select 1", true},
		{"WITH x AS (SELECT 1) SELECT * FROM x", "WITH x AS (SELECT 1) SELECT * FROM x", true},
		{"DELETE FROM a", "", false},
		{"SELECT 1; DROP TABLE a", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := storage.ReadOnly(tt.query)
			if !tt.ok {
				assert.ErrorIs(t, err, storage.ErrNotReadOnly)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryPage(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()
	_, err := store.Save(ctx, "history_data", sampleTable(t, 45))
	require.NoError(t, err)

	page, err := store.QueryPage(ctx, "SELECT * FROM history_data ORDER BY id", 3, 0)
	require.NoError(t, err)

	assert.Equal(t, 45, page.Total)
	assert.Equal(t, 3, page.Pages)
	assert.Equal(t, storage.DefaultPageSize, page.Size)
	require.Equal(t, 5, page.Table.Len())
	assert.Equal(t, 40.5, page.Table.Get(0, "PM2.5"))

	_, err = store.QueryPage(ctx, "DROP TABLE history_data", 1, 10)
	assert.ErrorIs(t, err, storage.ErrNotReadOnly)
}

func TestSummaries(t *testing.T) {
	store := newTestStore(t, 0)
	ctx := context.Background()
	_, err := store.Save(ctx, "realtime_data", sampleTable(t, 3))
	require.NoError(t, err)

	summaries, err := store.Summaries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []storage.TableSummary{{Name: "realtime_data", Rows: 3}}, summaries)
}
