package history

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openRepo(t *testing.T) Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=rwc", filepath.Join(t.TempDir(), "history.db"))
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, EnsureSchema(db))
	require.NoError(t, EnsureSchema(db), "schema creation is idempotent")
	return NewSQLiteRepo(db)
}

func TestRecordAndList(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 3, 6, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Record(ctx, Attempt{
		Collection: "tasks-ops.json", TaskID: "t1", TaskName: "digest", Kind: "cron",
		RequestID: "req-1", StartedAt: base, FinishedAt: base.Add(120 * time.Millisecond),
		Success: true, StatusCode: 200,
	}))
	require.NoError(t, repo.Record(ctx, Attempt{
		Collection: "tasks-ops.json", TaskID: "t2", TaskName: "beat", Kind: "every",
		RequestID: "req-2", StartedAt: base.Add(time.Minute), FinishedAt: base.Add(time.Minute),
		Success: false, StatusCode: 500, Error: "HTTP 500 error: boom",
	}))
	require.NoError(t, repo.Record(ctx, Attempt{
		Collection: "tasks-ops.json", TaskID: "t1", TaskName: "digest", Kind: "cron",
		StartedAt: base.Add(2 * time.Minute), FinishedAt: base.Add(2 * time.Minute), Success: true,
	}))

	recent, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "t1", recent[0].TaskID)
	assert.Equal(t, "t2", recent[1].TaskID)
	assert.False(t, recent[1].Success)
	assert.Equal(t, 500, recent[1].StatusCode)
	assert.Equal(t, "HTTP 500 error: boom", recent[1].Error)
	assert.True(t, base.Equal(recent[2].StartedAt))
	assert.Equal(t, 120*time.Millisecond, recent[2].FinishedAt.Sub(recent[2].StartedAt))
	assert.Equal(t, "req-1", recent[2].RequestID)
	for _, a := range recent {
		assert.NotEmpty(t, a.ID)
	}

	limited, err := repo.ListRecent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	byTask, err := repo.ListByTask(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, byTask, 2)
	assert.True(t, byTask[0].StartedAt.After(byTask[1].StartedAt))

	none, err := repo.ListByTask(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPrune(t *testing.T) {
	repo := openRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 3, 6, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		at := base.Add(time.Duration(i) * 24 * time.Hour)
		require.NoError(t, repo.Record(ctx, Attempt{Collection: "c", TaskID: "t", StartedAt: at, FinishedAt: at, Success: true}))
	}

	n, err := repo.Prune(ctx, base.Add(48*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, left, 2)
}
