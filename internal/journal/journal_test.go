package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tickd/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	for _, driver := range []string{"", "none", "  NONE  "} {
		j, err := Open(Config{Driver: driver}, logx.Nop())
		require.NoError(t, err)
		assert.Nil(t, j)
	}

	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	require.Error(t, err)
}

func TestSQLiteRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs.db")
	j, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: 200 * time.Millisecond}, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, j)

	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	runs := []Run{
		{ID: "a", Name: "heartbeat", Handle: 1, Started: base, Duration: 5 * time.Millisecond},
		{ID: "b", Name: "backup", Handle: 2, Started: base.Add(time.Second), Duration: 90 * time.Millisecond, Error: "exit status 1"},
		{ID: "c", Name: "heartbeat", Handle: 1, Started: base.Add(2 * time.Second), Duration: 4 * time.Millisecond},
	}
	for _, r := range runs {
		require.NoError(t, j.AppendRun(ctx, r))
	}

	t.Run("recent runs are newest first", func(t *testing.T) {
		got, err := j.RecentRuns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "c", got[0].ID)
		assert.Equal(t, "b", got[1].ID)
		assert.Equal(t, "a", got[2].ID)

		assert.True(t, got[1].Failed())
		assert.Equal(t, "exit status 1", got[1].Error)
		assert.False(t, got[0].Failed())
		assert.Equal(t, uint64(2), got[1].Handle)
		assert.True(t, got[2].Started.Equal(base))
		assert.Equal(t, 90*time.Millisecond, got[1].Duration)
	})

	t.Run("limit caps the result", func(t *testing.T) {
		got, err := j.RecentRuns(ctx, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "c", got[0].ID)
	})

	t.Run("prune removes only older rows", func(t *testing.T) {
		removed, err := j.PruneBefore(ctx, base.Add(1500*time.Millisecond))
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)

		got, err := j.RecentRuns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "c", got[0].ID)
	})

	require.NoError(t, j.Close())

	t.Run("rows survive reopen", func(t *testing.T) {
		j2, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
		require.NoError(t, err)
		defer j2.Close()

		got, err := j2.RecentRuns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "c", got[0].ID)
	})
}

func TestSQLiteAssignsIDAndStart(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "runs.db")
	j, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	require.NoError(t, j.AppendRun(ctx, Run{Name: "adhoc"}))

	got, err := j.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].Started.IsZero())
}

func TestMemoryKeepsBoundedWindow(t *testing.T) {
	t.Parallel()

	j, err := Open(Config{Driver: "memory", Keep: 3}, logx.Nop())
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	for i := 0; i < 5; i++ {
		require.NoError(t, j.AppendRun(ctx, Run{
			ID:      string(rune('a' + i)),
			Name:    "tick",
			Started: base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := j.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "e", got[0].ID)
	assert.Equal(t, "d", got[1].ID)
	assert.Equal(t, "c", got[2].ID)
}

func TestMemoryPrune(t *testing.T) {
	t.Parallel()

	j, err := Open(Config{Driver: "memory"}, logx.Nop())
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)
	for i := 0; i < 4; i++ {
		require.NoError(t, j.AppendRun(ctx, Run{
			Name:    "tick",
			Started: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	removed, err := j.PruneBefore(ctx, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	got, err := j.RecentRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
