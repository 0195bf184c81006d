package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bud42069/AT-1000/internal/events"
)

func TestJournalAppendRecent(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "data", "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.Append(events.New(ts, events.Submitted{OrderID: "a", Price: 100, Attempt: 1})))
	require.NoError(t, j.Append(events.New(ts, events.Replaced{OldID: "a", NewID: "b", Price: 101, Attempt: 2})))
	require.NoError(t, j.Append(events.New(ts, events.KillSwitchData{Cancelled: 1, Reason: "manual"})))

	recent, err := j.Recent(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, events.OrderReplaced, recent[0].Type)
	assert.Equal(t, events.KillSwitch, recent[1].Type)
	assert.True(t, recent[0].Timestamp.Equal(ts))

	forB, err := j.ForOrder(context.Background(), "b")
	require.NoError(t, err)
	require.Len(t, forB, 1)
	assert.Equal(t, "b", forB[0].Data.(events.Replaced).NewID)
}

func TestJournalInMemory(t *testing.T) {
	j, err := Open(":memory:")
	require.NoError(t, err)
	defer j.Close()

	recent, err := j.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("")
	require.Error(t, err)
}
