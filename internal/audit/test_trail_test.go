package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrailAppendAndReadByDay(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "audit")
	tr, err := Open(dir)
	require.NoError(t, err)
	require.NotNil(t, tr)

	day1 := time.Date(2025, 1, 1, 23, 59, 0, 0, time.UTC)
	tr.now = func() time.Time { return day1 }
	require.NoError(t, tr.Append(
		Event{Kind: KindRejected, PassID: "p1", Key: "bad.json", Reason: "missing status"},
		Event{Kind: KindPassOK, PassID: "p1", Fields: map[string]any{"accepted": 3}},
	))

	day2 := day1.Add(2 * time.Minute)
	tr.now = func() time.Time { return day2 }
	require.NoError(t, tr.Append(Event{Kind: KindPassFailed, PassID: "p2", Reason: "store unreachable"}))

	got, err := tr.Read(day1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, KindRejected, got[0].Kind)
	assert.Equal(t, "bad.json", got[0].Key)
	assert.Equal(t, day1.Format(time.RFC3339Nano), got[0].Timestamp)
	assert.EqualValues(t, 3, got[1].Fields["accepted"])

	got, err = tr.Read(day2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p2", got[0].PassID)

	got, err = tr.Read(day1.AddDate(0, 0, -7))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTrailSkipsCorruptLines(t *testing.T) {
	tr, err := Open(t.TempDir())
	require.NoError(t, err)
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	require.NoError(t, tr.Append(Event{Kind: KindUnavailable, Key: "a.json"}))

	f, err := os.OpenFile(tr.filePath(now), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, tr.Append(Event{Kind: KindUnavailable, Key: "b.json"}))

	got, err := tr.Read(now)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b.json", got[1].Key)
}

func TestTrailDisabled(t *testing.T) {
	for _, dir := range []string{"", "  ", "off", "OFF"} {
		tr, err := Open(dir)
		require.NoError(t, err)
		assert.Nil(t, tr)
		assert.NoError(t, tr.Append(Event{Kind: KindPassOK}))
		got, err := tr.Read(time.Now())
		assert.NoError(t, err)
		assert.Nil(t, got)
	}
}
