package consolidate

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controlroom/internal/snapshot"
)

var t0 = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func fixedClock(ts time.Time) func() time.Time { return func() time.Time { return ts } }

func snap(project string, ts time.Time, key string) snapshot.Snapshot {
	return snapshot.Snapshot{
		Project:   project,
		Timestamp: ts,
		Status:    snapshot.StatusOK,
		SourceRef: snapshot.SourceRef{Key: key},
	}
}

func TestIngestLatestWins(t *testing.T) {
	c := New(Options{Now: fixedClock(t0)})
	s1 := snap("ops-cell-lite", t0.Add(-10*time.Minute), "ops-1.json")
	s2 := snap("ops-cell-lite", t0.Add(-5*time.Minute), "ops-2.json")

	for _, order := range [][]snapshot.Snapshot{{s1, s2}, {s2, s1}} {
		v := c.Ingest(nil, order)
		require.Len(t, v.Entries, 1)
		assert.Equal(t, "ops-2.json", v.Entries["ops-cell-lite"].SourceRef.Key)
	}
}

func TestIngestTieGoesToLaterCandidate(t *testing.T) {
	c := New(Options{Now: fixedClock(t0)})
	a := snap("anomaly-radar-control", t0, "a.json")
	b := snap("anomaly-radar-control", t0, "b.json")

	assert.Equal(t, "b.json", c.Ingest(nil, []snapshot.Snapshot{a, b}).Entries["anomaly-radar-control"].SourceRef.Key)
	assert.Equal(t, "a.json", c.Ingest(nil, []snapshot.Snapshot{b, a}).Entries["anomaly-radar-control"].SourceRef.Key)
}

func TestIngestMergesPreviousView(t *testing.T) {
	c := New(Options{Now: fixedClock(t0)})
	prev := c.Ingest(nil, []snapshot.Snapshot{
		snap("ops-cell-lite", t0.Add(-time.Minute), "ops-old.json"),
		snap("executive-report-factory", t0.Add(-2*time.Minute), "erf.json"),
	})
	prevCopy := *prev

	next := c.Ingest(prev, []snapshot.Snapshot{
		snap("ops-cell-lite", t0, "ops-new.json"),
		snap("executive-report-factory", t0.Add(-time.Hour), "erf-older.json"),
	})

	assert.Equal(t, "ops-new.json", next.Entries["ops-cell-lite"].SourceRef.Key)
	assert.Equal(t, "erf.json", next.Entries["executive-report-factory"].SourceRef.Key, "older snapshot never supersedes")
	assert.Equal(t, "ops-old.json", prev.Entries["ops-cell-lite"].SourceRef.Key, "previous view untouched")
	if diff := cmp.Diff(prevCopy, *prev, cmp.AllowUnexported(snapshot.Value{})); diff != "" {
		t.Fatalf("previous view mutated:\n%s", diff)
	}
}

func TestStaleness(t *testing.T) {
	c := New(Options{
		Window:         time.Hour,
		ProjectWindows: map[string]time.Duration{"ops-cell-lite": 15 * time.Minute},
		Now:            fixedClock(t0),
	})
	v := c.Ingest(nil, []snapshot.Snapshot{
		snap("anomaly-radar-control", t0.Add(-61*time.Minute), "a.json"),
		snap("decision-intelligence-live", t0.Add(-time.Hour), "d.json"),
		snap("ops-cell-lite", t0.Add(-20*time.Minute), "o.json"),
		snap("executive-report-factory", t0.Add(-20*time.Minute), "e.json"),
	})

	assert.Equal(t, t0, v.GeneratedAt)
	assert.Equal(t, []string{"anomaly-radar-control", "ops-cell-lite"}, v.StaleProjects)
	assert.True(t, v.IsStale("ops-cell-lite"))
	assert.False(t, v.IsStale("decision-intelligence-live"), "exactly at the window edge is fresh")
	assert.Equal(t, 15*time.Minute, c.Window("ops-cell-lite"))
	assert.Equal(t, time.Hour, c.Window("executive-report-factory"))
}

func TestUnknownIsDistinctFromStale(t *testing.T) {
	known := []string{"ops-cell-lite", "anomaly-radar-control", "ops-cell-lite", " "}
	c := New(Options{KnownProjects: known, Now: fixedClock(t0)})

	empty := c.Empty()
	assert.Equal(t, []string{"anomaly-radar-control", "ops-cell-lite"}, empty.UnknownProjects)
	assert.Empty(t, empty.StaleProjects)

	v := c.Ingest(empty, []snapshot.Snapshot{snap("ops-cell-lite", t0.Add(-48*time.Hour), "o.json")})
	assert.Equal(t, []string{"anomaly-radar-control"}, v.UnknownProjects)
	assert.Equal(t, []string{"ops-cell-lite"}, v.StaleProjects)
}

func TestIngestWithoutNewSnapshotsAgesView(t *testing.T) {
	now := t0
	c := New(Options{Window: time.Hour, Now: func() time.Time { return now }})
	v := c.Ingest(nil, []snapshot.Snapshot{snap("ops-cell-lite", t0, "o.json")})
	assert.Empty(t, v.StaleProjects)

	now = t0.Add(2 * time.Hour)
	aged := c.Ingest(v, nil)
	assert.Equal(t, []string{"ops-cell-lite"}, aged.StaleProjects)
	assert.Equal(t, t0.Add(2*time.Hour), aged.GeneratedAt)
	assert.Empty(t, v.StaleProjects)
}
