package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controlroom/internal/snapshot"
)

func TestObservePassAndView(t *testing.T) {
	m := New(nil)
	m.ObservePass(true, 20*time.Millisecond, 3, 1, 2)
	m.ObservePass(false, time.Second, 0, 0, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.passes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.passes.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.artifacts.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.artifacts.WithLabelValues("rejected")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.artifacts.WithLabelValues("unavailable")))

	v := &snapshot.ConsolidatedView{
		GeneratedAt: time.Unix(1735689600, 0).UTC(),
		PassID:      "p",
		Entries: map[string]snapshot.Snapshot{
			"a": {Status: snapshot.StatusCritical},
			"b": {Status: snapshot.StatusOK},
			"c": {Status: snapshot.StatusCritical},
		},
		StaleProjects:   []string{"a"},
		UnknownProjects: []string{"d", "e"},
	}
	m.ObserveView(v)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.projects.WithLabelValues("critical")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.projects.WithLabelValues("warning")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stale))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.unknown))
	assert.Equal(t, 1735689600.0, testutil.ToFloat64(m.lastSuccess))

	m.ObservePublish("view", errors.New("down"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.published.WithLabelValues("view", "failed")))
}

func TestHandlerServesCacheCounters(t *testing.T) {
	m := New(func() (uint64, uint64, uint64, uint64) { return 7, 2, 2, 1 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "controlroom_store_cache_hits_total 7")
	assert.Contains(t, body, "controlroom_store_cache_origin_errors_total 1")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObservePass(true, time.Second, 1, 1, 1)
	m.ObserveView(snapshot.EmptyView(nil))
	m.ObservePublish("view", nil)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
