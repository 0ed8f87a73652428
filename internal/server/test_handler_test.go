package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controlroom/internal/consolidate"
	"controlroom/internal/controlroom"
	"controlroom/internal/metrics"
	"controlroom/internal/normalize"
	"controlroom/internal/store"
)

var suite = []string{"anomaly-radar-control", "decision-intelligence-live", "executive-report-factory", "ops-cell-lite"}

type fixture struct {
	root string
	svc  *controlroom.Service
	srv  *httptest.Server
}

func writeArtifact(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func newFixture(t *testing.T, trigger func() bool) *fixture {
	t.Helper()
	root := t.TempDir()
	disk, err := store.NewDiskStore(root, store.Filter{})
	require.NoError(t, err)
	now := time.Now().UTC()
	svc, err := controlroom.New(controlroom.Options{
		Store:        disk,
		Normalizer:   normalize.New(normalize.Options{KnownProjects: suite}),
		Consolidator: consolidate.New(consolidate.Options{KnownProjects: suite, Now: func() time.Time { return now }}),
	})
	require.NoError(t, err)

	m := metrics.New(nil)
	h := NewHandler(svc, trigger)
	srv := httptest.NewServer(NewMux(h, m.Handler()))
	t.Cleanup(srv.Close)

	ts := now.Add(-2 * time.Minute).Format(time.RFC3339)
	writeArtifact(t, root, "ops-cell-lite/run-1.json",
		`{"project":"ops-cell-lite","timestamp":"`+now.Add(-3*time.Hour).Format(time.RFC3339)+`","status":"ok"}`)
	writeArtifact(t, root, "ops-cell-lite/run-2.json",
		`{"project":"ops-cell-lite","timestamp":"`+ts+`","status":"warning","kpis":{"latency_p95_ms":420}}`)
	writeArtifact(t, root, "anomaly-radar-control/run.json",
		`{"project":"anomaly-radar-control","timestamp":"`+now.Add(-2*time.Hour).Format(time.RFC3339)+`","status":"ok"}`)
	writeArtifact(t, root, "broken.json", `{"project":`)
	return &fixture{root: root, svc: svc, srv: srv}
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestDiscoverThenQueryView(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Post(f.srv.URL+"/api/discover", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report controlroom.PassReport
	decode(t, resp, &report)
	assert.Equal(t, 4, report.Listed)
	assert.Equal(t, 3, report.Accepted)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, "broken.json", report.Rejected[0].Ref.Key)

	resp = f.get(t, "/api/view")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var doc struct {
		PassID          string   `json:"passId"`
		StaleProjects   []string `json:"staleProjects"`
		UnknownProjects []string `json:"unknownProjects"`
		Snapshots       []struct {
			Project string `json:"project"`
			Status  string `json:"status"`
		} `json:"snapshots"`
	}
	decode(t, resp, &doc)
	assert.Equal(t, report.ID, doc.PassID)
	assert.Equal(t, []string{"anomaly-radar-control"}, doc.StaleProjects)
	assert.Equal(t, []string{"decision-intelligence-live", "executive-report-factory"}, doc.UnknownProjects)
	require.Len(t, doc.Snapshots, 2)
	assert.Equal(t, "warning", doc.Snapshots[1].Status)

	resp = f.get(t, "/api/view?format=markdown-summary")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/markdown"))

	resp = f.get(t, "/api/view?format=pdf")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProjectAndHistoryRoutes(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Discover(context.Background())
	require.NoError(t, err)

	resp := f.get(t, "/api/projects/anomaly-radar-control")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pr projectResponse
	decode(t, resp, &pr)
	assert.Equal(t, "stale", pr.State)
	require.NotNil(t, pr.Snapshot)

	resp = f.get(t, "/api/projects/executive-report-factory")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	decode(t, resp, &pr)
	assert.Equal(t, "unknown", pr.State)

	resp = f.get(t, "/api/projects/nobody")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.get(t, "/api/projects/ops-cell-lite/history")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var hist struct {
		Snapshots []struct {
			SourceRef struct {
				Key string `json:"key"`
			} `json:"sourceRef"`
		} `json:"snapshots"`
	}
	decode(t, resp, &hist)
	require.Len(t, hist.Snapshots, 2)
	assert.Equal(t, "ops-cell-lite/run-2.json", hist.Snapshots[0].SourceRef.Key)

	resp = f.get(t, "/api/projects/ops-cell-lite/history?limit=1")
	decode(t, resp, &hist)
	assert.Len(t, hist.Snapshots, 1)

	resp = f.get(t, "/api/projects/ops-cell-lite/history?limit=zero")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.get(t, "/api/projects/executive-report-factory/history")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDiscoverAsyncTriggersScheduler(t *testing.T) {
	var calls atomic.Int32
	f := newFixture(t, func() bool { calls.Add(1); return true })

	resp, err := http.Post(f.srv.URL+"/api/discover?async=true", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, f.svc.Status().Passes)
}

func TestDiscoverFailureReturnsReport(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Discover(context.Background())
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(f.root))

	resp, err := http.Post(f.srv.URL+"/api/discover", "", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = f.get(t, "/api/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status struct {
		Discovery controlroom.Status `json:"discovery"`
		View      viewSummary        `json:"view"`
	}
	decode(t, resp, &status)
	assert.Equal(t, 1, status.Discovery.ConsecutiveFailures)
	assert.Equal(t, 2, status.View.Projects, "previous view still served")
}

func TestDiscoverSurvivesClientDisconnect(t *testing.T) {
	f := newFixture(t, nil)
	h := NewHandler(f.svc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/discover", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.HandleDiscover(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	status := f.svc.Status()
	assert.Equal(t, 1, status.Passes)
	assert.Zero(t, status.ConsecutiveFailures)
	require.NotNil(t, status.LastPass)
	assert.Empty(t, status.LastPass.Err)
	assert.Equal(t, 2, len(f.svc.CurrentView().Entries))
}

func TestHealthMetricsAndCORS(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp = f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/discover", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")
	pre, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer pre.Body.Close()
	assert.Equal(t, http.StatusNoContent, pre.StatusCode)
	assert.Equal(t, "http://dashboard.local", pre.Header.Get("Access-Control-Allow-Origin"))
}

func TestViewWebsocketStreamsPublishedViews(t *testing.T) {
	f := newFixture(t, nil)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/ws/view"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var msg viewWSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "view", msg.Type)
	require.NotNil(t, msg.View)
	assert.Empty(t, msg.View.Snapshots)

	report, err := f.svc.Discover(context.Background())
	require.NoError(t, err)

	require.NoError(t, conn.ReadJSON(&msg))
	require.NotNil(t, msg.View)
	assert.Equal(t, report.ID, msg.View.PassID)
	assert.Len(t, msg.View.Snapshots, 2)
}
