package server

import (
	"context"
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"controlroom/internal/controlroom"
	"controlroom/internal/export"
	"controlroom/internal/logging"
	"controlroom/internal/snapshot"
)

// ControlRoom is the query surface the handlers need.
type ControlRoom interface {
	CurrentView() *snapshot.ConsolidatedView
	Snapshot(project string) (snapshot.Snapshot, bool)
	History(project string) iter.Seq[snapshot.Snapshot]
	Status() controlroom.Status
	KnownProjects() []string
	Discover(ctx context.Context) (controlroom.PassReport, error)
	Subscribe() (<-chan *snapshot.ConsolidatedView, func())
}

type Handler struct {
	room ControlRoom
	// trigger queues a background pass; nil makes every discover synchronous.
	trigger func() bool
	log     *slog.Logger
}

func NewHandler(room ControlRoom, trigger func() bool) *Handler {
	return &Handler{room: room, trigger: trigger, log: logging.New("http")}
}

func (h *Handler) HandleView(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	body, err := export.Export(h.room.CurrentView(), string(format))
	if err != nil {
		h.log.Error("export failed", "format", format, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	_, _ = w.Write(body)
}

type projectResponse struct {
	Project  string             `json:"project"`
	State    string             `json:"state"`
	Stale    bool               `json:"stale"`
	Snapshot *snapshot.Snapshot `json:"snapshot,omitempty"`
}

func (h *Handler) HandleProject(w http.ResponseWriter, r *http.Request) {
	project := strings.TrimSpace(r.PathValue("project"))
	view := h.room.CurrentView()
	snap, ok := view.Entries[project]
	if !ok {
		if h.isKnown(project) {
			writeJSON(w, http.StatusNotFound, projectResponse{Project: project, State: "unknown"})
			return
		}
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}
	resp := projectResponse{Project: project, State: "current", Stale: view.IsStale(project), Snapshot: &snap}
	if resp.Stale {
		resp.State = "stale"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	project := strings.TrimSpace(r.PathValue("project"))
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	out := []snapshot.Snapshot{}
	for snap := range h.room.History(project) {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, snap)
	}
	if len(out) == 0 && !h.isKnown(project) {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project":   project,
		"snapshots": out,
	})
}

func (h *Handler) HandleDiscover(w http.ResponseWriter, r *http.Request) {
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async && h.trigger != nil {
		writeJSON(w, http.StatusAccepted, map[string]any{"queued": h.trigger()})
		return
	}
	// A pass is shared state: a client hanging up must not fail it. The
	// service's pass timeout still bounds it.
	report, err := h.room.Discover(context.WithoutCancel(r.Context()))
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type viewSummary struct {
	PassID          string          `json:"passId,omitempty"`
	GeneratedAt     time.Time       `json:"generatedAt"`
	Overall         snapshot.Status `json:"overall"`
	Projects        int             `json:"projects"`
	StaleProjects   []string        `json:"staleProjects"`
	UnknownProjects []string        `json:"unknownProjects"`
}

func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	view := h.room.CurrentView()
	writeJSON(w, http.StatusOK, map[string]any{
		"discovery": h.room.Status(),
		"view": viewSummary{
			PassID:          view.PassID,
			GeneratedAt:     view.GeneratedAt,
			Overall:         view.Overall(),
			Projects:        len(view.Entries),
			StaleProjects:   nonNil(view.StaleProjects),
			UnknownProjects: nonNil(view.UnknownProjects),
		},
	})
}

func (h *Handler) isKnown(project string) bool {
	return project != "" && slices.Contains(h.room.KnownProjects(), project)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
