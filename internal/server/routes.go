package server

import "net/http"

// NewMux wires the query interface. metrics may be nil.
func NewMux(h *Handler, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/view", h.HandleView)
	mux.HandleFunc("GET /api/projects/{project}", h.HandleProject)
	mux.HandleFunc("GET /api/projects/{project}/history", h.HandleHistory)
	mux.HandleFunc("POST /api/discover", h.HandleDiscover)
	mux.HandleFunc("GET /api/status", h.HandleStatus)
	mux.HandleFunc("GET /api/ws/view", h.HandleViewWS)

	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	return CORS(mux)
}
