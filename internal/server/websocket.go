package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"controlroom/internal/export"
	"controlroom/internal/snapshot"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

var viewWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type viewWSMessage struct {
	Type string           `json:"type"`
	View *export.Document `json:"view,omitempty"`
}

// HandleViewWS streams the current view and then every newly published one.
func (h *Handler) HandleViewWS(w http.ResponseWriter, r *http.Request) {
	conn, err := viewWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	views, unsubscribe := h.room.Subscribe()
	defer unsubscribe()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	// Inbound frames are ignored; reading surfaces close and pong frames.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := writeView(conn, h.room.CurrentView()); err != nil {
		return
	}

	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			if err := writeView(conn, v); err != nil {
				h.log.Debug("view stream closed", "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeView(conn *websocket.Conn, v *snapshot.ConsolidatedView) error {
	doc := export.NewDocument(v)
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(viewWSMessage{Type: "view", View: &doc})
}
