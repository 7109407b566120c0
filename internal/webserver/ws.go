package webserver

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mailpulse/mailpulse/internal/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWSEvents serves the same per-account envelope stream over WebSocket,
// for clients that prefer it to SSE. Envelopes are sent as one JSON frame
// each; admission is identical to the SSE endpoint.
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	accountID := r.PathValue("accountId")
	if accountID == "" {
		s.writeError(w, http.StatusBadRequest, "accountId is required")
		return
	}

	principal, err := s.gate.Admit(r, accountID)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	conn := s.hub.AddClient(accountID, principal.UserID)
	defer s.hub.RemoveClient(conn)

	s.logger.Info("events: ws stream open", "account", accountID, "user", principal.UserID, "conn", conn.ID)

	// Reader goroutine only detects peer close; inbound frames are ignored.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := ws.WriteJSON(events.NewConnected(accountID)); err != nil {
		return
	}

	ticker := time.NewTicker(s.keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-conn.Events():
			if !ok {
				return
			}
			if err := ws.WriteJSON(e); err != nil {
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
