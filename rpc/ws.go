package rpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const streamWriteTimeout = 10 * time.Second

// handleAuditStream upgrades to a websocket and forwards every committed
// event until the client disconnects. Events missed while the subscriber is
// slow are dropped, not replayed; clients recover through GET /v1/audit.
func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		writeProblem(w, http.StatusNotImplemented, "stream_disabled", "event stream not configured")
		return
	}
	// Subscribe before the handshake completes so a client that acts right
	// after dialing sees its own events.
	ch, cancel := s.stream.Subscribe()
	defer cancel()

	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.logger.Warn("audit stream upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case evt, ok := <-ch:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "stream ended")
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			if err := writeMessage(ctx, conn, payload); err != nil {
				return
			}
		}
	}
}

func writeMessage(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, payload)
}
