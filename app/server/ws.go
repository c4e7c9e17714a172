package server

import (
	"log/slog"

	"vizlive/app/protocol"

	"github.com/gofiber/contrib/websocket"
)

// wsConn adapts a fiber websocket connection to the session transport.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) WriteText(data []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) WriteBinary(data []byte) error {
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *Service) handleRealtime(c *websocket.Conn) {
	sess := s.sessionSvc.NewSession(&wsConn{conn: c})
	defer sess.Close()

	slog.Debug("Realtime connection opened", "session", sess.ID())

	for {
		messageType, data, err := c.ReadMessage()
		if err != nil {
			// Plain disconnect, not an application error.
			slog.Debug("Realtime connection closed", "session", sess.ID(), "error", err)
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		env, err := protocol.Decode(data)
		if err != nil {
			slog.Debug("Dropping malformed client frame", "session", sess.ID(), "error", err)
			continue
		}

		if !sess.Dispatch(env) {
			return
		}
	}
}
