package hub

import (
	"context"
	"net/http"

	"nhooyr.io/websocket"
)

const maxInboundMessageSize = 64 * 1024

// wsConn adapts a websocket connection to Conn
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Ping(ctx context.Context) error {
	return w.conn.Ping(ctx)
}

func (w *wsConn) Close(reason string) error {
	return w.conn.Close(websocket.StatusGoingAway, reason)
}

// ServeWS returns the websocket upgrade handler. originPatterns restricts
// cross-origin clients; empty allows any origin.
func (h *Hub) ServeWS(originPatterns []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		opts := &websocket.AcceptOptions{OriginPatterns: originPatterns}
		if len(originPatterns) == 0 {
			opts.InsecureSkipVerify = true
		}

		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("WebSocket upgrade failed")
			return
		}
		conn.SetReadLimit(maxInboundMessageSize)

		client := h.Connect(&wsConn{conn: conn})
		defer h.Disconnect(client.ID())

		// The read loop also processes control frames, which Ping relies on
		ctx := r.Context()
		for {
			msgType, data, err := conn.Read(ctx)
			if err != nil {
				status := websocket.CloseStatus(err)
				if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
					h.log.Debug().Err(err).Str("client_id", client.ID()).Msg("WebSocket read ended")
				}
				return
			}
			if msgType != websocket.MessageText {
				continue
			}
			h.HandleMessage(client.ID(), data)
		}
	}
}
