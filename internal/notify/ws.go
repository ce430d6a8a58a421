package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second // Time allowed to write a frame to the peer.
	pongWait       = 60 * time.Second // Time allowed to read the next pong from the peer.
	maxMessageSize = 512              // Clients only send control frames.
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Token auth already happened; browsers on any origin may listen.
	},
}

// wsFrame is the websocket shape of an SSE frame.
type wsFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsWriter struct {
	conn *websocket.Conn
}

func (c *wsWriter) WriteEvent(ev Event) error {
	data, err := json.Marshal(ev.Payload())
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(wsFrame{Event: ev.Name(), Data: data})
}

func (c *wsWriter) WriteKeepAlive() error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// ServeWS is the websocket variant of ServeSSE for clients that cannot use
// EventSource.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go readPump(conn, cancel)

	h.log.Info("ws stream opened", zap.Int64("user_id", userID))
	err = h.stream(ctx, userID, &wsWriter{conn: conn})
	h.log.Info("ws stream closed", zap.Int64("user_id", userID), zap.NamedError("reason", err))

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readPump drains the connection so pongs and close frames are processed,
// and cancels the stream once the peer is gone.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
