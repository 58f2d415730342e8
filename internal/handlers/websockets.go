package handlers

import (
	"net/http"
	"sync"
	"time"

	"transformer_monitor/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Send/receive timing configuration and message size limits.
const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxMsgSize   = 1 << 12 // 4 KB
	wsSendBuffer = 32
)

// Envelope used for WebSocket messages.
type wsEnvelope struct {
	Type  string      `json:"type"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// The dashboard is served from other origins during development.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConnect streams the current state, then one envelope per published update.
// A browser that falls wsSendBuffer updates behind is disconnected.
func (h *Handler) wsConnect(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_upgrade_failed", "err", err)
		}
		return
	}
	defer func() { _ = conn.Close() }()
	defer h.opts.Metrics.StreamOpened()()

	conn.SetReadLimit(maxMsgSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go h.startReader(conn, done)

	// Subscribe before reading the snapshot so nothing published in between is lost.
	updates := make(chan models.TransformerState, wsSendBuffer)
	slow := make(chan struct{})
	var slowOnce sync.Once
	cancel := h.services.Monitoring.Watch(func(st models.TransformerState) {
		select {
		case updates <- st:
		default:
			slowOnce.Do(func() { close(slow) })
		}
	})
	defer cancel()

	ctx := c.Request.Context()
	st, err := h.services.Monitoring.GetState(ctx)
	if err != nil {
		if h.log != nil {
			h.log.Errorw("ws_get_state_failed", "err", err)
		}
		return
	}
	if err := writeState(conn, st); err != nil {
		if h.log != nil {
			h.log.Infow("ws_write_failed_initial", "err", err)
		}
		return
	}
	sent := st.Version

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-slow:
			h.opts.Metrics.SlowClientDropped()
			if h.log != nil {
				h.log.Warnw("ws_client_too_slow", "remote", c.ClientIP())
			}
			closeMsg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too slow")
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(writeWait))
			return
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if h.log != nil {
					h.log.Infow("ws_ping_failed", "err", err)
				}
				return
			}
		case st := <-updates:
			// Already covered by the initial snapshot.
			if st.Version <= sent {
				continue
			}
			if err := writeState(conn, st); err != nil {
				if h.log != nil {
					h.log.Infow("ws_write_failed", "err", err)
				}
				return
			}
			sent = st.Version
		}
	}
}

// startReader drains incoming messages to handle control frames and detect closure.
func (h *Handler) startReader(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if h.log != nil {
				h.log.Infow("ws_read_closed", "err", err)
			}
			return
		}
	}
}

func writeState(conn *websocket.Conn, st models.TransformerState) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(wsEnvelope{Type: "state", Data: st})
}
