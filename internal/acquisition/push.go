package acquisition

import (
	"context"
	"net/http"
	"sync"
	"time"

	"transformer_monitor/internal/logger"
	"transformer_monitor/internal/metrics"
	"transformer_monitor/internal/models"

	"github.com/gorilla/websocket"
)

// Dial and close timing for the push channel.
const (
	handshakeTimeout = 10 * time.Second
	closeWait        = time.Second
)

// PushEventKind enumerates what a push handle reports.
type PushEventKind int

const (
	PushOpened PushEventKind = iota + 1
	PushMessage
	PushError
	PushClosed
)

func (k PushEventKind) String() string {
	switch k {
	case PushOpened:
		return "opened"
	case PushMessage:
		return "message"
	case PushError:
		return "error"
	case PushClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PushEvent is reported by a push handle. Attempt is stamped by the coordinator.
type PushEvent struct {
	Attempt uint64
	Kind    PushEventKind
	Signals models.Signals
	Err     error
}

// PushHandle is one connection attempt to the push endpoint.
// A handle is never reused after it reports PushClosed.
type PushHandle interface {
	// Connect starts dialing without blocking. No-op while dialing or open.
	Connect(ctx context.Context)
	// Disconnect releases the connection. Safe to call more than once.
	Disconnect() error
}

// PushFactory builds a fresh handle for the given attempt. emit may block
// until the coordinator accepts the event.
type PushFactory func(attempt uint64, emit func(PushEvent)) PushHandle

// NewWSFactory returns a factory of websocket push handles for url.
func NewWSFactory(url string, log *logger.Logger, m *metrics.Acquisition) PushFactory {
	if log == nil {
		log = logger.Nop()
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	return func(attempt uint64, emit func(PushEvent)) PushHandle {
		return &WSClient{
			url:     url,
			emit:    emit,
			dialer:  dialer,
			log:     &logger.Logger{SugaredLogger: log.With("attempt", attempt)},
			metrics: m,
		}
	}
}

// WSClient is a push handle backed by a gorilla websocket connection.
type WSClient struct {
	url     string
	emit    func(PushEvent)
	dialer  *websocket.Dialer
	log     *logger.Logger
	metrics *metrics.Acquisition

	mu      sync.Mutex
	conn    *websocket.Conn
	dialing bool
	closed  bool
}

func (w *WSClient) Connect(ctx context.Context) {
	w.mu.Lock()
	if w.conn != nil || w.dialing || w.closed {
		w.mu.Unlock()
		return
	}
	w.dialing = true
	w.mu.Unlock()

	go w.run(ctx)
}

func (w *WSClient) run(ctx context.Context) {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)

	w.mu.Lock()
	w.dialing = false
	if err != nil {
		w.closed = true
		w.mu.Unlock()
		w.log.Warnw("push_dial_failed", "url", w.url, "err", err)
		w.emit(PushEvent{Kind: PushClosed, Err: err})
		return
	}
	if w.closed {
		// Disconnected while dialing.
		w.mu.Unlock()
		_ = conn.Close()
		return
	}
	w.conn = conn
	w.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	w.log.Infow("push_connected", "url", w.url)
	w.emit(PushEvent{Kind: PushOpened})
	w.readLoop(conn)
}

// readLoop forwards decoded frames until the connection ends, then reports closure once.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.finish(err)
			return
		}
		sig, err := DecodeSignals(data)
		if err != nil {
			w.metrics.ParseFailure(metrics.SourcePush)
			w.log.Warnw("push_message_dropped", "err", err, "bytes", len(data))
			continue
		}
		w.emit(PushEvent{Kind: PushMessage, Signals: sig})
	}
}

func (w *WSClient) finish(readErr error) {
	w.mu.Lock()
	local := w.closed
	w.closed = true
	w.conn = nil
	w.mu.Unlock()

	if local || websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		w.log.Infow("push_closed", "err", readErr)
		w.emit(PushEvent{Kind: PushClosed})
		return
	}
	w.log.Warnw("push_read_failed", "err", readErr)
	w.emit(PushEvent{Kind: PushError, Err: readErr})
	w.emit(PushEvent{Kind: PushClosed, Err: readErr})
}

func (w *WSClient) Disconnect() error {
	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	w.closed = true
	w.mu.Unlock()

	if conn == nil {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	return conn.Close()
}
