package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hongjun500/chat-broadcast/internal/protocol"
	"github.com/hongjun500/chat-broadcast/pkg/logger"
)

// wsSession maps one envelope to one WebSocket message. Binary envelopes,
// or any envelope under a non-textual codec, go out as binary messages; the
// rest as text.
type wsSession struct {
	id       string
	conn     *websocket.Conn
	codec    protocol.MessageCodec
	maxFrame int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewWebSocketSession wraps an upgraded (or dialed) WebSocket connection.
// Messages over the configured limit but under the hard cap are read and
// dropped with a decode error; only the hard cap ends the connection.
func NewWebSocketSession(conn *websocket.Conn, codec protocol.MessageCodec, opt Options) Session {
	conn.SetReadLimit(hardMaxFrameSize)
	return &wsSession{
		id:       uuid.NewString(),
		conn:     conn,
		codec:    codec,
		maxFrame: opt.maxFrame(),
	}
}

func (w *wsSession) ID() string        { return w.id }
func (w *wsSession) Transport() string { return WebSocket }

func (w *wsSession) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}

func (w *wsSession) ReadEnvelope() (*protocol.Envelope, error) {
	mt, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if len(data) > w.maxFrame {
		return nil, tooLarge(len(data), w.maxFrame)
	}
	switch mt {
	case websocket.TextMessage, websocket.BinaryMessage:
		return protocol.Unmarshal(w.codec, data, w.maxFrame)
	default:
		return nil, fmt.Errorf("%w: unsupported message type %d", protocol.ErrDecode, mt)
	}
}

// MessageType picks the WebSocket frame type for e under codec.
func MessageType(codec protocol.MessageCodec, e *protocol.Envelope) int {
	if !codec.Textual() || e.Kind == protocol.KindBinary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func (w *wsSession) WriteEnvelope(e *protocol.Envelope) error {
	if w.closed.Load() {
		return ErrSessionClosed
	}
	data, err := protocol.Marshal(w.codec, e)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(MessageType(w.codec, e), data)
}

func (w *wsSession) SetReadDeadline(t time.Time) error  { return w.conn.SetReadDeadline(t) }
func (w *wsSession) SetWriteDeadline(t time.Time) error { return w.conn.SetWriteDeadline(t) }

func (w *wsSession) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = w.conn.Close()
	})
	return err
}

// WebSocketServer implements Transport using WebSocket connections.
type WebSocketServer struct {
	Codec   protocol.MessageCodec
	Path    string // WebSocket endpoint path, defaults to "/ws"
	Options Options
	// CheckOrigin defaults to accepting every origin.
	CheckOrigin func(r *http.Request) bool
}

func (ws *WebSocketServer) Name() string { return WebSocket }

func (ws *WebSocketServer) defaults() {
	if ws.Codec == nil {
		ws.Codec = protocol.JSONCodec{}
	}
	if ws.Path == "" {
		ws.Path = "/ws"
	}
	if ws.CheckOrigin == nil {
		ws.CheckOrigin = func(*http.Request) bool { return true }
	}
}

// Handler upgrades requests and serves each connection on the gateway
// until it ends. ctx bounds every session, not the request.
func (ws *WebSocketServer) Handler(ctx context.Context, gateway Gateway) http.Handler {
	ws.defaults()
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     ws.CheckOrigin,
	}
	log := logger.Named("ws")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied with an HTTP error.
			log.Warnw("ws_upgrade_error", "remote", r.RemoteAddr, "err", err)
			return
		}
		sess := NewWebSocketSession(conn, ws.Codec, ws.Options)
		log.Debugw("ws_accept", "session", sess.ID(), "remote", sess.RemoteAddr())
		gateway.Serve(ctx, sess)
	})
}

func (ws *WebSocketServer) Start(ctx context.Context, addr string, gateway Gateway) error {
	ws.defaults()
	mux := http.NewServeMux()
	mux.Handle(ws.Path, ws.Handler(ctx, gateway))

	logger.Named("ws").Infow("websocket_listen", "addr", addr, "path", ws.Path, "codec", ws.Codec.Name())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
