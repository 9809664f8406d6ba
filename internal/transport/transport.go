package transport

import (
	"context"
	"time"

	"github.com/hongjun500/chat-broadcast/internal/protocol"
)

const (
	Tcp       = "tcp"
	WebSocket = "websocket"
)

// Transport accepts connections on addr and hands each one to the gateway.
type Transport interface {
	Name() string
	Start(ctx context.Context, addr string, gateway Gateway) error
}

// Session is one accepted connection seen through its framing strategy.
// ReadEnvelope returns errors matching protocol.ErrDecode for malformed
// payloads the stream can recover from; any other error is fatal.
// ReadEnvelope and WriteEnvelope may be called from different goroutines.
type Session interface {
	ID() string
	RemoteAddr() string
	Transport() string
	ReadEnvelope() (*protocol.Envelope, error)
	WriteEnvelope(*protocol.Envelope) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Gateway drives a session until it ends. Serve blocks for the lifetime of
// the connection and must close the session before returning.
type Gateway interface {
	Serve(ctx context.Context, sess Session)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, sess Session)

func (f GatewayFunc) Serve(ctx context.Context, sess Session) { f(ctx, sess) }
