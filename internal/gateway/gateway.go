package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime/debug"
	"time"

	"github.com/hongjun500/chat-broadcast/internal/chat"
	"github.com/hongjun500/chat-broadcast/internal/command"
	"github.com/hongjun500/chat-broadcast/internal/observe"
	"github.com/hongjun500/chat-broadcast/internal/protocol"
	"github.com/hongjun500/chat-broadcast/internal/transport"
	"github.com/hongjun500/chat-broadcast/pkg/errcode"
	"github.com/hongjun500/chat-broadcast/pkg/logger"
	"go.uber.org/zap"
)

var (
	ErrHandshakeTimeout = errcode.New(5001, "handshake timed out")
	ErrConnectRequired  = errcode.New(5002, "first message must be a connect")
)

const (
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultIdleTimeout      = 5 * time.Minute
	DefaultWriteTimeout     = 10 * time.Second
)

// Gateway runs the per-connection state machine on top of a shared registry,
// broadcaster and command set. One Gateway serves every transport.
type Gateway struct {
	Registry    *chat.Registry
	Broadcaster *chat.Broadcaster
	Commands    *command.Registry

	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	WriteTimeout     time.Duration
}

func New(reg *chat.Registry, bc *chat.Broadcaster, cmds *command.Registry) *Gateway {
	return &Gateway{
		Registry:         reg,
		Broadcaster:      bc,
		Commands:         cmds,
		HandshakeTimeout: DefaultHandshakeTimeout,
		IdleTimeout:      DefaultIdleTimeout,
		WriteTimeout:     DefaultWriteTimeout,
	}
}

var _ transport.Gateway = (*Gateway)(nil)

// Serve authenticates sess and then runs it until either side ends it.
func (g *Gateway) Serve(ctx context.Context, sess transport.Session) {
	log := logger.Named("gateway").With("session", sess.ID(), "remote", sess.RemoteAddr(), "transport", sess.Transport())
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("connection_panic", "panic", r, "stack", string(debug.Stack()))
			_ = sess.Close()
		}
	}()

	c, err := g.handshake(sess, log)
	if err != nil {
		log.Infow("handshake_rejected", "err", err, "code", errcode.CodeOf(err))
		_ = sess.Close()
		return
	}
	c.run(ctx)
}

func (g *Gateway) handshake(sess transport.Session, log *zap.SugaredLogger) (*conn, error) {
	if g.HandshakeTimeout > 0 {
		_ = sess.SetReadDeadline(time.Now().Add(g.HandshakeTimeout))
	}
	env, err := sess.ReadEnvelope()
	switch {
	case err == nil:
	case isTimeout(err):
		g.reject(sess, "timeout", "handshake timed out, closing connection")
		return nil, ErrHandshakeTimeout
	case errors.Is(err, protocol.ErrDecode):
		observe.IncDecodeError()
		g.reject(sess, "not_connect", "malformed handshake, expected a connect message")
		return nil, fmt.Errorf("%w: %w", ErrConnectRequired, err)
	default:
		observe.IncHandshakeRejection("io")
		return nil, err
	}
	if env.Kind != protocol.KindConnect {
		g.reject(sess, "not_connect", "first message must be a connect with your name")
		return nil, ErrConnectRequired.WithContext(env.Kind.String())
	}

	session, joined, err := g.Registry.Register(env.Sender, sess.RemoteAddr())
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrNameTaken):
			g.reject(sess, "name_taken", fmt.Sprintf("name %q is already taken", env.Sender))
		default:
			g.reject(sess, "invalid_name", errcode.Describe(err))
		}
		return nil, err
	}
	_ = sess.SetReadDeadline(time.Time{})

	c := &conn{
		g:        g,
		sess:     sess,
		name:     session.Name,
		sub:      g.Broadcaster.Subscribe(session.Name),
		log:      log.With("name", session.Name),
		activity: make(chan struct{}, 1),
		quit:     &protocol.Envelope{},
	}
	g.Broadcaster.Send(c.sub, protocol.NewNotification(fmt.Sprintf("welcome, %s! type /help for commands", c.name)))
	g.Broadcaster.Publish(joined)
	c.log.Infow("session_joined", "session_id", session.SessionID)
	return c, nil
}

// reject tells the client why it is being dropped, if the transport still
// takes writes.
func (g *Gateway) reject(sess transport.Session, reason, text string) {
	observe.IncHandshakeRejection(reason)
	if g.WriteTimeout > 0 {
		_ = sess.SetWriteDeadline(time.Now().Add(g.WriteTimeout))
	}
	_ = sess.WriteEnvelope(protocol.NewNotification(text))
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
