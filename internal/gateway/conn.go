package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hongjun500/chat-broadcast/internal/chat"
	"github.com/hongjun500/chat-broadcast/internal/command"
	"github.com/hongjun500/chat-broadcast/internal/observe"
	"github.com/hongjun500/chat-broadcast/internal/protocol"
	"github.com/hongjun500/chat-broadcast/internal/transport"
	"github.com/hongjun500/chat-broadcast/pkg/errcode"
	"go.uber.org/zap"
)

// conn is an authenticated connection in the Active state.
type conn struct {
	g    *Gateway
	sess transport.Session
	name string
	sub  *chat.Subscription
	log  *zap.SugaredLogger

	activity chan struct{}
	quit     *protocol.Envelope
	cancel   context.CancelFunc
	once     sync.Once

	pingMu     sync.Mutex
	pingID     string
	pingSentAt time.Time
}

func (c *conn) run(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	c.cancel = cancel
	stop := context.AfterFunc(parent, func() { c.shutdown("server_shutdown") })
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go c.guard(&wg, func() { c.writeLoop(ctx) })
	go c.guard(&wg, func() { c.watchdog(ctx) })
	c.guard(nil, c.readLoop)
	wg.Wait()
}

// guard turns a panic in one duty into a closed connection.
func (c *conn) guard(wg *sync.WaitGroup, fn func()) {
	if wg != nil {
		defer wg.Done()
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorw("connection_panic", "panic", r, "stack", string(debug.Stack()))
			c.shutdown("panic")
		}
	}()
	fn()
}

// shutdown moves the connection to Closed. Only the first call has effect.
func (c *conn) shutdown(reason string) {
	c.once.Do(func() {
		c.cancel()
		c.g.Broadcaster.Unsubscribe(c.sub)
		var online time.Duration
		if s, ok := c.g.Registry.Lookup(c.name); ok {
			online = time.Since(s.ConnectedAt)
		}
		if left, ok := c.g.Registry.Unregister(c.name); ok {
			c.g.Broadcaster.Publish(left)
		}
		_ = c.sess.Close()
		c.log.Infow("session_closed", "reason", reason, "online", online)
	})
}

func (c *conn) touch() {
	select {
	case c.activity <- struct{}{}:
	default:
	}
}

func (c *conn) readLoop() {
	for {
		env, err := c.sess.ReadEnvelope()
		if err != nil {
			if errors.Is(err, protocol.ErrDecode) {
				observe.IncDecodeError()
				c.log.Warnw("decode_error", "err", err, "code", errcode.CodeOf(err))
				if errors.Is(err, transport.ErrFrameTooLarge) {
					c.reply(protocol.NewNotification("message dropped: " + errcode.Describe(err)))
				}
				c.touch()
				continue
			}
			reason := "read_error"
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				reason = "eof"
			} else {
				c.log.Debugw("read_failed", "err", err)
			}
			c.shutdown(reason)
			return
		}
		c.touch()
		if !c.route(env) {
			return
		}
	}
}

// route handles one inbound envelope and reports whether reading continues.
func (c *conn) route(env *protocol.Envelope) bool {
	c.log.Debugw("envelope_in", "id", env.ID, "kind", env.Kind.String())
	switch env.Kind {
	case protocol.KindChat:
		if command.IsCommand(env.Text) {
			return c.runCommand(env.Text)
		}
		c.g.Broadcaster.Publish(env.WithSender(c.name))
	case protocol.KindBinary:
		c.g.Broadcaster.Publish(env.WithSender(c.name))
	case protocol.KindPing:
		c.reply(protocol.NewPong(env.ID))
	case protocol.KindPong:
		c.observePong(env)
	case protocol.KindListUsersRequest:
		c.reply(protocol.NewListUsersResponse(c.g.Registry.ListNames()))
	case protocol.KindDisconnect:
		c.shutdown("disconnect")
		return false
	case protocol.KindConnect:
		c.reply(protocol.NewNotification("already connected as " + c.name))
	default:
		c.log.Debugw("envelope_ignored", "kind", env.Kind.String())
	}
	return true
}

func (c *conn) runCommand(text string) bool {
	if c.g.Commands == nil {
		c.reply(protocol.NewNotification("commands are disabled"))
		return true
	}
	ctx := &command.Context{
		Sender:   c.name,
		Sessions: c.g.Registry,
		Reply:    c.reply,
		Publish:  func(e *protocol.Envelope) { c.g.Broadcaster.Publish(e) },
	}
	_, err := c.g.Commands.Execute(text, ctx)
	if errors.Is(err, command.ErrQuit) {
		// The writer closes once the goodbye ahead of the marker is flushed.
		if !c.g.Broadcaster.Send(c.sub, c.quit) {
			c.shutdown("quit")
		}
		return false
	}
	if err != nil {
		c.log.Debugw("command_failed", "text", text, "err", err)
	}
	return true
}

// reply queues e for this connection only. Outgoing pings are remembered so
// the matching pong can be timed.
func (c *conn) reply(e *protocol.Envelope) {
	if e.Kind == protocol.KindPing {
		c.pingMu.Lock()
		c.pingID, c.pingSentAt = e.ID, time.Now()
		c.pingMu.Unlock()
	}
	if !c.g.Broadcaster.Send(c.sub, e) {
		c.log.Debugw("reply_dropped", "kind", e.Kind.String())
	}
}

func (c *conn) observePong(env *protocol.Envelope) {
	c.pingMu.Lock()
	id, sent := c.pingID, c.pingSentAt
	c.pingMu.Unlock()
	if id != "" && env.ReplyTo() == id {
		c.log.Debugw("pong", "rtt", time.Since(sent))
	}
}

func (c *conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-c.sub.C():
			if !ok {
				c.evicted()
				return
			}
			if env == c.quit {
				c.shutdown("quit")
				return
			}
			if !chat.ShouldDeliver(env, c.name) {
				continue
			}
			if err := c.write(env); err != nil {
				c.log.Debugw("write_failed", "err", err)
				c.shutdown("write_error")
				return
			}
		}
	}
}

func (c *conn) write(env *protocol.Envelope) error {
	if c.g.WriteTimeout > 0 {
		_ = c.sess.SetWriteDeadline(time.Now().Add(c.g.WriteTimeout))
	}
	return c.sess.WriteEnvelope(env)
}

// evicted closes the connection at once if the broadcaster dropped its
// subscription for overflowing, even while the writer is stuck on the socket.
func (c *conn) evicted() {
	if errors.Is(c.sub.Err(), chat.ErrSlowConsumer) {
		c.log.Warnw("slow_consumer_evicted")
		c.shutdown("slow_consumer")
	}
}

// watchdog pings a connection that has been silent for IdleTimeout and
// closes it after a second silent interval. It also reacts to eviction.
func (c *conn) watchdog(ctx context.Context) {
	idle := c.g.IdleTimeout
	var timer *time.Timer
	var tick <-chan time.Time
	if idle > 0 {
		timer = time.NewTimer(idle)
		defer timer.Stop()
		tick = timer.C
	}
	pinged := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.sub.Done():
			c.evicted()
			return
		case <-c.activity:
			if timer == nil {
				continue
			}
			pinged = false
			timer.Reset(idle)
		case <-tick:
			if pinged {
				c.log.Infow("idle_timeout", "idle", 2*idle)
				c.shutdown("idle_timeout")
				return
			}
			c.reply(protocol.NewPing())
			pinged = true
			timer.Reset(idle)
		}
	}
}
