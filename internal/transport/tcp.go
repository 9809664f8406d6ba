package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hongjun500/chat-broadcast/internal/protocol"
	"github.com/hongjun500/chat-broadcast/pkg/logger"
)

// tcpSession frames envelopes as [len uint32 BE][codec payload] on a stream.
type tcpSession struct {
	id      string
	conn    net.Conn
	codec   protocol.MessageCodec
	dec     *FrameDecoder
	rbuf    []byte
	readErr error

	maxFrame  int
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewTCPSession wraps an accepted (or dialed) stream connection.
func NewTCPSession(conn net.Conn, codec protocol.MessageCodec, opt Options) Session {
	return &tcpSession{
		id:       uuid.NewString(),
		conn:     conn,
		codec:    codec,
		dec:      NewFrameDecoder(opt.maxFrame()),
		rbuf:     make([]byte, opt.readBuffer()),
		maxFrame: opt.maxFrame(),
	}
}

func (s *tcpSession) ID() string        { return s.id }
func (s *tcpSession) Transport() string { return Tcp }

func (s *tcpSession) RemoteAddr() string {
	if s.conn != nil && s.conn.RemoteAddr() != nil {
		return s.conn.RemoteAddr().String()
	}
	return ""
}

func (s *tcpSession) ReadEnvelope() (*protocol.Envelope, error) {
	for {
		frame, err := s.dec.Next()
		switch {
		case err == nil:
			return protocol.Unmarshal(s.codec, frame, s.maxFrame)
		case !errors.Is(err, ErrNeedMore):
			return nil, err
		}
		if s.readErr != nil {
			if errors.Is(s.readErr, io.EOF) && s.dec.Buffered() > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, s.readErr
		}
		n, rerr := s.conn.Read(s.rbuf)
		if n > 0 {
			s.dec.Feed(s.rbuf[:n])
		}
		if rerr != nil {
			s.readErr = rerr
		}
	}
}

func (s *tcpSession) WriteEnvelope(e *protocol.Envelope) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	payload, err := protocol.Marshal(s.codec, e)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteFrame(s.conn, payload)
}

func (s *tcpSession) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *tcpSession) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }

func (s *tcpSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		err = s.conn.Close()
	})
	return err
}

// TCPServer implements Transport using length-prefixed frames and a MessageCodec on top.
type TCPServer struct {
	Codec   protocol.MessageCodec
	Options Options
}

func (s *TCPServer) Name() string { return Tcp }

func (s *TCPServer) Start(ctx context.Context, addr string, gateway Gateway) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln, gateway)
}

// Serve accepts on ln until ctx is done. Accept failures are logged and do
// not stop the loop.
func (s *TCPServer) Serve(ctx context.Context, ln net.Listener, gateway Gateway) error {
	if s.Codec == nil {
		s.Codec = protocol.JSONCodec{}
	}
	log := logger.Named("tcp")
	log.Infow("tcp_listen", "addr", ln.Addr().String(), "codec", s.Codec.Name())
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer ln.Close()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(backoff*2, time.Second)
			}
			log.Warnw("tcp_accept_error", "err", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0
		sess := NewTCPSession(conn, s.Codec, s.Options)
		log.Debugw("tcp_accept", "session", sess.ID(), "remote", sess.RemoteAddr())
		go gateway.Serve(ctx, sess)
	}
}
