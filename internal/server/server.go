// Package server assembles the chat core and runs its listeners.
package server

import (
	"context"
	"fmt"

	"github.com/hongjun500/chat-broadcast/internal/chat"
	"github.com/hongjun500/chat-broadcast/internal/command"
	"github.com/hongjun500/chat-broadcast/internal/config"
	"github.com/hongjun500/chat-broadcast/internal/gateway"
	"github.com/hongjun500/chat-broadcast/internal/observe"
	"github.com/hongjun500/chat-broadcast/internal/protocol"
	"github.com/hongjun500/chat-broadcast/internal/transport"
	"github.com/hongjun500/chat-broadcast/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Server owns the shared registry and broadcaster. Every listener feeds the
// same Gateway, so TCP and WebSocket clients share one room.
type Server struct {
	cfg         *config.Config
	Registry    *chat.Registry
	Broadcaster *chat.Broadcaster
	Commands    *command.Registry
	Gateway     *gateway.Gateway
	Codec       protocol.MessageCodec
}

func New(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := protocol.NewCodec(cfg.Codec)
	if err != nil {
		return nil, err
	}
	cmds := command.NewRegistry()
	if err := command.RegisterBuiltins(cmds); err != nil {
		return nil, fmt.Errorf("register commands: %w", err)
	}
	reg := chat.NewRegistry(cfg.MaxNameLen)
	bc := chat.NewBroadcaster(cfg.OutBuffer)
	gw := gateway.New(reg, bc, cmds)
	gw.HandshakeTimeout = cfg.HandshakeTimeout
	gw.IdleTimeout = cfg.IdleTimeout
	gw.WriteTimeout = cfg.WriteTimeout

	return &Server{
		cfg:         cfg,
		Registry:    reg,
		Broadcaster: bc,
		Commands:    cmds,
		Gateway:     gw,
		Codec:       codec,
	}, nil
}

type Listener struct {
	Addr      string
	Transport transport.Transport
}

// Listeners returns the enabled transports; an empty address disables one.
func (s *Server) Listeners() []Listener {
	opt := transport.Options{MaxFrameSize: s.cfg.MaxFrameSize}
	var out []Listener
	if s.cfg.TCPAddr != "" {
		out = append(out, Listener{s.cfg.TCPAddr, &transport.TCPServer{Codec: s.Codec, Options: opt}})
	}
	if s.cfg.WSAddr != "" {
		out = append(out, Listener{s.cfg.WSAddr, &transport.WebSocketServer{Codec: s.Codec, Path: s.cfg.WSPath, Options: opt}})
	}
	return out
}

// Run serves until ctx is done or a listener fails, then stops everything.
// The first listener error cancels the rest and is returned.
func (s *Server) Run(ctx context.Context) error {
	log := logger.Named("server")
	g, gctx := errgroup.WithContext(ctx)

	run := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			if err := fn(gctx); err != nil {
				log.Errorw("listener_failed", "listener", name, "err", err)
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}

	for _, l := range s.Listeners() {
		run(l.Transport.Name(), func(ctx context.Context) error {
			return l.Transport.Start(ctx, l.Addr, s.Gateway)
		})
	}
	if s.cfg.HTTPAddr != "" {
		run("observe", func(ctx context.Context) error {
			return observe.StartHTTP(ctx, s.cfg.HTTPAddr)
		})
	}
	log.Infow("server_started", "tcp", s.cfg.TCPAddr, "ws", s.cfg.WSAddr, "http", s.cfg.HTTPAddr, "codec", s.Codec.Name())

	err := g.Wait()
	s.Broadcaster.Close()
	log.Infow("server_stopped", "online", s.Registry.Count())
	return err
}
