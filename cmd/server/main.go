package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hongjun500/chat-broadcast/internal/config"
	"github.com/hongjun500/chat-broadcast/internal/server"
	"github.com/hongjun500/chat-broadcast/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	tcpAddr  string
	wsAddr   string
	wsPath   string
	httpAddr string
	codec    string
	outBuf   int
	idle     time.Duration
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "chat-server",
	Short: "Real-time broadcast chat server",
	Long: `chat-server runs one chat room reachable over TCP (length-prefixed frames)
and WebSocket at the same time. Configuration comes from CHAT_* environment
variables or a .env file; flags given here take precedence.

Examples:
  chat-server
  chat-server --tcp :7000 --ws "" --codec protobuf`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&tcpAddr, "tcp", "", "TCP listen address, empty string disables")
	f.StringVar(&wsAddr, "ws", "", "WebSocket listen address, empty string disables")
	f.StringVar(&wsPath, "ws-path", "", "WebSocket endpoint path")
	f.StringVar(&httpAddr, "http", "", "metrics and health address, empty string disables")
	f.StringVar(&codec, "codec", "", "payload codec: json or protobuf")
	f.IntVar(&outBuf, "outbuf", 0, "per-connection outbound queue depth")
	f.DurationVar(&idle, "idle-timeout", 0, "silence before the server pings a client")
	f.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if logLevel != "" {
		logger.SetLevel(logLevel)
	}
	defer logger.Sync()

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx)
}

// applyFlags copies only the flags the user actually set.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("tcp") {
		cfg.TCPAddr = tcpAddr
	}
	if f.Changed("ws") {
		cfg.WSAddr = wsAddr
	}
	if f.Changed("ws-path") {
		cfg.WSPath = wsPath
	}
	if f.Changed("http") {
		cfg.HTTPAddr = httpAddr
	}
	if f.Changed("codec") {
		cfg.Codec = codec
	}
	if f.Changed("outbuf") {
		cfg.OutBuffer = outBuf
	}
	if f.Changed("idle-timeout") {
		cfg.IdleTimeout = idle
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chat-server:", err)
		os.Exit(1)
	}
}
