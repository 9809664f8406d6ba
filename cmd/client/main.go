package main

import (
	"fmt"
	"os"

	"github.com/hongjun500/chat-broadcast/internal/protocol"
	"github.com/spf13/cobra"
)

var (
	addr      string
	name      string
	codecName string
	sendLimit int
)

var rootCmd = &cobra.Command{
	Use:   "chat-client",
	Short: "Terminal client for chat-server",
	Long: `chat-client talks to chat-server over TCP using length-prefixed frames.

Available commands:
  chat    join the room interactively
  peek    join and dump every frame the server sends`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&addr, "addr", "127.0.0.1:8080", "server TCP address")
	pf.StringVar(&name, "name", "", "user name to join with")
	pf.StringVar(&codecName, "codec", protocol.Json, "payload codec: json or protobuf")
	pf.IntVar(&sendLimit, "max-message", 1<<20, "largest encoded message the server accepts, in bytes")
	_ = rootCmd.MarkPersistentFlagRequired("name")

	rootCmd.AddCommand(chatCmd, peekCmd)
}

// maxFrame accepts anything the server may legally send.
const maxFrame = 16 << 20

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
