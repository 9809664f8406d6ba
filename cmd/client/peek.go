package main

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/hongjun500/chat-broadcast/internal/protocol"
	"github.com/hongjun500/chat-broadcast/internal/transport"
	"github.com/spf13/cobra"
)

var peekLimit int

var peekCmd = &cobra.Command{
	Use:   "peek",
	Short: "Join and dump every frame received",
	RunE:  runPeek,
}

func init() {
	peekCmd.Flags().IntVar(&peekLimit, "limit", 0, "stop after this many frames, 0 for no limit")
}

func runPeek(cmd *cobra.Command, _ []string) error {
	codec, err := protocol.NewCodec(codecName)
	if err != nil {
		return err
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	hello, err := protocol.Marshal(codec, protocol.NewConnect(name))
	if err != nil {
		return err
	}
	if err := transport.WriteFrame(conn, hello); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for n := 1; peekLimit == 0 || n <= peekLimit; n++ {
		frame, err := transport.ReadFrame(conn, maxFrame)
		if err != nil {
			return err
		}
		env, err := protocol.Unmarshal(codec, frame, maxFrame)
		if err != nil {
			fmt.Fprintf(out, "#%d %d bytes undecodable: %v\n", n, len(frame), err)
			continue
		}
		meta, _ := json.Marshal(env.Metadata)
		fmt.Fprintf(out, "#%d %d bytes kind=%s id=%s sender=%q text=%q binary=%d metadata=%s\n",
			n, len(frame), env.Kind, env.ID, env.Sender, env.Text, len(env.Binary), meta)
		if env.Kind == protocol.KindPing {
			pong, _ := protocol.Marshal(codec, protocol.NewPong(env.ID))
			if err := transport.WriteFrame(conn, pong); err != nil {
				return err
			}
		}
	}
	return nil
}
