package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/hongjun500/chat-broadcast/internal/protocol"
	"github.com/hongjun500/chat-broadcast/internal/transport"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join the room and chat from stdin",
	Long: `Every stdin line is sent as a chat message. Lines starting with "/" are
server commands (/help lists them), except "/upload <path>", which sends a
local file to the room.`,
	RunE: runChat,
}

func runChat(cmd *cobra.Command, _ []string) error {
	codec, err := protocol.NewCodec(codecName)
	if err != nil {
		return err
	}
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	sess := transport.NewTCPSession(conn, codec, transport.Options{MaxFrameSize: maxFrame})
	defer sess.Close()
	if err := sess.WriteEnvelope(protocol.NewConnect(name)); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	done := make(chan error, 1)
	go func() { done <- receive(sess, out) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case err := <-done:
			return err
		case line, ok := <-lines:
			if !ok {
				_ = sess.WriteEnvelope(protocol.NewDisconnect(name))
				return nil
			}
			env, err := outgoing(line)
			if err != nil {
				fmt.Fprintln(out, "!", err)
				continue
			}
			if env == nil {
				continue
			}
			if err := fits(codec, env, sendLimit); err != nil {
				fmt.Fprintln(out, "!", err)
				continue
			}
			if err := sess.WriteEnvelope(env); err != nil {
				return err
			}
		}
	}
}

// outgoing turns one input line into an envelope; nil means nothing to send.
func outgoing(line string) (*protocol.Envelope, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if path, ok := strings.CutPrefix(line, "/upload "); ok {
		path = strings.TrimSpace(path)
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if sendLimit > 0 && info.Size() > int64(sendLimit) {
			return nil, fmt.Errorf("%s is %d bytes, the server accepts at most %d", filepath.Base(path), info.Size(), sendLimit)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return protocol.NewBinary(name, data, filepath.Base(path)), nil
	}
	return protocol.NewChat(name, line), nil
}

// fits refuses envelopes the server would drop for exceeding its frame limit.
func fits(codec protocol.MessageCodec, env *protocol.Envelope, limit int) error {
	if limit <= 0 {
		return nil
	}
	data, err := protocol.Marshal(codec, env)
	if err != nil {
		return err
	}
	if len(data) > limit {
		return fmt.Errorf("message is %d bytes encoded, the server accepts at most %d", len(data), limit)
	}
	return nil
}

// receive prints server traffic and answers server pings until the
// connection ends.
func receive(sess transport.Session, out io.Writer) error {
	for {
		env, err := sess.ReadEnvelope()
		if err != nil {
			if errors.Is(err, protocol.ErrDecode) {
				fmt.Fprintln(out, "! skipped malformed frame:", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "connection closed by server")
				return nil
			}
			return err
		}
		switch env.Kind {
		case protocol.KindPing:
			if err := sess.WriteEnvelope(protocol.NewPong(env.ID)); err != nil {
				return err
			}
			continue
		case protocol.KindPong:
			fmt.Fprintf(out, "pong (reply to %s)\n", env.ReplyTo())
			continue
		}
		fmt.Fprintln(out, env.String())
	}
}
