package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hongjun500/chat-broadcast/internal/protocol"
	"github.com/hongjun500/chat-broadcast/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutgoing(t *testing.T) {
	name = "alice"

	env, err := outgoing("   ")
	require.NoError(t, err)
	assert.Nil(t, env)

	env, err = outgoing(" /stats ")
	require.NoError(t, err)
	assert.Equal(t, protocol.KindChat, env.Kind)
	assert.Equal(t, "/stats", env.Text)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0o600))
	env, err = outgoing("/upload " + path)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindBinary, env.Kind)
	assert.Equal(t, "notes.txt", env.FileName())
	assert.Equal(t, []byte("abc"), env.Binary)

	_, err = outgoing("/upload /does/not/exist")
	assert.Error(t, err)
}

func TestOutgoingRefusesOversizeUpload(t *testing.T) {
	name = "alice"
	prev := sendLimit
	sendLimit = 16
	t.Cleanup(func() { sendLimit = prev })

	path := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{1}, 17), 0o600))
	_, err := outgoing("/upload " + path)
	assert.ErrorContains(t, err, "at most 16")
}

func TestFits(t *testing.T) {
	codec := protocol.JSONCodec{}
	small := protocol.NewChat("alice", "hi")
	assert.NoError(t, fits(codec, small, 1<<10))
	assert.NoError(t, fits(codec, small, 0))

	big := protocol.NewChat("alice", strings.Repeat("x", 2<<10))
	assert.ErrorContains(t, fits(codec, big, 1<<10), "at most 1024")
}

func TestReceiveAnswersPingAndPrints(t *testing.T) {
	c1, c2 := net.Pipe()
	client := transport.NewTCPSession(c1, protocol.JSONCodec{}, transport.Options{})
	server := transport.NewTCPSession(c2, protocol.JSONCodec{}, transport.Options{})

	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- receive(client, &out) }()

	ping := protocol.NewPing()
	require.NoError(t, server.WriteEnvelope(ping))
	pong, err := server.ReadEnvelope()
	require.NoError(t, err)
	assert.Equal(t, ping.ID, pong.ReplyTo())

	require.NoError(t, server.WriteEnvelope(protocol.NewNotification("hello")))
	require.NoError(t, server.Close())
	require.NoError(t, <-done)
	assert.Contains(t, out.String(), "SYSTEM: hello")
	assert.Contains(t, out.String(), "connection closed by server")
}
