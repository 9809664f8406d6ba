package server

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hongjun500/chat-broadcast/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.TCPAddr = "127.0.0.1:0"
	cfg.WSAddr = "127.0.0.1:0"
	cfg.HTTPAddr = ""
	return cfg
}

func TestNewWiresConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Codec = "protobuf"
	cfg.IdleTimeout = time.Minute
	s, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "protobuf", s.Codec.Name())
	assert.Equal(t, time.Minute, s.Gateway.IdleTimeout)
	_, ok := s.Commands.Get("/stats")
	assert.True(t, ok)

	ls := s.Listeners()
	require.Len(t, ls, 2)
	assert.Equal(t, "tcp", ls[0].Transport.Name())
	assert.Equal(t, "websocket", ls[1].Transport.Name())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Codec = "yaml"
	_, err := New(cfg)
	assert.True(t, errors.Is(err, config.ErrInvalidConfig))
}

func TestEmptyAddressDisablesListener(t *testing.T) {
	cfg := testConfig()
	cfg.WSAddr = ""
	s, err := New(cfg)
	require.NoError(t, err)
	assert.Len(t, s.Listeners(), 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, err := New(testConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	sub := s.Broadcaster.Subscribe("")
	<-sub.Done()
}

func TestRunReportsListenerFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()

	cfg := testConfig()
	cfg.TCPAddr = busy.Addr().String()
	s, err := New(cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.ErrorContains(t, err, "tcp")
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
