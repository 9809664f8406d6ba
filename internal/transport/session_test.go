package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hongjun500/chat-broadcast/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTCPSessionRoundTrip(t *testing.T) {
	for _, codec := range []protocol.MessageCodec{protocol.JSONCodec{}, protocol.ProtobufCodec{}} {
		t.Run(codec.Name(), func(t *testing.T) {
			c1, c2 := net.Pipe()
			a := NewTCPSession(c1, codec, Options{ReadBufferSize: 3})
			b := NewTCPSession(c2, codec, Options{})
			defer a.Close()
			defer b.Close()

			want := []*protocol.Envelope{
				protocol.NewConnect("alice"),
				protocol.NewChat("alice", "hello room"),
				protocol.NewBinary("alice", []byte{0, 1, 2, 0xff}, "x.bin"),
			}
			go func() {
				for _, e := range want {
					if err := b.WriteEnvelope(e); err != nil {
						t.Errorf("write: %v", err)
						return
					}
				}
			}()

			for _, w := range want {
				got, err := a.ReadEnvelope()
				require.NoError(t, err)
				assert.Equal(t, w.ID, got.ID)
				assert.Equal(t, w.Kind, got.Kind)
				assert.Equal(t, w.Text, got.Text)
				assert.Equal(t, w.Binary, got.Binary)
			}
		})
	}
}

func TestTCPSessionMalformedFrameIsRecoverable(t *testing.T) {
	c1, c2 := net.Pipe()
	sess := NewTCPSession(c1, protocol.JSONCodec{}, Options{})
	defer sess.Close()
	defer c2.Close()

	go func() {
		_ = WriteFrame(c2, []byte("not json"))
		payload, _ := protocol.Marshal(protocol.JSONCodec{}, protocol.NewChat("bob", "still here"))
		_ = WriteFrame(c2, payload)
	}()

	_, err := sess.ReadEnvelope()
	require.Error(t, err)
	assert.True(t, errors.Is(err, protocol.ErrDecode))

	got, err := sess.ReadEnvelope()
	require.NoError(t, err)
	assert.Equal(t, "still here", got.Text)
}

func TestTCPSessionEOFIsFatal(t *testing.T) {
	c1, c2 := net.Pipe()
	sess := NewTCPSession(c1, protocol.JSONCodec{}, Options{})
	defer sess.Close()
	go func() {
		_, _ = c2.Write([]byte{0, 0})
		_ = c2.Close()
	}()
	_, err := sess.ReadEnvelope()
	require.Error(t, err)
	assert.False(t, errors.Is(err, protocol.ErrDecode))
}

func TestTCPSessionCloseIsIdempotent(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c2.Close()
	sess := NewTCPSession(c1, protocol.JSONCodec{}, Options{})
	assert.NoError(t, sess.Close())
	assert.NoError(t, sess.Close())

	err := sess.WriteEnvelope(protocol.NewPing())
	assert.True(t, errors.Is(err, ErrSessionClosed))
}

func TestTCPSessionTruncatedFrameIsUnexpectedEOF(t *testing.T) {
	c1, c2 := net.Pipe()
	sess := NewTCPSession(c1, protocol.JSONCodec{}, Options{})
	defer sess.Close()
	go func() {
		_, _ = c2.Write([]byte{0, 0, 0, 10, '{'})
		_ = c2.Close()
	}()
	_, err := sess.ReadEnvelope()
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestTCPSessionSkipsOversizeFrame(t *testing.T) {
	c1, c2 := net.Pipe()
	sess := NewTCPSession(c1, protocol.JSONCodec{}, Options{MaxFrameSize: 64})
	defer sess.Close()
	defer c2.Close()

	go func() {
		_ = WriteFrame(c2, []byte(strings.Repeat("x", 200)))
		payload, _ := protocol.Marshal(protocol.JSONCodec{}, protocol.NewChat("bob", "small"))
		_ = WriteFrame(c2, payload)
	}()

	_, err := sess.ReadEnvelope()
	assert.True(t, errors.Is(err, protocol.ErrDecode))
	assert.True(t, errors.Is(err, ErrFrameTooLarge))

	got, err := sess.ReadEnvelope()
	require.NoError(t, err)
	assert.Equal(t, "small", got.Text)
}

func TestTCPServerServesUntilCanceled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	served := make(chan string, 1)
	gw := GatewayFunc(func(ctx context.Context, sess Session) {
		defer sess.Close()
		env, err := sess.ReadEnvelope()
		if err == nil {
			served <- env.Sender
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	srv := &TCPServer{Codec: protocol.JSONCodec{}}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln, gw) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	payload, _ := protocol.Marshal(protocol.JSONCodec{}, protocol.NewConnect("dora"))
	require.NoError(t, WriteFrame(conn, payload))

	select {
	case name := <-served:
		assert.Equal(t, "dora", name)
	case <-time.After(2 * time.Second):
		t.Fatal("gateway never saw the envelope")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestWebSocketSessionFrameTypes(t *testing.T) {
	received := make(chan *protocol.Envelope, 4)
	srv := &WebSocketServer{Codec: protocol.JSONCodec{}}
	gw := GatewayFunc(func(ctx context.Context, sess Session) {
		defer sess.Close()
		for {
			env, err := sess.ReadEnvelope()
			if err != nil {
				if errors.Is(err, protocol.ErrDecode) {
					continue
				}
				return
			}
			received <- env
			if err := sess.WriteEnvelope(env); err != nil {
				return
			}
		}
	})
	ts := httptest.NewServer(srv.Handler(context.Background(), gw))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))

	chat := protocol.NewChat("eve", "hi")
	data, _ := protocol.Marshal(protocol.JSONCodec{}, chat)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	bin := protocol.NewBinary("eve", []byte{9, 8, 7}, "n.bin")
	data, _ = protocol.Marshal(protocol.JSONCodec{}, bin)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))

	mt, _, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)

	mt, _, err = conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)

	assert.Equal(t, "hi", (<-received).Text)
	assert.Equal(t, []byte{9, 8, 7}, (<-received).Binary)
}

func TestMessageType(t *testing.T) {
	assert.Equal(t, websocket.TextMessage, MessageType(protocol.JSONCodec{}, protocol.NewPing()))
	assert.Equal(t, websocket.BinaryMessage, MessageType(protocol.JSONCodec{}, protocol.NewBinary("a", nil, "")))
	assert.Equal(t, websocket.BinaryMessage, MessageType(protocol.JSONCodec{}, &protocol.Envelope{Kind: protocol.KindBinary}))
	assert.Equal(t, websocket.TextMessage, MessageType(protocol.JSONCodec{}, &protocol.Envelope{Kind: protocol.KindChat, Binary: []byte{}}))
	assert.Equal(t, websocket.BinaryMessage, MessageType(protocol.ProtobufCodec{}, protocol.NewPing()))
}

func TestWebSocketSessionSkipsOversizeMessage(t *testing.T) {
	received := make(chan string, 2)
	srv := &WebSocketServer{Codec: protocol.JSONCodec{}, Options: Options{MaxFrameSize: 128}}
	gw := GatewayFunc(func(ctx context.Context, sess Session) {
		defer sess.Close()
		for {
			env, err := sess.ReadEnvelope()
			if errors.Is(err, ErrFrameTooLarge) {
				received <- "too_large"
				continue
			}
			if err != nil {
				return
			}
			received <- env.Text
		}
	})
	ts := httptest.NewServer(srv.Handler(context.Background(), gw))
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	big, _ := protocol.Marshal(protocol.JSONCodec{}, protocol.NewChat("eve", strings.Repeat("x", 512)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, big))
	small, _ := protocol.Marshal(protocol.JSONCodec{}, protocol.NewChat("eve", "fits"))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, small))

	assert.Equal(t, "too_large", <-received)
	assert.Equal(t, "fits", <-received)
}
