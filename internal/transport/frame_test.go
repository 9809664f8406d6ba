package transport

import (
	"bytes"
	"errors"
	"testing"

	"github.com/hongjun500/chat-broadcast/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrameHeader(t *testing.T) {
	frame, err := EncodeFrame([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 3, 'a', 'b', 'c'}, frame)

	_, err = EncodeFrame(nil)
	assert.True(t, errors.Is(err, ErrEmptyFrame))
}

func TestFrameDecoderByteByByte(t *testing.T) {
	var stream []byte
	for _, p := range []string{"first", "second", "third"} {
		f, err := EncodeFrame([]byte(p))
		require.NoError(t, err)
		stream = append(stream, f...)
	}

	dec := NewFrameDecoder(1 << 10)
	var got []string
	for _, b := range stream {
		dec.Feed([]byte{b})
		for {
			frame, err := dec.Next()
			if errors.Is(err, ErrNeedMore) {
				break
			}
			require.NoError(t, err)
			got = append(got, string(frame))
		}
	}
	assert.Equal(t, []string{"first", "second", "third"}, got)
	assert.Zero(t, dec.Buffered())
}

func TestFrameDecoderNeedMoreIsNotDecodeError(t *testing.T) {
	dec := NewFrameDecoder(1 << 10)
	_, err := dec.Next()
	assert.True(t, errors.Is(err, ErrNeedMore))
	assert.False(t, errors.Is(err, protocol.ErrDecode))

	dec.Feed([]byte{0, 0, 0, 10, 'x'})
	_, err = dec.Next()
	assert.True(t, errors.Is(err, ErrNeedMore))
}

func TestFrameDecoderSkipsEmptyFrame(t *testing.T) {
	dec := NewFrameDecoder(1 << 10)
	good, _ := EncodeFrame([]byte("ok"))
	dec.Feed(append([]byte{0, 0, 0, 0}, good...))

	_, err := dec.Next()
	assert.True(t, errors.Is(err, protocol.ErrDecode))
	assert.True(t, errors.Is(err, ErrEmptyFrame))

	frame, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(frame))
}

func TestFrameDecoderDiscardsOversize(t *testing.T) {
	dec := NewFrameDecoder(8)
	dec.Feed([]byte{0, 0, 0, 9, 'x', 'x'})
	_, err := dec.Next()
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
	assert.True(t, errors.Is(err, protocol.ErrDecode))
	assert.Equal(t, 7, dec.Buffered())

	_, err = dec.Next()
	assert.True(t, errors.Is(err, ErrNeedMore))

	good, _ := EncodeFrame([]byte("ok"))
	dec.Feed(append(bytes.Repeat([]byte{'x'}, 7), good...))
	frame, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(frame))
	assert.Zero(t, dec.Buffered())
}

func TestFrameDecoderDiscardsOversizeByteByByte(t *testing.T) {
	big, _ := EncodeFrame(bytes.Repeat([]byte{'x'}, 32))
	good, _ := EncodeFrame([]byte("after"))
	dec := NewFrameDecoder(8)
	var got []string
	var tooLarge int
	for _, b := range append(big, good...) {
		dec.Feed([]byte{b})
		for {
			frame, err := dec.Next()
			if errors.Is(err, ErrNeedMore) {
				break
			}
			if errors.Is(err, ErrFrameTooLarge) {
				tooLarge++
				continue
			}
			require.NoError(t, err)
			got = append(got, string(frame))
		}
	}
	assert.Equal(t, 1, tooLarge)
	assert.Equal(t, []string{"after"}, got)
}

func TestReadWriteFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("payload")))
	got, err := ReadFrame(&buf, 1<<10)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	buf.Reset()
	require.NoError(t, WriteFrame(&buf, []byte("too long for limit")))
	require.NoError(t, WriteFrame(&buf, []byte("next")))
	_, err = ReadFrame(&buf, 4)
	assert.True(t, errors.Is(err, ErrFrameTooLarge))
	assert.True(t, errors.Is(err, protocol.ErrDecode))

	got, err = ReadFrame(&buf, 4)
	require.NoError(t, err)
	assert.Equal(t, "next", string(got))
}
