package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hongjun500/chat-broadcast/internal/protocol"
)

const headerSize = 4

// EncodeFrame prefixes payload with its 4-byte big-endian length.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyFrame
	}
	if len(payload) > hardMaxFrameSize {
		return nil, ErrFrameTooLarge.WithContext(fmt.Sprintf("%d bytes", len(payload)))
	}
	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[headerSize:], payload)
	return frame, nil
}

// WriteFrame writes one length-prefixed payload in a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	frame, err := EncodeFrame(payload)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadFrame blocks until one whole frame has been read from r.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint32(header[:]))
	if n == 0 {
		return nil, fmt.Errorf("%w: %w", protocol.ErrDecode, ErrEmptyFrame)
	}
	if maxSize > 0 && n > maxSize {
		if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
			return nil, err
		}
		return nil, tooLarge(n, maxSize)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// FrameDecoder reassembles length-prefixed frames from a byte stream that
// may arrive in arbitrary chunks. Feed appends input; Next pops one frame or
// reports ErrNeedMore when the buffer holds only part of one.
type FrameDecoder struct {
	buf     []byte
	maxSize int
	skip    int // bytes of an oversized payload still to discard
}

func NewFrameDecoder(maxSize int) *FrameDecoder {
	if maxSize <= 0 || maxSize > hardMaxFrameSize {
		maxSize = hardMaxFrameSize
	}
	return &FrameDecoder{maxSize: maxSize}
}

func (d *FrameDecoder) Feed(p []byte) {
	if d.skip > 0 {
		drop := min(d.skip, len(p))
		d.skip -= drop
		p = p[drop:]
	}
	d.buf = append(d.buf, p...)
}

// Buffered reports how many bytes wait for a complete frame, including the
// unread remainder of a payload being discarded.
func (d *FrameDecoder) Buffered() int { return len(d.buf) + d.skip }

// Next returns the next complete payload.
//
// ErrNeedMore: not enough bytes yet, feed more.
// protocol.ErrDecode (ErrEmptyFrame): a zero-length frame was skipped.
// protocol.ErrDecode (ErrFrameTooLarge): an oversized payload is being
// discarded; frames after it decode normally.
func (d *FrameDecoder) Next() ([]byte, error) {
	if d.skip > 0 {
		drop := min(d.skip, len(d.buf))
		d.consume(drop)
		d.skip -= drop
		if d.skip > 0 {
			return nil, ErrNeedMore
		}
	}
	if len(d.buf) < headerSize {
		return nil, ErrNeedMore
	}
	n := int(binary.BigEndian.Uint32(d.buf[:headerSize]))
	if n == 0 {
		d.consume(headerSize)
		return nil, fmt.Errorf("%w: %w", protocol.ErrDecode, ErrEmptyFrame)
	}
	if n > d.maxSize {
		d.consume(headerSize)
		d.skip = n
		drop := min(d.skip, len(d.buf))
		d.consume(drop)
		d.skip -= drop
		return nil, tooLarge(n, d.maxSize)
	}
	if len(d.buf) < headerSize+n {
		return nil, ErrNeedMore
	}
	frame := make([]byte, n)
	copy(frame, d.buf[headerSize:headerSize+n])
	d.consume(headerSize + n)
	return frame, nil
}

func (d *FrameDecoder) consume(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
}

func tooLarge(n, limit int) error {
	return fmt.Errorf("%w: %w", protocol.ErrDecode, ErrFrameTooLarge.WithContext(fmt.Sprintf("%d > %d", n, limit)))
}
