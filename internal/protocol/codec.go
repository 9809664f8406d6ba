package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hongjun500/chat-broadcast/pkg/errcode"
)

const (
	Json     = "json"
	Protobuf = "protobuf"
)

// ErrDecode marks a malformed payload. The connection that produced it may
// keep going; only transport failures are fatal.
var ErrDecode = errcode.New(1101, "malformed envelope")

var codecFactories = map[string]func() MessageCodec{
	Json:     func() MessageCodec { return &JSONCodec{} },
	Protobuf: func() MessageCodec { return &ProtobufCodec{} },
}

// MessageCodec serializes one Envelope to and from a self-contained payload.
// Framing is the transport's business.
type MessageCodec interface {
	Name() string
	// Textual reports whether encoded payloads are valid UTF-8 text.
	Textual() bool
	Encode(w io.Writer, e *Envelope) error
	Decode(r io.Reader, e *Envelope, maxSize int) error
}

// NewCodec returns the codec registered under name ("json" or "protobuf").
func NewCodec(name string) (MessageCodec, error) {
	if factory, ok := codecFactories[name]; ok {
		return factory(), nil
	}
	return nil, fmt.Errorf("unsupported codec: %q", name)
}

// Marshal encodes e with c into a fresh buffer.
func Marshal(c MessageCodec, e *Envelope) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.Encode(&buf, e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes one payload with c.
func Unmarshal(c MessageCodec, data []byte, maxSize int) (*Envelope, error) {
	var e Envelope
	if err := c.Decode(bytes.NewReader(data), &e, maxSize); err != nil {
		return nil, err
	}
	return &e, nil
}

func readLimited(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, int64(maxSize)+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxSize {
		return nil, fmt.Errorf("%w: payload exceeds %d bytes", ErrDecode, maxSize)
	}
	return data, nil
}

type JSONCodec struct{}

func (JSONCodec) Name() string  { return Json }
func (JSONCodec) Textual() bool { return true }

func (JSONCodec) Encode(w io.Writer, e *Envelope) error {
	if e == nil {
		return fmt.Errorf("JSONCodec.Encode: envelope is nil")
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("JSONCodec.Encode: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func (JSONCodec) Decode(r io.Reader, e *Envelope, maxSize int) error {
	data, err := readLimited(r, maxSize)
	if err != nil {
		return err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if data[0] != '{' {
		return fmt.Errorf("%w: payload is not a JSON object", ErrDecode)
	}
	var out Envelope
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	out.normalize()
	if err := out.Validate(); err != nil {
		return err
	}
	*e = out
	return nil
}
