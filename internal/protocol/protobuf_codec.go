package protocol

import (
	"fmt"
	"io"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the Envelope message:
//
//	message Envelope {
//	  string   id        = 1;
//	  Kind     kind      = 2;
//	  string   sender    = 3;
//	  string   text      = 4;
//	  optional bytes binary = 5;
//	  Metadata metadata  = 6;
//	  sint64   timestamp = 7; // unix nanoseconds
//	}
//	message Metadata {
//	  string file_name = 1; int64 size = 2; repeated string users = 3;
//	  string reply_to = 4;  int64 active = 5; uint64 total = 6;
//	}
const (
	fieldID        protowire.Number = 1
	fieldKind      protowire.Number = 2
	fieldSender    protowire.Number = 3
	fieldText      protowire.Number = 4
	fieldBinary    protowire.Number = 5
	fieldMetadata  protowire.Number = 6
	fieldTimestamp protowire.Number = 7

	metaFileName protowire.Number = 1
	metaSize     protowire.Number = 2
	metaUsers    protowire.Number = 3
	metaReplyTo  protowire.Number = 4
	metaActive   protowire.Number = 5
	metaTotal    protowire.Number = 6
)

// ProtobufCodec writes envelopes in protobuf wire format. Binary payloads
// travel as raw bytes, never through a text encoding.
type ProtobufCodec struct{}

func (ProtobufCodec) Name() string  { return Protobuf }
func (ProtobufCodec) Textual() bool { return false }

func (ProtobufCodec) Encode(w io.Writer, e *Envelope) error {
	if e == nil {
		return fmt.Errorf("ProtobufCodec.Encode: envelope is nil")
	}
	if w == nil {
		return fmt.Errorf("ProtobufCodec.Encode: writer is nil")
	}
	_, err := w.Write(appendEnvelope(nil, e))
	if err != nil {
		return fmt.Errorf("ProtobufCodec.Encode: failed to write marshaled data: %w", err)
	}
	return nil
}

func (ProtobufCodec) Decode(r io.Reader, e *Envelope, maxSize int) error {
	if r == nil {
		return fmt.Errorf("ProtobufCodec.Decode: reader is nil")
	}
	data, err := readLimited(r, maxSize)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrDecode)
	}
	var out Envelope
	if err := consumeEnvelope(data, &out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	out.normalize()
	if err := out.Validate(); err != nil {
		return err
	}
	*e = out
	return nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendEnvelope(b []byte, e *Envelope) []byte {
	b = appendString(b, fieldID, e.ID)
	b = appendVarint(b, fieldKind, uint64(e.Kind))
	b = appendString(b, fieldSender, e.Sender)
	b = appendString(b, fieldText, e.Text)
	if e.Binary != nil {
		b = protowire.AppendTag(b, fieldBinary, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Binary)
	}
	if e.Metadata != nil {
		b = protowire.AppendTag(b, fieldMetadata, protowire.BytesType)
		b = protowire.AppendBytes(b, appendMetadata(nil, e.Metadata))
	}
	if !e.Timestamp.IsZero() {
		b = protowire.AppendTag(b, fieldTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(e.Timestamp.UnixNano()))
	}
	return b
}

func appendMetadata(b []byte, m *Metadata) []byte {
	b = appendString(b, metaFileName, m.FileName)
	b = appendVarint(b, metaSize, uint64(m.Size))
	for _, u := range m.Users {
		b = protowire.AppendTag(b, metaUsers, protowire.BytesType)
		b = protowire.AppendString(b, u)
	}
	b = appendString(b, metaReplyTo, m.ReplyTo)
	b = appendVarint(b, metaActive, uint64(m.Active))
	b = appendVarint(b, metaTotal, m.Total)
	return b
}

// fieldReader walks tag/value pairs and reports the first wire error.
type fieldReader struct {
	b   []byte
	err error
}

func (r *fieldReader) next() (protowire.Number, protowire.Type, bool) {
	if r.err != nil || len(r.b) == 0 {
		return 0, 0, false
	}
	num, typ, n := protowire.ConsumeTag(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return 0, 0, false
	}
	r.b = r.b[n:]
	return num, typ, true
}

func (r *fieldReader) bytes(typ protowire.Type) []byte {
	if typ != protowire.BytesType {
		r.err = fmt.Errorf("unexpected wire type %d", typ)
		return nil
	}
	v, n := protowire.ConsumeBytes(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return nil
	}
	r.b = r.b[n:]
	return v
}

func (r *fieldReader) varint(typ protowire.Type) uint64 {
	if typ != protowire.VarintType {
		r.err = fmt.Errorf("unexpected wire type %d", typ)
		return 0
	}
	v, n := protowire.ConsumeVarint(r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return 0
	}
	r.b = r.b[n:]
	return v
}

func (r *fieldReader) skip(num protowire.Number, typ protowire.Type) {
	n := protowire.ConsumeFieldValue(num, typ, r.b)
	if n < 0 {
		r.err = protowire.ParseError(n)
		return
	}
	r.b = r.b[n:]
}

func consumeEnvelope(b []byte, e *Envelope) error {
	r := &fieldReader{b: b}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case fieldID:
			e.ID = string(r.bytes(typ))
		case fieldKind:
			v := r.varint(typ)
			if v > 255 {
				return fmt.Errorf("kind %d out of range", v)
			}
			e.Kind = Kind(v)
		case fieldSender:
			e.Sender = string(r.bytes(typ))
		case fieldText:
			e.Text = string(r.bytes(typ))
		case fieldBinary:
			e.Binary = append([]byte{}, r.bytes(typ)...)
		case fieldMetadata:
			raw := r.bytes(typ)
			if r.err != nil {
				break
			}
			m := &Metadata{}
			if err := consumeMetadata(raw, m); err != nil {
				return fmt.Errorf("metadata: %w", err)
			}
			e.Metadata = m
		case fieldTimestamp:
			e.Timestamp = time.Unix(0, protowire.DecodeZigZag(r.varint(typ))).UTC()
		default:
			r.skip(num, typ)
		}
	}
	return r.err
}

func consumeMetadata(b []byte, m *Metadata) error {
	r := &fieldReader{b: b}
	for {
		num, typ, ok := r.next()
		if !ok {
			break
		}
		switch num {
		case metaFileName:
			m.FileName = string(r.bytes(typ))
		case metaSize:
			m.Size = int64(r.varint(typ))
		case metaUsers:
			m.Users = append(m.Users, string(r.bytes(typ)))
		case metaReplyTo:
			m.ReplyTo = string(r.bytes(typ))
		case metaActive:
			m.Active = int(r.varint(typ))
		case metaTotal:
			m.Total = r.varint(typ)
		default:
			r.skip(num, typ)
		}
	}
	return r.err
}
