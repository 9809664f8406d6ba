package protocol

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind tags an Envelope. The set is closed; Validate rejects anything else.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindChat
	KindBinary
	KindConnect
	KindDisconnect
	KindNotification
	KindListUsersRequest
	KindListUsersResponse
	KindPing
	KindPong
)

var kindNames = map[Kind]string{
	KindChat:              "chat",
	KindBinary:            "binary",
	KindConnect:           "connect",
	KindDisconnect:        "disconnect",
	KindNotification:      "notification",
	KindListUsersRequest:  "list_users_request",
	KindListUsersResponse: "list_users_response",
	KindPing:              "ping",
	KindPong:              "pong",
}

var kindByName = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) MarshalText() ([]byte, error) {
	n, ok := kindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown kind %d", uint8(k))
	}
	return []byte(n), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	v, ok := ParseKind(string(b))
	if !ok {
		return fmt.Errorf("unknown kind %q", string(b))
	}
	*k = v
	return nil
}

// ParseKind maps a wire name such as "list_users_request" to its Kind.
func ParseKind(s string) (Kind, bool) {
	k, ok := kindByName[s]
	return k, ok
}

// Metadata carries kind-specific extras. Only the fields relevant to the
// envelope's kind are populated.
type Metadata struct {
	FileName string   `json:"file_name,omitempty"`
	Size     int64    `json:"size,omitempty"`
	Users    []string `json:"users,omitempty"`
	ReplyTo  string   `json:"reply_to,omitempty"` // pong -> ping id
	Active   int      `json:"active,omitempty"`
	Total    uint64   `json:"total,omitempty"`
}

// Envelope is the unit exchanged over every transport. Treat it as immutable
// once published: subscribers share the same pointer.
type Envelope struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Sender    string    `json:"sender,omitempty"`
	Text      string    `json:"text,omitempty"`
	Binary    []byte    `json:"binary,omitempty"`
	Metadata  *Metadata `json:"metadata,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newEnvelope(kind Kind) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

func NewChat(sender, text string) *Envelope {
	e := newEnvelope(KindChat)
	e.Sender = sender
	e.Text = text
	return e
}

// NewBinary wraps raw bytes; fileName is optional.
func NewBinary(sender string, data []byte, fileName string) *Envelope {
	e := newEnvelope(KindBinary)
	e.Sender = sender
	if data == nil {
		data = []byte{}
	}
	e.Binary = data
	e.Metadata = &Metadata{FileName: fileName, Size: int64(len(data))}
	return e
}

func NewConnect(name string) *Envelope {
	e := newEnvelope(KindConnect)
	e.Sender = name
	return e
}

func NewDisconnect(name string) *Envelope {
	e := newEnvelope(KindDisconnect)
	e.Sender = name
	return e
}

// NewNotification builds a server-originated message; it has no sender.
func NewNotification(text string) *Envelope {
	e := newEnvelope(KindNotification)
	e.Text = text
	return e
}

func NewListUsersRequest() *Envelope {
	return newEnvelope(KindListUsersRequest)
}

func NewListUsersResponse(users []string) *Envelope {
	e := newEnvelope(KindListUsersResponse)
	if users == nil {
		users = []string{}
	}
	e.Metadata = &Metadata{Users: users}
	return e
}

func NewPing() *Envelope {
	return newEnvelope(KindPing)
}

func NewPong(pingID string) *Envelope {
	e := newEnvelope(KindPong)
	e.Metadata = &Metadata{ReplyTo: pingID}
	return e
}

// Users returns the user list of a ListUsersResponse, nil otherwise.
func (e *Envelope) Users() []string {
	if e == nil || e.Metadata == nil {
		return nil
	}
	return e.Metadata.Users
}

// ReplyTo returns the id of the envelope this one answers.
func (e *Envelope) ReplyTo() string {
	if e == nil || e.Metadata == nil {
		return ""
	}
	return e.Metadata.ReplyTo
}

// FileName returns the optional name attached to a Binary envelope.
func (e *Envelope) FileName() string {
	if e == nil || e.Metadata == nil {
		return ""
	}
	return e.Metadata.FileName
}

// WithSender returns a shallow copy stamped with sender.
func (e *Envelope) WithSender(sender string) *Envelope {
	c := *e
	c.Sender = sender
	if e.Metadata != nil {
		m := *e.Metadata
		c.Metadata = &m
	}
	return &c
}

// normalize restores the empty payload forms that wire encodings omit, so a
// decoded envelope equals the one that was encoded.
func (e *Envelope) normalize() {
	switch e.Kind {
	case KindBinary:
		if e.Binary == nil {
			e.Binary = []byte{}
		}
	case KindListUsersResponse:
		if e.Metadata == nil {
			e.Metadata = &Metadata{}
		}
		if e.Metadata.Users == nil {
			e.Metadata.Users = []string{}
		}
	}
}

// Validate enforces the per-kind payload rules. At most one payload form is
// meaningful for a kind.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrDecode)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrDecode)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %d", ErrDecode, uint8(e.Kind))
	}
	switch e.Kind {
	case KindChat, KindNotification:
		if e.Text == "" {
			return fmt.Errorf("%w: %s requires text", ErrDecode, e.Kind)
		}
		if len(e.Binary) > 0 {
			return fmt.Errorf("%w: %s must not carry binary", ErrDecode, e.Kind)
		}
	case KindBinary:
		if e.Text != "" {
			return fmt.Errorf("%w: binary must not carry text", ErrDecode)
		}
		if e.Metadata != nil && e.Metadata.Users != nil {
			return fmt.Errorf("%w: binary must not carry users", ErrDecode)
		}
	case KindListUsersResponse:
		if e.Text != "" || len(e.Binary) > 0 {
			return fmt.Errorf("%w: list_users_response carries only users", ErrDecode)
		}
	case KindConnect:
		if e.Sender == "" {
			return fmt.Errorf("%w: connect requires sender", ErrDecode)
		}
		fallthrough
	default:
		if e.Text != "" || len(e.Binary) > 0 {
			return fmt.Errorf("%w: %s carries no payload", ErrDecode, e.Kind)
		}
	}
	return nil
}

// String renders the envelope as a chat line.
func (e *Envelope) String() string {
	ts := e.Timestamp.Local().Format("15:04:05")
	sender := e.Sender
	if sender == "" {
		sender = "anonymous"
	}
	switch e.Kind {
	case KindChat:
		return fmt.Sprintf("[%s] %s: %s", ts, sender, e.Text)
	case KindBinary:
		name := e.FileName()
		if name == "" {
			name = "file"
		}
		return fmt.Sprintf("[%s] %s sent a file: %s (%d bytes)", ts, sender, name, len(e.Binary))
	case KindConnect:
		return fmt.Sprintf("[%s] %s connected", ts, sender)
	case KindDisconnect:
		return fmt.Sprintf("[%s] %s disconnected", ts, sender)
	case KindNotification:
		return fmt.Sprintf("[%s] SYSTEM: %s", ts, e.Text)
	case KindListUsersResponse:
		return fmt.Sprintf("[%s] connected users (%d): %v", ts, len(e.Users()), e.Users())
	default:
		return fmt.Sprintf("[%s] %s", ts, e.Kind)
	}
}
