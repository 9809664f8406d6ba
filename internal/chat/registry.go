package chat

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hongjun500/chat-broadcast/internal/observe"
	"github.com/hongjun500/chat-broadcast/internal/protocol"
)

const DefaultMaxNameLen = 50

// Session is one registered identity. Values handed out are snapshots.
type Session struct {
	Name        string    `json:"name"`
	RemoteAddr  string    `json:"remote_addr"`
	SessionID   string    `json:"session_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

type Stats struct {
	Active           int       `json:"active"`
	TotalConnections uint64    `json:"total_connections"`
	Sessions         []Session `json:"sessions"`
}

// Registry owns every active Session keyed by name. All methods are safe for
// concurrent use; the lock only guards map and counter updates.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	total    uint64

	validate *validator.Validate
	nameTag  string
	now      func() time.Time
}

func NewRegistry(maxNameLen int) *Registry {
	if maxNameLen <= 0 {
		maxNameLen = DefaultMaxNameLen
	}
	v := validator.New()
	_ = v.RegisterValidation("nowhitespace", func(fl validator.FieldLevel) bool {
		return !strings.ContainsFunc(fl.Field().String(), unicode.IsSpace)
	})
	return &Registry{
		sessions: make(map[string]*Session),
		validate: v,
		nameTag:  fmt.Sprintf("required,max=%d,nowhitespace", maxNameLen),
		now:      time.Now,
	}
}

// ValidateName checks the name rule: non-empty, bounded length, no whitespace.
func (r *Registry) ValidateName(name string) error {
	if err := r.validate.Var(name, r.nameTag); err != nil {
		var reason string
		switch {
		case name == "":
			reason = "name must not be empty"
		case strings.ContainsFunc(name, unicode.IsSpace):
			reason = "name must not contain whitespace"
		default:
			reason = "name is too long"
		}
		return ErrInvalidName.WithContext(reason)
	}
	return nil
}

// Register stores a new session under name. The returned notice announces the
// join and is meant to be published by the caller.
func (r *Registry) Register(name, remoteAddr string) (Session, *protocol.Envelope, error) {
	if err := r.ValidateName(name); err != nil {
		return Session{}, nil, err
	}

	r.mu.Lock()
	if _, exists := r.sessions[name]; exists {
		r.mu.Unlock()
		return Session{}, nil, ErrNameTaken.WithContext(name)
	}
	s := &Session{
		Name:        name,
		RemoteAddr:  remoteAddr,
		SessionID:   uuid.NewString(),
		ConnectedAt: r.now(),
	}
	r.sessions[name] = s
	r.total++
	active := len(r.sessions)
	snapshot := *s
	r.mu.Unlock()

	observe.AddOnline(1)
	notice := protocol.NewNotification(fmt.Sprintf("%s joined the chat (%d users connected)", name, active))
	return snapshot, notice, nil
}

// Unregister removes name. It reports false, with no notice, when name was
// not registered.
func (r *Registry) Unregister(name string) (*protocol.Envelope, bool) {
	r.mu.Lock()
	_, ok := r.sessions[name]
	if ok {
		delete(r.sessions, name)
	}
	r.mu.Unlock()
	if !ok {
		return nil, false
	}
	observe.AddOnline(-1)
	return protocol.NewNotification(name + " left the chat"), true
}

func (r *Registry) Lookup(name string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[name]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// ListNames returns the registered names, sorted.
func (r *Registry) ListNames() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.sessions))
	for name := range r.sessions {
		names = append(names, name)
	}
	r.mu.Unlock()
	sort.Strings(names)
	return names
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Stats takes a consistent snapshot: TotalConnections >= Active always holds.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	st := Stats{
		Active:           len(r.sessions),
		TotalConnections: r.total,
		Sessions:         make([]Session, 0, len(r.sessions)),
	}
	for _, s := range r.sessions {
		st.Sessions = append(st.Sessions, *s)
	}
	r.mu.Unlock()
	sort.Slice(st.Sessions, func(i, j int) bool { return st.Sessions[i].Name < st.Sessions[j].Name })
	return st
}
