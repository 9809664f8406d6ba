package command

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hongjun500/chat-broadcast/internal/chat"
	"github.com/hongjun500/chat-broadcast/internal/observe"
	"github.com/hongjun500/chat-broadcast/internal/protocol"
	"github.com/hongjun500/chat-broadcast/pkg/errcode"
)

var (
	ErrUnknownCommand = errcode.New(4001, "unknown command")
	// ErrQuit is returned by a handler that wants the issuing connection closed.
	ErrQuit = errcode.New(4002, "client quit")
)

// Context is what a handler sees. Reply reaches the issuing connection only;
// Publish reaches everyone.
type Context struct {
	Sender   string
	Args     []string
	Raw      string
	Sessions *chat.Registry
	Reply    func(*protocol.Envelope)
	Publish  func(*protocol.Envelope)
}

func (c *Context) reply(e *protocol.Envelope) {
	if c.Reply != nil {
		c.Reply(e)
	}
}

func (c *Context) publish(e *protocol.Envelope) {
	if c.Publish != nil {
		c.Publish(e)
	}
}

type HandlerFunc func(ctx *Context) error

type Command struct {
	Name    string
	Aliases []string
	Usage   string
	Help    string
	Handler HandlerFunc
}

type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Command
	list   []*Command
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Command),
		list:   make([]*Command, 0),
	}
}

func (r *Registry) Register(cmd *Command) error {
	if cmd == nil || cmd.Handler == nil {
		return errors.New("command or handler is nil")
	}
	name := strings.ToLower(strings.TrimSpace(cmd.Name))
	if name == "" {
		return errors.New("command name is empty")
	}
	if strings.Contains(name, "/") {
		return fmt.Errorf("command name must not contain '/': %s", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := []string{name}
	for _, item := range cmd.Aliases {
		if alias := strings.ToLower(strings.TrimSpace(item)); alias != "" {
			keys = append(keys, alias)
		}
	}
	for _, k := range keys {
		if _, exists := r.byName[k]; exists {
			return fmt.Errorf("command %s already registered", k)
		}
	}
	for _, k := range keys {
		r.byName[k] = cmd
	}
	r.list = append(r.list, cmd)
	return nil
}

func (r *Registry) Get(name string) (*Command, bool) {
	k := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/"))
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.byName[k]
	return cmd, ok
}

// List returns commands in registration order.
func (r *Registry) List() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Command, len(r.list))
	copy(out, r.list)
	return out
}

// IsCommand reports whether a chat text should be routed to Execute.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// Execute runs raw if it is a command. Unknown commands and handler failures
// are reported to the issuer with a notification and also returned; ErrQuit
// is returned untouched.
func (r *Registry) Execute(raw string, ctx *Context) (handled bool, err error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "/") {
		return false, nil
	}
	parts := strings.Fields(raw)
	cmdName := strings.TrimPrefix(parts[0], "/")
	cmd, ok := r.Get(cmdName)
	if !ok {
		observe.IncCommandError("not_found")
		ctx.reply(protocol.NewNotification(fmt.Sprintf("unknown command: /%s (type /help for help)", cmdName)))
		return true, ErrUnknownCommand.WithContext(cmdName)
	}

	ctx.Raw = raw
	ctx.Args = parts[1:]
	observe.IncCommand(cmd.Name)
	if err := cmd.Handler(ctx); err != nil {
		if errors.Is(err, ErrQuit) {
			return true, err
		}
		observe.IncCommandError("handler")
		ctx.reply(protocol.NewNotification("/" + cmd.Name + ": " + err.Error()))
		return true, err
	}
	return true, nil
}
