package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hongjun500/chat-broadcast/internal/protocol"
)

// RegisterBuiltins installs /help, /users, /stats, /ping, /quit and /sendfile.
func RegisterBuiltins(r *Registry) error {
	builtins := []*Command{
		{
			Name:    "help",
			Aliases: []string{"h"},
			Help:    "show this help",
			Handler: func(ctx *Context) error {
				list := r.List()
				lines := make([]string, 0, len(list)+1)
				lines = append(lines, "available commands:")
				for _, c := range list {
					line := "/" + c.Name
					if c.Usage != "" {
						line += " " + c.Usage
					}
					line += " - " + c.Help
					if len(c.Aliases) > 0 {
						line += " (aliases: /" + strings.Join(c.Aliases, ", /") + ")"
					}
					lines = append(lines, line)
				}
				ctx.reply(protocol.NewNotification(strings.Join(lines, "\n")))
				return nil
			},
		},
		{
			Name:    "users",
			Aliases: []string{"who", "list"},
			Help:    "list connected users",
			Handler: func(ctx *Context) error {
				if ctx.Sessions == nil {
					return errors.New("no session registry")
				}
				ctx.reply(protocol.NewListUsersResponse(ctx.Sessions.ListNames()))
				return nil
			},
		},
		{
			Name: "stats",
			Help: "show server statistics",
			Handler: func(ctx *Context) error {
				if ctx.Sessions == nil {
					return errors.New("no session registry")
				}
				st := ctx.Sessions.Stats()
				names := make([]string, 0, len(st.Sessions))
				for _, s := range st.Sessions {
					names = append(names, s.Name)
				}
				e := protocol.NewNotification(fmt.Sprintf("active users: %d, total connections: %d, users: %s",
					st.Active, st.TotalConnections, strings.Join(names, ", ")))
				e.Metadata = &protocol.Metadata{Active: st.Active, Total: st.TotalConnections}
				ctx.reply(e)
				return nil
			},
		},
		{
			Name: "ping",
			Help: "ask the server for a ping",
			Handler: func(ctx *Context) error {
				ctx.reply(protocol.NewPing())
				return nil
			},
		},
		{
			Name:    "quit",
			Aliases: []string{"exit"},
			Help:    "leave the chat",
			Handler: func(ctx *Context) error {
				ctx.reply(protocol.NewNotification("goodbye, " + ctx.Sender))
				return ErrQuit
			},
		},
		{
			Name:  "sendfile",
			Usage: "<file-name> <content...>",
			Help:  "send text content to everyone as a file",
			Handler: func(ctx *Context) error {
				name, content, ok := splitFileArgs(ctx.Raw)
				if !ok {
					return errors.New("usage: /sendfile <file-name> <content...>")
				}
				data := []byte(content)
				ctx.publish(protocol.NewBinary(ctx.Sender, data, name))
				ctx.reply(protocol.NewNotification(fmt.Sprintf("sent %s (%d bytes)", name, len(data))))
				return nil
			},
		},
	}
	for _, c := range builtins {
		if err := r.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// splitFileArgs keeps the content verbatim, inner whitespace included.
func splitFileArgs(raw string) (name, content string, ok bool) {
	_, rest, found := strings.Cut(strings.TrimSpace(raw), " ")
	if !found {
		return "", "", false
	}
	name, content, found = strings.Cut(strings.TrimLeft(rest, " \t"), " ")
	if !found || name == "" || content == "" {
		return "", "", false
	}
	return name, content, true
}
