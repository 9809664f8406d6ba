package chat

import (
	"testing"

	"github.com/hongjun500/chat-broadcast/internal/protocol"
	"github.com/stretchr/testify/assert"
)

func TestShouldDeliver(t *testing.T) {
	cases := []struct {
		name string
		env  *protocol.Envelope
		self string
		want bool
	}{
		{"nil", nil, "alice", false},
		{"other chat", protocol.NewChat("bob", "hi"), "alice", true},
		{"own chat", protocol.NewChat("alice", "hi"), "alice", false},
		{"own binary", protocol.NewBinary("alice", []byte{1}, "f"), "alice", false},
		{"other binary", protocol.NewBinary("bob", []byte{1}, "f"), "alice", true},
		{"notification", protocol.NewNotification("alice joined"), "alice", true},
		{"own notification", protocol.NewNotification("x").WithSender("alice"), "alice", true},
		{"server ping", protocol.NewPing(), "alice", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ShouldDeliver(tc.env, tc.self))
		})
	}
}
