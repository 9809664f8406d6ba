package chat

import "github.com/hongjun500/chat-broadcast/internal/protocol"

// ShouldDeliver reports whether env may be written to the connection owned
// by self. A client never gets its own chat or binary messages back; every
// other kind passes, notifications included.
func ShouldDeliver(env *protocol.Envelope, self string) bool {
	if env == nil {
		return false
	}
	if env.Sender == "" || env.Sender != self {
		return true
	}
	switch env.Kind {
	case protocol.KindChat, protocol.KindBinary:
		return false
	default:
		return true
	}
}
