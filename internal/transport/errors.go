package transport

import "github.com/hongjun500/chat-broadcast/pkg/errcode"

var (
	ErrSessionClosed = errcode.New(1001, "session is closed")
	ErrFrameTooLarge = errcode.New(1003, "frame too large")
	ErrNeedMore      = errcode.New(1004, "need more data")
	ErrEmptyFrame    = errcode.New(1005, "frame has no payload")
)
