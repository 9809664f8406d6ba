package chat

import "github.com/hongjun500/chat-broadcast/pkg/errcode"

var (
	ErrNameTaken          = errcode.New(2001, "name already in use")
	ErrInvalidName        = errcode.New(2002, "invalid name")
	ErrSlowConsumer       = errcode.New(2003, "subscriber fell too far behind")
	ErrSubscriptionClosed = errcode.New(2004, "subscription closed")
)
