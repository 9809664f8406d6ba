// Package errcode provides small coded sentinel errors shared across layers.
package errcode

import (
	"errors"
	"fmt"
)

// Error is a sentinel carrying a numeric code. Compare with errors.Is.
type Error struct {
	code    int
	msg     string
	context string
}

func (e *Error) Error() string {
	if e.context != "" {
		return fmt.Sprintf("error %d: %s (context: %s)", e.code, e.msg, e.context)
	}
	return fmt.Sprintf("error %d: %s", e.code, e.msg)
}

func (e *Error) Code() int { return e.code }

// Message returns the human text without the code prefix.
func (e *Error) Message() string { return e.msg }

func New(code int, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// WithContext returns a copy annotated with context that still matches the original.
func (e *Error) WithContext(ctx string) error {
	return &contextual{e: Error{code: e.code, msg: e.msg, context: ctx}, base: e}
}

type contextual struct {
	e    Error
	base *Error
}

func (c *contextual) Error() string { return c.e.Error() }

func (c *contextual) Unwrap() error { return c.base }

// CodeOf returns the code of the first *Error in err's chain, or 0.
func CodeOf(err error) int {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code()
	}
	return 0
}

// Describe renders err for end users: message and context, no code.
func Describe(err error) string {
	var c *contextual
	if errors.As(err, &c) {
		return c.e.Message() + ": " + c.e.context
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message()
	}
	return err.Error()
}
