// Package aahead is the root facade: it wires Transport, Cryptor,
// MessageIn/OutStream and Messenger together behind a Client, and
// gives an embedding application per-service Channel objects to send
// and receive on.
package aahead

import (
	"context"

	"github.com/opencardev/aahead/frame"
)

// Handler receives complete inbound messages for one channel. The
// core only ever hands it a channel id and opaque payload bytes;
// interpreting those bytes is entirely up to the embedding service.
type Handler interface {
	HandleMessage(ch frame.ChannelID, payload []byte)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ch frame.ChannelID, payload []byte)

// HandleMessage implements Handler.
func (f HandlerFunc) HandleMessage(ch frame.ChannelID, payload []byte) { f(ch, payload) }

// Sender is the routine a service invokes to push a message on its
// channel; *Channel implements it.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

// Logger is satisfied directly by *slog.Logger: the core never
// constructs one with output side effects, callers pass one in (see
// orNop for the nil-logger fallback used when none is given).
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// nopLogger discards everything; used when a Client is constructed
// with a nil Logger rather than forcing every caller to pass one.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func orNop(log Logger) Logger {
	if log == nil {
		return nopLogger{}
	}
	return log
}
