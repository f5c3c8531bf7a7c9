package aahead

import (
	"context"
	"sync/atomic"

	"github.com/opencardev/aahead/aaerr"
	"github.com/opencardev/aahead/executor"
	"github.com/opencardev/aahead/frame"
	"github.com/opencardev/aahead/messenger"
	"github.com/opencardev/aahead/promise"
)

// Channel is a per-service front end bound to its own strand,
// forwarding Send/receive settlement through a promise.Link onto that
// strand even though the underlying Messenger runs on its own pair of
// strands, so a slow service handler never blocks Messenger's
// receive/send strands. Thin glue on top of Messenger for a single
// service.
type Channel struct {
	id        frame.ChannelID
	strand    *executor.Strand
	messenger *messenger.Messenger
	handler   Handler
	log       Logger

	enc     atomic.Uint32 // frame.EncryptionType
	class   frame.FrameClass
	stopped atomic.Bool
}

func newChannel(base executor.Executor, m *messenger.Messenger, id frame.ChannelID, class frame.FrameClass, handler Handler, log Logger) *Channel {
	c := &Channel{
		id:        id,
		strand:    executor.NewStrand(base),
		messenger: m,
		handler:   handler,
		log:       orNop(log),
		class:     class,
	}
	c.enc.Store(uint32(frame.Plain))
	return c
}

// ID returns the channel id this Channel was created for.
func (c *Channel) ID() frame.ChannelID { return c.id }

// SetEncryption switches the encryption type this channel sends and
// expects to receive with, e.g. once the TLS handshake completes and
// Client flips every channel from PLAIN to ENCRYPTED.
func (c *Channel) SetEncryption(enc frame.EncryptionType) {
	c.enc.Store(uint32(enc))
}

func (c *Channel) encryption() frame.EncryptionType {
	return frame.EncryptionType(c.enc.Load())
}

// Send pushes payload as one message on this channel, resolving once
// it has been written to the wire (or rejecting on transport/send
// failure). It implements Sender.
func (c *Channel) Send(ctx context.Context, payload []byte) error {
	msg := frame.Message{ChannelID: c.id, Enc: c.encryption(), Class: c.class, Payload: payload}
	inner := c.messenger.EnqueueSend(msg)

	link := promise.New[struct{}](c.strand)
	promise.Link(inner, link)

	done := make(chan struct{})
	var sendErr error
	link.Then(
		func(struct{}) { close(done) },
		func(err error) { sendErr = err; close(done) },
	)

	select {
	case <-done:
		return sendErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins pulling messages for this channel and dispatching each
// to the registered Handler, re-arming after every delivery until
// Stop is called.
func (c *Channel) Start() {
	c.pumpReceive()
}

func (c *Channel) pumpReceive() {
	inner := c.messenger.EnqueueReceive(c.id)
	link := promise.New[frame.Message](c.strand)
	promise.Link(inner, link)
	link.Then(c.onMessage, c.onReceiveError)
}

func (c *Channel) onMessage(msg frame.Message) {
	if c.handler != nil {
		c.handler.HandleMessage(c.id, msg.Payload)
	}
	if !c.stopped.Load() {
		c.pumpReceive()
	}
}

func (c *Channel) onReceiveError(err error) {
	if aaerr.Aborted(err) {
		return
	}
	c.log.Error("channel receive failed", "channel", c.id, "err", err)
}

// Stop stops re-arming receives for this channel after the next
// in-flight one settles. The underlying Messenger is unaffected;
// Client.Stop tears that down separately.
func (c *Channel) Stop() {
	c.stopped.Store(true)
}
