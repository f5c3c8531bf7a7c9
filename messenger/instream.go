// Package messenger implements the message-level layer on top of a
// transport.Transport: frame reassembly and fragmentation
// (InStream/OutStream) and the per-channel demultiplexing front end
// (Messenger) that service channels call into.
package messenger

import (
	"github.com/opencardev/aahead/aaerr"
	"github.com/opencardev/aahead/buffer"
	"github.com/opencardev/aahead/crypt"
	"github.com/opencardev/aahead/executor"
	"github.com/opencardev/aahead/frame"
	"github.com/opencardev/aahead/promise"
	"github.com/opencardev/aahead/transport"
)

// InStream pulls frames from a Transport, decrypts encrypted payloads
// through a Cryptor, and reassembles messages that may arrive
// interleaved across channels.
//
// Rather than juggling a "primary" and an "interleaved" promise slot,
// InStream always resolves the single promise handed to StartReceive
// with whatever message next completes, tagged by its own channel id.
// Demultiplexing onto per-channel queues is entirely Messenger's job.
type InStream struct {
	transport *transport.Transport
	cryptor   crypt.Cryptor
	strand    *executor.Strand

	// partial holds messages still awaiting their LAST frame, keyed by
	// channel, for channels whose frames are currently not the one
	// being read (interleaved with another channel's in-flight frame).
	partial map[frame.ChannelID]*frame.Message

	current     *frame.Message
	currentType frame.FrameType
	shortSize   uint16

	pending *promise.Promise[frame.Message]
}

// NewInStream builds an InStream reading from t, decrypting through
// cryptor (which may be nil if the connection has not yet completed
// its TLS handshake and is still PLAIN-only).
func NewInStream(base executor.Executor, t *transport.Transport, cryptor crypt.Cryptor) *InStream {
	return &InStream{
		transport: t,
		cryptor:   cryptor,
		strand:    executor.NewStrand(base),
		partial:   map[frame.ChannelID]*frame.Message{},
	}
}

// SetCryptor installs or replaces the Cryptor used to decrypt
// encrypted frame payloads, e.g. once a TLS handshake completes and a
// previously PLAIN-only InStream starts seeing ENCRYPTED frames.
func (s *InStream) SetCryptor(cryptor crypt.Cryptor) {
	s.strand.Post(func() { s.cryptor = cryptor })
}

// StartReceive arms the next full-message read. It rejects with
// OPERATION_IN_PROGRESS if a receive is already outstanding; otherwise
// the returned promise resolves with the next message to complete
// across any channel (the caller, Messenger, is responsible for
// routing it by ChannelID).
func (s *InStream) StartReceive() *promise.Promise[frame.Message] {
	p := promise.New[frame.Message](s.strand)
	s.strand.Post(func() {
		if s.pending != nil {
			p.Reject(aaerr.New(aaerr.KindOperationInProgress))
			return
		}
		s.pending = p
		s.readHeader()
	})
	return p
}

func (s *InStream) readHeader() {
	s.transport.Receive(frame.HeaderLen).Then(
		func(d buffer.Data) { s.strand.Post(func() { s.onHeader(d) }) },
		func(err error) { s.strand.Post(func() { s.fail(err) }) },
	)
}

func (s *InStream) onHeader(d buffer.Data) {
	var hb [frame.HeaderLen]byte
	copy(hb[:], d.Bytes())
	hdr := frame.DecodeHeader(hb)

	if hdr.Type == frame.TypeFirst || hdr.Type == frame.TypeBulk {
		s.current = &frame.Message{ChannelID: hdr.ChannelID, Enc: hdr.Enc, Class: hdr.Class}
	} else if existing, ok := s.partial[hdr.ChannelID]; ok {
		s.current = existing
		delete(s.partial, hdr.ChannelID)
	} else {
		// A MIDDLE/LAST frame with no matching partial message: the
		// stream is desynchronized (e.g. after a dropped frame).
		// Start fresh rather than blocking forever.
		s.current = &frame.Message{ChannelID: hdr.ChannelID, Enc: hdr.Enc, Class: hdr.Class}
	}
	s.currentType = hdr.Type
	s.shortSize = hdr.ShortSize

	s.transport.Receive(frame.SizeFieldLen(hdr.Type)).Then(
		func(d buffer.Data) { s.strand.Post(func() { s.onSizeField(d) }) },
		func(err error) { s.strand.Post(func() { s.fail(err) }) },
	)
}

func (s *InStream) onSizeField(d buffer.Data) {
	b := d.Bytes()
	if s.currentType != frame.TypeFirst {
		if got := frame.DecodeRedundantShortSize(b); got != s.shortSize {
			s.fail(aaerr.WithContext(aaerr.KindParsePayload, "redundant short size mismatch", nil))
			return
		}
	}
	// The FIRST frame's 4-byte field is the total assembled message
	// size, informational only: this frame's own payload length was
	// already carried in the header's short size.

	s.transport.Receive(int(s.shortSize)).Then(
		func(d buffer.Data) { s.strand.Post(func() { s.onPayload(d) }) },
		func(err error) { s.strand.Post(func() { s.fail(err) }) },
	)
}

// onPayload appends this frame's payload bytes to s.current as-is,
// ciphertext and all: an encrypted message's ciphertext is only
// decrypted once in full, in finishMessage, the same way OutStream
// only ever calls Encrypt once per whole message before fragmenting
// it into frames. Decrypting per frame instead would feed the TLS
// engine arbitrary byte ranges that need not align to a record
// boundary, and with frames from different channels able to
// interleave on the wire, there would be no way to tell which
// channel's message a given decrypted chunk belonged to.
func (s *InStream) onPayload(d buffer.Data) {
	s.current.AppendPayload(d.Bytes())

	if s.currentType == frame.TypeBulk || s.currentType == frame.TypeLast {
		s.finishMessage()
		return
	}

	s.partial[s.current.ChannelID] = s.current
	s.current = nil
	s.readHeader()
}

func (s *InStream) finishMessage() {
	msg := *s.current
	s.current = nil

	if msg.Enc == frame.Encrypted {
		if s.cryptor == nil {
			s.fail(aaerr.WithContext(aaerr.KindSSLRead, "encrypted message before handshake completed", nil))
			return
		}
		plain, err := s.cryptor.Decrypt(msg.Payload)
		if err != nil {
			s.fail(aaerr.Wrap(aaerr.KindSSLRead, err))
			return
		}
		msg.Payload = plain
	}

	p := s.pending
	s.pending = nil
	p.Resolve(msg)
}

func (s *InStream) fail(err error) {
	s.current = nil
	if s.pending != nil {
		p := s.pending
		s.pending = nil
		p.Reject(err)
	}
}
