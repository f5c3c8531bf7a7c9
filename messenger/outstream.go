package messenger

import (
	"github.com/opencardev/aahead/crypt"
	"github.com/opencardev/aahead/executor"
	"github.com/opencardev/aahead/frame"
	"github.com/opencardev/aahead/promise"
	"github.com/opencardev/aahead/transport"
)

// OutStream fragments a Message into frames, encrypting the payload
// first when required, and writes the resulting frames through a
// Transport sequentially. Its own strand owns the cryptor field, so a
// caller driving Stream from an unrelated strand (Messenger's send
// strand) never reads it mid-write.
type OutStream struct {
	transport *transport.Transport
	cryptor   crypt.Cryptor
	strand    *executor.Strand
	limit     int
}

// NewOutStream builds an OutStream writing to t, encrypting through
// cryptor (nil until a handshake completes), fragmenting payloads
// larger than limit bytes (frame.DefaultPayloadLimit if limit <= 0).
func NewOutStream(base executor.Executor, t *transport.Transport, cryptor crypt.Cryptor, limit int) *OutStream {
	if limit <= 0 {
		limit = frame.DefaultPayloadLimit
	}
	return &OutStream{
		transport: t,
		cryptor:   cryptor,
		strand:    executor.NewStrand(base),
		limit:     limit,
	}
}

// SetCryptor installs or replaces the Cryptor used to encrypt
// outgoing payloads, e.g. once a TLS handshake completes and a
// previously PLAIN-only OutStream starts seeing ENCRYPTED messages.
func (s *OutStream) SetCryptor(cryptor crypt.Cryptor) {
	s.strand.Post(func() { s.cryptor = cryptor })
}

// Stream encodes msg as one or more wire frames and writes them via
// the underlying Transport in order, resolving the returned promise
// (bound to exec) once the last frame has been written. Encoding and
// the cryptor read both happen on s.strand, not exec, so they never
// race a concurrent SetCryptor.
func (s *OutStream) Stream(exec executor.Executor, msg frame.Message) *promise.Promise[struct{}] {
	caller := promise.New[struct{}](exec)
	producer := promise.New[struct{}](s.strand)
	promise.Link(producer, caller)

	s.strand.Post(func() {
		payload := msg.Payload
		if msg.Enc == frame.Encrypted {
			ciphertext, err := s.cryptor.Encrypt(payload)
			if err != nil {
				producer.Reject(err)
				return
			}
			payload = ciphertext
		}

		frames := frame.Fragment(frame.Message{
			ChannelID: msg.ChannelID,
			Enc:       msg.Enc,
			Class:     msg.Class,
			Payload:   payload,
		}, s.limit)

		s.sendSequential(frames, 0, producer)
	})
	return caller
}

func (s *OutStream) sendSequential(frames [][]byte, i int, p *promise.Promise[struct{}]) {
	if i == len(frames) {
		p.Resolve(struct{}{})
		return
	}
	s.transport.Send(frames[i]).Then(
		func(struct{}) { s.sendSequential(frames, i+1, p) },
		func(err error) { p.Reject(err) },
	)
}
