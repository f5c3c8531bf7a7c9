package aahead

import (
	"context"
	"log/slog"
	"sync"

	"github.com/opencardev/aahead/aoap"
	"github.com/opencardev/aahead/config"
	"github.com/opencardev/aahead/crypt"
	"github.com/opencardev/aahead/executor"
	"github.com/opencardev/aahead/frame"
	"github.com/opencardev/aahead/messenger"
	"github.com/opencardev/aahead/promise"
	"github.com/opencardev/aahead/tcp"
	"github.com/opencardev/aahead/transport"
	"github.com/opencardev/aahead/usb"
)

var _ Logger = (*slog.Logger)(nil)

// Client wires a Transport (USB or TCP) to Cryptor, MessageIn/OutStream
// and Messenger, and hands out per-service Channel objects. Build one
// with NewUSB or NewTCP, not directly.
type Client struct {
	base executor.Executor
	cfg  *config.Config
	log  Logger

	transport *transport.Transport
	in        *messenger.InStream
	out       *messenger.OutStream
	messenger *messenger.Messenger

	mu       sync.Mutex
	channels map[frame.ChannelID]*Channel

	cryptorMu sync.Mutex
	cryptor   crypt.Cryptor
}

func newClient(base executor.Executor, t *transport.Transport, cfg *config.Config, log Logger) *Client {
	if cfg == nil {
		cfg = config.New()
	}
	in := messenger.NewInStream(base, t, nil)
	out := messenger.NewOutStream(base, t, nil, cfg.FramePayloadLimit)
	m := messenger.New(base, in, out, cfg.MaxOutstandingSends)
	return &Client{
		base:      base,
		cfg:       cfg,
		log:       orNop(log),
		transport: t,
		in:        in,
		out:       out,
		messenger: m,
		channels:  map[frame.ChannelID]*Channel{},
	}
}

// NewUSB drives USBHub/AOAP discovery to completion — the one blocking
// setup call in this facade, called only during initial connection —
// claims the resulting accessory device's endpoints, and returns a
// Client built on a USB Transport. base may be nil, in which case a
// small shared executor.Queue is created for this Client's lifetime.
func NewUSB(ctx context.Context, cfg *config.Config, backend usb.Backend, base executor.Executor, log Logger) (*Client, error) {
	if cfg == nil {
		cfg = config.New()
	}
	if base == nil {
		base = executor.NewQueue(4)
	}

	hub := aoap.NewHub(base, backend, cfg.Identification, cfg.HotplugRescanDelay)
	handle, err := waitPromise(ctx, hub.Start())
	hub.Cancel()
	if err != nil {
		return nil, err
	}

	dev, err := aoap.Create(base, handle)
	if err != nil {
		return nil, err
	}

	t := transport.NewUSB(base, dev.In, dev.Out, cfg.USBMaxPacketSize, cfg.ReceiveTimeout(), cfg.SendTimeout())
	return newClient(base, t, cfg, log), nil
}

// NewTCP connects to addr over TCP (blocking, called only during
// initial connection) and returns a Client built on a TCP Transport.
func NewTCP(ctx context.Context, cfg *config.Config, addr string, base executor.Executor, log Logger) (*Client, error) {
	if cfg == nil {
		cfg = config.New()
	}
	if base == nil {
		base = executor.NewQueue(4)
	}

	ep, err := tcp.Dial(ctx, base, addr)
	if err != nil {
		return nil, err
	}

	t := transport.NewTCP(base, ep, cfg.ReceiveTimeout(), cfg.SendTimeout())
	return newClient(base, t, cfg, log), nil
}

// Channel returns the Channel for id, creating and starting it (with
// handler registered to receive inbound messages) on first use. The
// control channel (id 0) is marked ClassControl; every other id is
// ClassSpecific.
func (cl *Client) Channel(id frame.ChannelID, handler Handler) *Channel {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if ch, ok := cl.channels[id]; ok {
		return ch
	}

	class := frame.ClassSpecific
	if id == frame.ChannelControl {
		class = frame.ClassControl
	}
	ch := newChannel(cl.base, cl.messenger, id, class, handler, cl.log)
	cl.channels[id] = ch
	ch.Start()
	return ch
}

// Handshake drives the TLS handshake over the PLAIN control channel,
// then switches every channel (including control) to ENCRYPTED. It
// blocks until the handshake completes, fails, or ctx is done.
//
// Call Handshake before registering a Channel for frame.ChannelControl:
// Handshake reads and writes channel 0 directly through Messenger
// while the handshake is in flight, and a concurrently pumping
// control Channel would race it for the same per-channel queue.
func (cl *Client) Handshake(ctx context.Context) error {
	cryptor, err := crypt.NewTLSCryptor(cl.cfg)
	if err != nil {
		return err
	}

	sendHandshakeBytes := func(b []byte) error {
		msg := frame.Message{ChannelID: frame.ChannelControl, Enc: frame.Plain, Class: frame.ClassControl, Payload: b}
		_, err := waitPromise(ctx, cl.messenger.EnqueueSend(msg))
		return err
	}
	recvHandshakeBytes := func() ([]byte, error) {
		msg, err := waitPromise(ctx, cl.messenger.EnqueueReceive(frame.ChannelControl))
		if err != nil {
			return nil, err
		}
		return msg.Payload, nil
	}

	for {
		out, err := cryptor.ReadHandshakeOutput()
		if err != nil {
			return err
		}
		if len(out) > 0 {
			if err := sendHandshakeBytes(out); err != nil {
				return err
			}
		}

		status, err := cryptor.DoHandshake()
		if err != nil {
			return err
		}
		if status == crypt.HandshakeDone {
			break
		}

		in, err := recvHandshakeBytes()
		if err != nil {
			return err
		}
		if err := cryptor.FeedHandshake(in); err != nil {
			return err
		}
	}

	cl.in.SetCryptor(cryptor)
	cl.out.SetCryptor(cryptor)

	cl.cryptorMu.Lock()
	cl.cryptor = cryptor
	cl.cryptorMu.Unlock()

	cl.mu.Lock()
	for _, ch := range cl.channels {
		ch.SetEncryption(frame.Encrypted)
	}
	cl.mu.Unlock()

	cl.log.Info("TLS handshake complete")
	return nil
}

// Stop tears the Client down top to bottom: stops every Channel,
// Messenger, Transport, and closes the Cryptor if the handshake had
// completed. Safe to call once; the embedding application is expected
// to tear the whole connection down this way rather than stopping
// individual components itself.
func (cl *Client) Stop() {
	cl.mu.Lock()
	for _, ch := range cl.channels {
		ch.Stop()
	}
	cl.mu.Unlock()

	cl.messenger.Stop()
	cl.transport.Stop()

	cl.cryptorMu.Lock()
	if cl.cryptor != nil {
		_ = cl.cryptor.Close()
	}
	cl.cryptorMu.Unlock()
}

// waitPromise blocks the calling goroutine until p settles or ctx is
// done, the bridge between this facade's synchronous setup/handshake
// entry points and the otherwise fully async core.
func waitPromise[T any](ctx context.Context, p *promise.Promise[T]) (T, error) {
	done := make(chan struct{})
	var value T
	var err error
	p.Then(
		func(v T) { value = v; close(done) },
		func(e error) { err = e; close(done) },
	)
	select {
	case <-done:
		return value, err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
