// Package tcp wraps a TCP connection with the same async, promise-based
// read/write API the usb package exposes over USB endpoints, so the
// transport layer above can treat either transport uniformly.
package tcp

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/opencardev/aahead/aaerr"
	"github.com/opencardev/aahead/executor"
	"github.com/opencardev/aahead/promise"
)

// Endpoint wraps one net.Conn, serializing read and write completions
// through a strand.
type Endpoint struct {
	conn   net.Conn
	strand *executor.Strand

	mu     sync.Mutex
	closed bool
}

// Dial connects to addr over TCP and wraps the resulting connection.
func Dial(ctx context.Context, base executor.Executor, addr string) (*Endpoint, error) {
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, aaerr.Wrap(aaerr.KindTCPTransfer, err)
	}
	return New(base, conn), nil
}

// New wraps an already-connected net.Conn.
func New(base executor.Executor, conn net.Conn) *Endpoint {
	return &Endpoint{conn: conn, strand: executor.NewStrand(base)}
}

// Read fills buf from the connection, honoring ctx's deadline by
// calling SetReadDeadline from ctx, with context.AfterFunc arming an
// early cancellation if ctx ends sooner.
func (e *Endpoint) Read(ctx context.Context, buf []byte) *promise.Promise[int] {
	p := promise.New[int](e.strand)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		p.Reject(aaerr.New(aaerr.KindOperationAborted))
		return p
	}
	e.mu.Unlock()

	go func() {
		restore, stop := e.applyReadContext(ctx)
		defer func() {
			stop()
			restore()
		}()

		n, err := e.conn.Read(buf)
		e.strand.Post(func() {
			if err != nil {
				p.Reject(aaerr.Wrap(aaerr.KindTCPTransfer, err))
				return
			}
			p.Resolve(n)
		})
	}()
	return p
}

// Write sends data over the connection.
func (e *Endpoint) Write(ctx context.Context, data []byte) *promise.Promise[int] {
	p := promise.New[int](e.strand)
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		p.Reject(aaerr.New(aaerr.KindOperationAborted))
		return p
	}
	e.mu.Unlock()

	go func() {
		restore, stop := e.applyWriteContext(ctx)
		defer func() {
			stop()
			restore()
		}()

		n, err := e.conn.Write(data)
		e.strand.Post(func() {
			if err != nil {
				p.Reject(aaerr.Wrap(aaerr.KindTCPTransfer, err))
				return
			}
			p.Resolve(n)
		})
	}()
	return p
}

func (e *Endpoint) applyReadContext(ctx context.Context) (restore func(), stop func() bool) {
	restoreDeadline := func() { _ = e.conn.SetReadDeadline(time.Time{}) }
	if d, ok := ctx.Deadline(); ok {
		_ = e.conn.SetReadDeadline(d)
	}
	stopAfter := context.AfterFunc(ctx, func() { _ = e.conn.SetReadDeadline(time.Now()) })
	return restoreDeadline, stopAfter
}

func (e *Endpoint) applyWriteContext(ctx context.Context) (restore func(), stop func() bool) {
	restoreDeadline := func() { _ = e.conn.SetWriteDeadline(time.Time{}) }
	if d, ok := ctx.Deadline(); ok {
		_ = e.conn.SetWriteDeadline(d)
	}
	stopAfter := context.AfterFunc(ctx, func() { _ = e.conn.SetWriteDeadline(time.Now()) })
	return restoreDeadline, stopAfter
}

// Close closes the underlying connection. Subsequent Read/Write calls
// reject with OPERATION_ABORTED.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return e.conn.Close()
}
