package transport

import (
	"context"
	"time"

	"github.com/opencardev/aahead/executor"
	"github.com/opencardev/aahead/promise"
	"github.com/opencardev/aahead/tcp"
)

type tcpPhysical struct {
	base         executor.Executor
	conn         *tcp.Endpoint
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (p *tcpPhysical) Read(ctx context.Context, dst []byte) *promise.Promise[int] {
	return p.bounded(ctx, p.readTimeout, func(c context.Context) *promise.Promise[int] { return p.conn.Read(c, dst) })
}

func (p *tcpPhysical) Write(ctx context.Context, data []byte) *promise.Promise[int] {
	return p.bounded(ctx, p.writeTimeout, func(c context.Context) *promise.Promise[int] { return p.conn.Write(c, data) })
}

// bounded derives a ctx carrying timeout as its deadline (if timeout >
// 0 and ctx has none sooner) and runs do against it, the same deadline
// handling tcp.Endpoint already applies internally via SetReadDeadline/
// SetWriteDeadline. The derived context is cancelled as soon as do
// settles so its timer does not outlive the call.
func (p *tcpPhysical) bounded(ctx context.Context, timeout time.Duration, do func(context.Context) *promise.Promise[int]) *promise.Promise[int] {
	if timeout <= 0 {
		return do(ctx)
	}

	boundedCtx, cancel := context.WithTimeout(ctx, timeout)
	result := promise.New[int](p.base)
	do(boundedCtx).Then(
		func(n int) { cancel(); result.Resolve(n) },
		func(err error) { cancel(); result.Reject(err) },
	)
	return result
}

// NewTCP builds a Transport driven by a single TCP connection used
// for both directions. readTimeout/writeTimeout are the per-call
// fallback timeouts applied as a ctx deadline whenever the caller's
// ctx carries none of its own (0 means no timeout).
func NewTCP(base executor.Executor, conn *tcp.Endpoint, readTimeout, writeTimeout time.Duration) *Transport {
	return New(base, &tcpPhysical{base: base, conn: conn, readTimeout: readTimeout, writeTimeout: writeTimeout})
}
