// Package transport implements the frame-agnostic byte-oriented
// receive/send buffering shared by the USB and TCP physical layers: a
// size-based receive queue backed by an accumulating buffer.Sink, and
// a FIFO send queue, both serialized on their own strand.
package transport

import (
	"context"
	"sync/atomic"

	"github.com/opencardev/aahead/aaerr"
	"github.com/opencardev/aahead/buffer"
	"github.com/opencardev/aahead/executor"
	"github.com/opencardev/aahead/promise"
)

// Physical is the single physical read/write operation a concrete
// transport (USB bulk endpoints, a TCP socket) must provide. Transport
// drives it with the sizes and chunks its own queues require; it does
// not know whether data moves over USB or TCP.
type Physical interface {
	Read(ctx context.Context, dst []byte) *promise.Promise[int]
	Write(ctx context.Context, data []byte) *promise.Promise[int]
}

type receiveRequest struct {
	size    int
	promise *promise.Promise[buffer.Data]
}

type sendRequest struct {
	data    []byte
	promise *promise.Promise[struct{}]
}

// Transport is the shared receive/send engine described above. Use
// NewUSB or NewTCP to obtain one bound to a concrete Physical.
type Transport struct {
	phys Physical

	receiveStrand *executor.Strand
	sendStrand    *executor.Strand

	sink         *buffer.Sink
	receiveQueue []*receiveRequest
	filling      bool

	sendQueue []*sendRequest

	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool
}

// New wraps phys with receive/send queues dispatched on strands backed
// by base.
func New(base executor.Executor, phys Physical) *Transport {
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		phys:          phys,
		receiveStrand: executor.NewStrand(base),
		sendStrand:    executor.NewStrand(base),
		sink:          buffer.NewSink(),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Receive resolves once size bytes have accumulated from the physical
// layer, consuming exactly that many bytes from the head of the
// stream. Multiple outstanding Receive calls with different sizes are
// supported and resolve in the order they were issued, matching
// Transport's size-based flow control.
func (t *Transport) Receive(size int) *promise.Promise[buffer.Data] {
	p := promise.New[buffer.Data](t.receiveStrand)
	t.receiveStrand.Post(func() {
		if t.stopped.Load() {
			p.Reject(aaerr.New(aaerr.KindOperationAborted))
			return
		}
		t.receiveQueue = append(t.receiveQueue, &receiveRequest{size: size, promise: p})
		if len(t.receiveQueue) == 1 {
			t.distributeReceivedData()
		}
	})
	return p
}

// distributeReceivedData runs on receiveStrand. It resolves as many
// queued receive requests as the buffered data allows, and issues
// exactly one physical read when the buffer runs dry for the
// front-of-queue request.
func (t *Transport) distributeReceivedData() {
	for len(t.receiveQueue) > 0 {
		front := t.receiveQueue[0]
		if t.sink.Len() < front.size {
			if t.filling {
				return
			}
			t.filling = true
			dst := t.sink.Fill()
			t.phys.Read(t.ctx, dst.Bytes()).Then(
				func(n int) {
					t.receiveStrand.Post(func() {
						t.filling = false
						t.sink.Commit(n)
						t.distributeReceivedData()
					})
				},
				func(err error) {
					t.receiveStrand.Post(func() {
						t.filling = false
						t.rejectReceiveQueue(err)
					})
				},
			)
			return
		}

		data := t.sink.Consume(front.size)
		t.receiveQueue = t.receiveQueue[1:]
		front.promise.Resolve(data)
	}
}

func (t *Transport) rejectReceiveQueue(err error) {
	queue := t.receiveQueue
	t.receiveQueue = nil
	for _, req := range queue {
		req.promise.Reject(err)
	}
}

// Send enqueues data for transmission, resolving once it has been
// written to the physical layer. Sends complete strictly in the order
// they were issued.
func (t *Transport) Send(data []byte) *promise.Promise[struct{}] {
	p := promise.New[struct{}](t.sendStrand)
	t.sendStrand.Post(func() {
		if t.stopped.Load() {
			p.Reject(aaerr.New(aaerr.KindOperationAborted))
			return
		}
		t.sendQueue = append(t.sendQueue, &sendRequest{data: data, promise: p})
		if len(t.sendQueue) == 1 {
			t.enqueueSend()
		}
	})
	return p
}

// enqueueSend runs on sendStrand and drives the front of the send
// queue to completion before moving on to the next entry.
func (t *Transport) enqueueSend() {
	if len(t.sendQueue) == 0 {
		return
	}
	front := t.sendQueue[0]
	t.phys.Write(t.ctx, front.data).Then(
		func(int) {
			t.sendStrand.Post(func() {
				t.sendQueue = t.sendQueue[1:]
				front.promise.Resolve(struct{}{})
				t.enqueueSend()
			})
		},
		func(err error) {
			t.sendStrand.Post(func() {
				queue := t.sendQueue
				t.sendQueue = nil
				for _, req := range queue {
					req.promise.Reject(err)
				}
			})
		},
	)
}

// Stop cancels the outstanding physical operation's context and
// rejects every queued receive and send request with an aborted
// error. Safe to call multiple times.
func (t *Transport) Stop() {
	if !t.stopped.CompareAndSwap(false, true) {
		return
	}

	t.cancel()
	t.receiveStrand.Post(func() { t.rejectReceiveQueue(aaerr.New(aaerr.KindOperationAborted)) })
	t.sendStrand.Post(func() {
		queue := t.sendQueue
		t.sendQueue = nil
		for _, req := range queue {
			req.promise.Reject(aaerr.New(aaerr.KindOperationAborted))
		}
	})
}
