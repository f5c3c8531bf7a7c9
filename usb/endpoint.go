package usb

import (
	"context"
	"sync"
	"time"

	"github.com/opencardev/aahead/aaerr"
	"github.com/opencardev/aahead/executor"
	"github.com/opencardev/aahead/promise"
)

// Endpoint wraps one USB endpoint address on an open device handle
// and serializes asynchronous transfers against it through a strand.
// Unlike the libusb-backed original, github.com/kevmo314/go-usb's
// transfers are synchronous calls, so each transfer here runs on its
// own goroutine and reports completion back onto the strand; the
// strand guarantees promise settlement never races with Close.
type Endpoint struct {
	handle  DeviceHandle
	address uint8
	strand  *executor.Strand

	mu       sync.Mutex
	inFlight sync.WaitGroup
	closed   bool
}

// NewEndpoint wraps address on handle, dispatching transfer completions
// through base.
func NewEndpoint(base executor.Executor, handle DeviceHandle, address uint8) *Endpoint {
	return &Endpoint{
		handle:  handle,
		address: address,
		strand:  executor.NewStrand(base),
	}
}

// Address returns the wrapped endpoint address.
func (e *Endpoint) Address() uint8 { return e.address }

// ControlTransfer issues a control transfer; only valid on endpoint 0.
func (e *Endpoint) ControlTransfer(ctx context.Context, requestType, request uint8, value, index uint16, data []byte) *promise.Promise[int] {
	p := promise.New[int](e.strand)
	if e.address != 0 {
		p.Reject(aaerr.New(aaerr.KindUSBInvalidTransferMethod))
		return p
	}
	e.runTransfer(p, func() (int, error) {
		timeout := timeoutFromContext(ctx, DefaultControlTimeout)
		return e.handle.ControlTransfer(requestType, request, value, index, data, timeout)
	})
	return p
}

// BulkTransfer issues a bulk transfer; only valid on a non-zero
// endpoint address.
func (e *Endpoint) BulkTransfer(ctx context.Context, data []byte, timeout time.Duration) *promise.Promise[int] {
	p := promise.New[int](e.strand)
	if e.address == 0 {
		p.Reject(aaerr.New(aaerr.KindUSBInvalidTransferMethod))
		return p
	}
	e.runTransfer(p, func() (int, error) {
		return e.handle.BulkTransfer(e.address, data, timeoutFromContext(ctx, timeout))
	})
	return p
}

func (e *Endpoint) runTransfer(p *promise.Promise[int], do func() (int, error)) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		p.Reject(aaerr.New(aaerr.KindOperationAborted))
		return
	}
	e.inFlight.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.inFlight.Done()
		n, err := do()
		e.strand.Post(func() {
			if err != nil {
				p.Reject(aaerr.Wrap(aaerr.KindUSBTransfer, err))
				return
			}
			p.Resolve(n)
		})
	}()
}

// Close marks the endpoint as no longer accepting new transfers and
// blocks until every in-flight transfer has reported completion. It
// does not close the underlying device handle, which may be shared
// with other endpoints.
func (e *Endpoint) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.inFlight.Wait()
}
