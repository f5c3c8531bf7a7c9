package transport

import (
	"context"
	"time"

	"github.com/opencardev/aahead/executor"
	"github.com/opencardev/aahead/promise"
	"github.com/opencardev/aahead/usb"
)

type usbPhysical struct {
	base          executor.Executor
	in, out       *usb.Endpoint
	readTimeout   time.Duration
	writeTimeout  time.Duration
	maxPacketSize int
}

// Read's timeout is usbPhysical's configured readTimeout, used by
// BulkTransfer as a fallback only when ctx carries no deadline of its
// own; 0 means no fallback timeout. Only ctx's deadline reaches the
// transfer: cancelling ctx does not interrupt a transfer already in
// progress.
func (p *usbPhysical) Read(ctx context.Context, dst []byte) *promise.Promise[int] {
	return p.in.BulkTransfer(ctx, dst, p.readTimeout)
}

// Write chunks data into maxPacketSize-sized pieces and issues them as
// sequential bulk transfers, since a single OUT transfer larger than
// the endpoint's max packet size is not guaranteed to be accepted in
// one call. It resolves with len(data) once every chunk has been
// written, or rejects with the first chunk's error.
func (p *usbPhysical) Write(ctx context.Context, data []byte) *promise.Promise[int] {
	result := promise.New[int](p.base)
	p.sendChunk(ctx, data, 0, result)
	return result
}

func (p *usbPhysical) sendChunk(ctx context.Context, data []byte, offset int, result *promise.Promise[int]) {
	if offset == len(data) {
		result.Resolve(len(data))
		return
	}

	end := offset + p.maxPacketSize
	if end > len(data) {
		end = len(data)
	}

	p.out.BulkTransfer(ctx, data[offset:end], p.writeTimeout).Then(
		func(n int) { p.sendChunk(ctx, data, offset+n, result) },
		func(err error) { result.Reject(err) },
	)
}

// NewUSB builds a Transport driven by a pair of USB bulk endpoints: in
// (device-to-host) and out (host-to-device). maxPacketSize bounds each
// individual OUT bulk transfer; outgoing data longer than that is
// split into sequential transfers (defaultUSBMaxPacketSize if <= 0).
// readTimeout/writeTimeout are the per-transfer fallback timeouts used
// whenever the caller's ctx carries no deadline of its own (0 means no
// fallback timeout; cancelling ctx, as Transport.Stop does, does not
// interrupt a transfer already in progress).
func NewUSB(base executor.Executor, in, out *usb.Endpoint, maxPacketSize int, readTimeout, writeTimeout time.Duration) *Transport {
	if maxPacketSize <= 0 {
		maxPacketSize = defaultUSBMaxPacketSize
	}
	return New(base, &usbPhysical{
		base:          base,
		in:            in,
		out:           out,
		readTimeout:   readTimeout,
		writeTimeout:  writeTimeout,
		maxPacketSize: maxPacketSize,
	})
}

// defaultUSBMaxPacketSize mirrors config.Config's own default so a
// Transport built without going through config.New still chunks
// sanely.
const defaultUSBMaxPacketSize = 4096
