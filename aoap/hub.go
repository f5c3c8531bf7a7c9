package aoap

import (
	"context"
	"time"

	"github.com/opencardev/aahead/aaerr"
	"github.com/opencardev/aahead/executor"
	"github.com/opencardev/aahead/promise"
	"github.com/opencardev/aahead/usb"
)

// Google's USB vendor id and the two product ids a phone re-enumerates
// with once it has accepted the AOAP Start command.
const (
	GoogleVendorID       uint16 = 0x18D1
	AOAPProductID        uint16 = 0x2D00
	AOAPWithADBProductID uint16 = 0x2D01
)

// DefaultRescanDelay is the pause Hub waits after opening a freshly
// arrived non-AOAP device before starting its QueryChain. The original
// aasdk implementation hardcodes this as a workaround for hypervisor
// USB passthrough (VMware) re-enumerating devices more slowly than a
// driving a control transfer immediately can tolerate; here it is a
// configurable knob rather than an unconditional sleep.
const DefaultRescanDelay = time.Second

type chainEntry struct {
	handle usb.DeviceHandle
	cancel context.CancelFunc
}

// Hub watches for USB hotplug arrivals, classifies each one, and
// drives non-AOAP Android phones through a QueryChain to flip them
// into accessory mode. It is long-lived: Start may be called again
// after a previous promise settles, and Cancel may be called multiple
// times across the Hub's life.
type Hub struct {
	backend usb.Backend
	strand  *executor.Strand
	id      Identification

	rescanDelay time.Duration

	pending     *promise.Promise[usb.DeviceHandle]
	watchCancel context.CancelFunc
	chains      []*chainEntry
}

// NewHub builds a Hub watching backend for arrivals, sending id during
// every QueryChain it drives. rescanDelay of 0 uses DefaultRescanDelay.
func NewHub(base executor.Executor, backend usb.Backend, id Identification, rescanDelay time.Duration) *Hub {
	if rescanDelay <= 0 {
		rescanDelay = DefaultRescanDelay
	}
	return &Hub{
		backend:     backend,
		strand:      executor.NewStrand(base),
		id:          id,
		rescanDelay: rescanDelay,
	}
}

// Start begins (or resumes) watching for the next ready accessory
// device, resolving the returned promise once one arrives. Any
// previously pending Start promise is rejected with OPERATION_ABORTED.
func (h *Hub) Start() *promise.Promise[usb.DeviceHandle] {
	p := promise.New[usb.DeviceHandle](h.strand)
	h.strand.Post(func() {
		if h.pending != nil {
			h.pending.Reject(aaerr.New(aaerr.KindOperationAborted))
		}
		h.pending = p

		if h.watchCancel == nil {
			h.registerWatch()
		}
	})
	return p
}

func (h *Hub) registerWatch() {
	ctx, cancel := context.WithCancel(context.Background())
	h.watchCancel = cancel

	events, err := h.backend.Watch(ctx)
	if err != nil {
		cancel()
		h.watchCancel = nil
		if h.pending != nil {
			h.pending.Reject(aaerr.Wrap(aaerr.KindUSBClaimInterface, err))
			h.pending = nil
		}
		return
	}

	// Devices already attached when the watch is registered are
	// synthesized as arrivals too, the same way libusb's hotplug
	// enumeration flag folds the current device list into the
	// callback stream instead of only reporting future events.
	if present, err := h.backend.List(ctx); err == nil {
		for _, d := range present {
			h.handleDevice(ctx, d)
		}
	}

	go func() {
		for dev := range events {
			d := dev
			h.strand.Post(func() { h.handleDevice(ctx, d) })
		}
	}()
}

func (h *Hub) handleDevice(ctx context.Context, dev usb.Device) {
	if isAOAPDevice(dev.Descriptor) {
		if h.pending == nil {
			return
		}
		handle, err := dev.Open()
		if err != nil {
			return
		}
		p := h.pending
		h.pending = nil
		p.Resolve(handle)
		return
	}

	handle, err := dev.Open()
	if err != nil {
		return
	}

	time.AfterFunc(h.rescanDelay, func() {
		h.strand.Post(func() { h.startChain(ctx, handle) })
	})
}

func (h *Hub) startChain(ctx context.Context, handle usb.DeviceHandle) {
	chainCtx, cancel := context.WithCancel(ctx)
	entry := &chainEntry{handle: handle, cancel: cancel}
	h.chains = append(h.chains, entry)

	ep0 := usb.NewEndpoint(h.strand, handle, 0)
	chain := NewQueryChain(h.strand)
	chain.Start(chainCtx, handle, ep0, h.id).Then(
		func(usb.DeviceHandle) { h.strand.Post(func() { h.dropChain(entry) }) },
		func(error) { h.strand.Post(func() { h.dropChain(entry) }) },
	)
}

func (h *Hub) dropChain(entry *chainEntry) {
	for i, e := range h.chains {
		if e == entry {
			h.chains = append(h.chains[:i], h.chains[i+1:]...)
			return
		}
	}
}

// Cancel rejects any pending Start promise, cancels every in-flight
// QueryChain, and deregisters the hotplug watch. Idempotent.
func (h *Hub) Cancel() {
	h.strand.Post(func() {
		if h.pending != nil {
			h.pending.Reject(aaerr.New(aaerr.KindOperationAborted))
			h.pending = nil
		}
		for _, entry := range h.chains {
			entry.cancel()
		}
		h.chains = nil
		if h.watchCancel != nil {
			h.watchCancel()
			h.watchCancel = nil
		}
	})
}

func isAOAPDevice(d usb.DeviceDescriptor) bool {
	return d.VendorID == GoogleVendorID && (d.ProductID == AOAPProductID || d.ProductID == AOAPWithADBProductID)
}
