package aoap

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opencardev/aahead/executor"
	"github.com/opencardev/aahead/usb"
)

type fakeBackend struct {
	events  chan usb.Device
	present []usb.Device
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{events: make(chan usb.Device, 8)}
}

func (b *fakeBackend) List(ctx context.Context) ([]usb.Device, error) { return b.present, nil }

func (b *fakeBackend) Watch(ctx context.Context) (<-chan usb.Device, error) {
	out := make(chan usb.Device, 8)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case dev, ok := <-b.events:
				if !ok {
					return
				}
				out <- dev
			}
		}
	}()
	return out, nil
}

// TestHubResolvesOnAccessoryModeArrival exercises the classify branch
// for a device that is already in AOAP mode.
func TestHubResolvesOnAccessoryModeArrival(t *testing.T) {
	backend := newFakeBackend()
	q := executor.NewQueue(2)
	defer q.Close()

	hub := NewHub(q, backend, testID, time.Millisecond)
	p := hub.Start()

	handle := &usb.MockHandle{}
	backend.events <- usb.Device{
		Descriptor: usb.DeviceDescriptor{VendorID: GoogleVendorID, ProductID: AOAPProductID},
		Open:       func() (usb.DeviceHandle, error) { return handle, nil },
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var got usb.DeviceHandle
	p.Then(func(h usb.DeviceHandle) { got = h; wg.Done() }, func(error) { wg.Done() })
	wg.Wait()

	if got != usb.DeviceHandle(handle) {
		t.Fatalf("expected resolved handle to be the AOAP device's handle")
	}
}

// TestHubDrivesQueryChainForNonAccessoryDevice exercises the
// non-AOAP-phone classify branch: the hub opens the device and starts
// a QueryChain rather than resolving immediately.
func TestHubDrivesQueryChainForNonAccessoryDevice(t *testing.T) {
	backend := newFakeBackend()
	q := executor.NewQueue(2)
	defer q.Close()

	hub := NewHub(q, backend, testID, time.Millisecond)
	p := hub.Start()

	handle := &usb.MockHandle{
		ControlResponses: []usb.MockTransferResult{
			{Data: protocolVersionResponse(2)},
			{}, {}, {}, {}, {}, {},
			{},
		},
	}
	backend.events <- usb.Device{
		Descriptor: usb.DeviceDescriptor{VendorID: 0x04E8, ProductID: 0x6860},
		Open:       func() (usb.DeviceHandle, error) { return handle, nil },
	}

	deadline := time.After(2 * time.Second)
	for {
		var n int
		done := make(chan struct{})
		hub.strand.Post(func() { n = len(hub.chains); close(done) })
		<-done
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for query chain to start")
		case <-time.After(2 * time.Millisecond):
		}
	}

	// The chain resolves and drops itself from hub.chains; the start
	// promise is never resolved by this path (the real re-enumeration
	// as an AOAP device is what ultimately resolves it).
	deadline = time.After(2 * time.Second)
	for {
		var n int
		done := make(chan struct{})
		hub.strand.Post(func() { n = len(hub.chains); close(done) })
		<-done
		if n == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for query chain to complete")
		case <-time.After(2 * time.Millisecond):
		}
	}

	hub.Cancel()
	_ = p
}

// TestHubDrivesQueryChainAfterPendingStartAlreadyResolved guards
// against handleDevice silently dropping non-AOAP arrivals once no
// Start promise is pending: the hub must keep walking every
// subsequent phone through its query chain for as long as it is
// watching, not just while someone is waiting on Start.
func TestHubDrivesQueryChainAfterPendingStartAlreadyResolved(t *testing.T) {
	backend := newFakeBackend()
	q := executor.NewQueue(2)
	defer q.Close()

	hub := NewHub(q, backend, testID, time.Millisecond)
	p := hub.Start()

	firstHandle := &usb.MockHandle{}
	backend.events <- usb.Device{
		Descriptor: usb.DeviceDescriptor{VendorID: GoogleVendorID, ProductID: AOAPProductID},
		Open:       func() (usb.DeviceHandle, error) { return firstHandle, nil },
	}

	var wg sync.WaitGroup
	wg.Add(1)
	p.Then(func(usb.DeviceHandle) { wg.Done() }, func(error) { wg.Done() })
	wg.Wait()

	// hub.pending is now nil; a second, non-AOAP phone arrives with
	// nobody waiting on Start.
	secondHandle := &usb.MockHandle{
		ControlResponses: []usb.MockTransferResult{
			{Data: protocolVersionResponse(2)},
			{}, {}, {}, {}, {}, {},
			{},
		},
	}
	backend.events <- usb.Device{
		Descriptor: usb.DeviceDescriptor{VendorID: 0x04E8, ProductID: 0x6861},
		Open:       func() (usb.DeviceHandle, error) { return secondHandle, nil },
	}

	deadline := time.After(2 * time.Second)
	for {
		var n int
		done := make(chan struct{})
		hub.strand.Post(func() { n = len(hub.chains); close(done) })
		<-done
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for query chain to start for the second arrival")
		case <-time.After(2 * time.Millisecond):
		}
	}

	hub.Cancel()
}

// TestHubEnumeratesAlreadyPresentDevicesOnStart checks that Start
// folds Backend.List's already-attached devices into the same
// classify/resolve path as a live hotplug event, not just future
// arrivals from Watch.
func TestHubEnumeratesAlreadyPresentDevicesOnStart(t *testing.T) {
	backend := newFakeBackend()
	handle := &usb.MockHandle{}
	backend.present = []usb.Device{{
		Descriptor: usb.DeviceDescriptor{VendorID: GoogleVendorID, ProductID: AOAPProductID},
		Open:       func() (usb.DeviceHandle, error) { return handle, nil },
	}}

	q := executor.NewQueue(2)
	defer q.Close()

	hub := NewHub(q, backend, testID, time.Millisecond)
	p := hub.Start()

	var wg sync.WaitGroup
	wg.Add(1)
	var got usb.DeviceHandle
	p.Then(func(h usb.DeviceHandle) { got = h; wg.Done() }, func(error) { wg.Done() })
	wg.Wait()

	if got != usb.DeviceHandle(handle) {
		t.Fatal("expected Start to resolve from the already-present device returned by List")
	}
}
