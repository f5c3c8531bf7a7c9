package usb

import (
	"context"
	"errors"
	"time"
)

var errNoConfigDescriptor = errors.New("usb: mock handle has no configured descriptor")

// MockHandle is a test DeviceHandle whose control and bulk transfer
// outcomes are scripted by the test; once a script runs out, further
// transfers of that kind fail with context.DeadlineExceeded.
type MockHandle struct {
	ClaimedInterfaces map[uint8]bool

	// ControlResponses is consumed in order by ControlTransfer; each
	// entry supplies the bytes written into the caller's buffer (for
	// reads) and the error to return.
	ControlResponses []MockTransferResult
	controlCalls     int

	BulkResponses []MockTransferResult
	bulkCalls     int

	// Config, if set, is returned by GetActiveConfigDescriptor; a nil
	// Config makes that call fail, exercising aoap.Create's
	// KindUSBObtainConfigDescriptor path.
	Config *ConfigDescriptor

	Closed bool
}

// MockTransferResult is one scripted transfer outcome.
type MockTransferResult struct {
	Data []byte
	Err  error
}

func (h *MockHandle) Close() error                        { h.Closed = true; return nil }
func (h *MockHandle) SetConfiguration(int) error           { return nil }
func (h *MockHandle) ClaimInterface(iface uint8) error {
	if h.ClaimedInterfaces == nil {
		h.ClaimedInterfaces = map[uint8]bool{}
	}
	h.ClaimedInterfaces[iface] = true
	return nil
}
func (h *MockHandle) ReleaseInterface(iface uint8) error {
	delete(h.ClaimedInterfaces, iface)
	return nil
}

func (h *MockHandle) ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	if h.controlCalls >= len(h.ControlResponses) {
		return 0, context.DeadlineExceeded
	}
	r := h.ControlResponses[h.controlCalls]
	h.controlCalls++
	if r.Err != nil {
		return 0, r.Err
	}
	n := copy(data, r.Data)
	return n, nil
}

func (h *MockHandle) BulkTransfer(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	if h.bulkCalls >= len(h.BulkResponses) {
		return 0, context.DeadlineExceeded
	}
	r := h.BulkResponses[h.bulkCalls]
	h.bulkCalls++
	if r.Err != nil {
		return 0, r.Err
	}
	n := copy(data, r.Data)
	if n < len(r.Data) {
		return n, nil
	}
	return len(r.Data), nil
}

func (h *MockHandle) GetActiveConfigDescriptor() (*ConfigDescriptor, error) {
	if h.Config == nil {
		return nil, errNoConfigDescriptor
	}
	return h.Config, nil
}
