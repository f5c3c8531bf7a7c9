// Package usb wraps a platform USB host stack with an async,
// strand-serialized transfer API. It does not know anything about
// Android Auto or AOAP; that lives in the aoap package, layered on
// top of the interfaces here.
package usb

import (
	"context"
	"time"
)

// DeviceHandle is the subset of github.com/kevmo314/go-usb's
// DeviceHandleInterface this module drives. It is kept as a narrow
// interface so tests can substitute a fake backend.
type DeviceHandle interface {
	Close() error
	SetConfiguration(config int) error
	ClaimInterface(iface uint8) error
	ReleaseInterface(iface uint8) error
	ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error)
	BulkTransfer(endpoint uint8, data []byte, timeout time.Duration) (int, error)
	GetActiveConfigDescriptor() (*ConfigDescriptor, error)
}

// ConfigDescriptor, InterfaceDescriptor and EndpointDescriptor mirror
// github.com/kevmo314/go-usb's raw descriptor shapes (see
// other_examples/kevmo314-go-usb__types_common.go), composed into the
// nested form the AOAP device setup walk in the aoap package needs:
// one configuration, its interfaces, each interface's endpoints.

// EndpointDescriptor describes one endpoint within an interface.
type EndpointDescriptor struct {
	EndpointAddr  uint8
	Attributes    uint8
	MaxPacketSize uint16
}

// endpointTransferTypeMask isolates the transfer-type bits of an
// endpoint's bmAttributes byte; bulk is value 2.
const (
	endpointTransferTypeMask = 0x03
	endpointTransferTypeBulk = 0x02
	endpointDirectionIn      = 0x80
)

// IsBulk reports whether this endpoint's transfer type is bulk.
func (e EndpointDescriptor) IsBulk() bool {
	return e.Attributes&endpointTransferTypeMask == endpointTransferTypeBulk
}

// IsIn reports whether this endpoint's address bit marks it
// device-to-host.
func (e EndpointDescriptor) IsIn() bool {
	return e.EndpointAddr&endpointDirectionIn != 0
}

// InterfaceDescriptor describes one interface within a configuration.
type InterfaceDescriptor struct {
	InterfaceNumber uint8
	InterfaceClass  uint8
	Endpoints       []EndpointDescriptor
}

// ConfigDescriptor describes the device's active configuration.
type ConfigDescriptor struct {
	ConfigurationValue uint8
	Interfaces         []InterfaceDescriptor
}

// DeviceDescriptor is the subset of device identification fields
// needed to classify a device as an AOAP-capable accessory target.
type DeviceDescriptor struct {
	VendorID      uint16
	ProductID     uint16
	DeviceVersion uint16
}

// Device is one enumerated USB device, before it has been opened.
type Device struct {
	Descriptor DeviceDescriptor
	Location   string // platform-specific bus/address identifier, for logging

	// Open returns an opened handle to this device; it claims no
	// interface (aoap.Create does that). Supplied by the
	// platform backend; kept as a closure rather than an enumerated
	// handle so devices can be listed cheaply without opening them.
	Open func() (DeviceHandle, error)
}

// Backend enumerates and watches for USB devices. Platform-specific
// implementations live in backend_linux.go and friends.
type Backend interface {
	// List returns every currently attached USB device.
	List(ctx context.Context) ([]Device, error)

	// Watch streams device-attached events as they are observed by
	// the platform's hotplug mechanism, until ctx is cancelled.
	Watch(ctx context.Context) (<-chan Device, error)
}

// DefaultControlTimeout bounds AOAP control transfers when the
// caller's context carries no deadline.
const DefaultControlTimeout = 2 * time.Second

func timeoutFromContext(ctx context.Context, fallback time.Duration) time.Duration {
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining > 0 {
			return remaining
		}
	}
	return fallback
}
