// Package aoap implements the Android Open Accessory Protocol
// discovery and mode-switch state machine: the USB control-transfer
// handshake that flips a phone from normal USB mode into AOAP
// accessory mode, and the hotplug-driven hub that watches for
// arrivals, classifies them, and drives the handshake.
package aoap

import (
	"context"
	"encoding/binary"

	"github.com/opencardev/aahead/aaerr"
	"github.com/opencardev/aahead/executor"
	"github.com/opencardev/aahead/promise"
	"github.com/opencardev/aahead/usb"
)

// AOAP vendor control request codes, issued on endpoint 0.
const (
	vendorGetProtocolVersion  = 51
	vendorSendIdentification  = 52
	vendorStartAccessoryMode  = 53
)

// Control transfer request types: vendor-specific, device recipient.
const (
	reqTypeVendorIn  = 0xC0 // device-to-host
	reqTypeVendorOut = 0x40 // host-to-device
)

// Identification is the set of six strings sent to the phone during
// SendIdentificationString, indices 0..5 in this order.
type Identification struct {
	Manufacturer string
	Model        string
	Description  string
	Version      string
	URI          string
	Serial       string
}

func (id Identification) ordered() [6]string {
	return [6]string{id.Manufacturer, id.Model, id.Description, id.Version, id.URI, id.Serial}
}

// QueryChain drives one just-plugged phone through the AOAP handshake:
// GetProtocolVersion, then SendIdentificationString for each of the
// six identification strings in order, then Start. Each step issues
// one control transfer and waits for its completion before starting
// the next.
type QueryChain struct {
	strand *executor.Strand
}

// NewQueryChain creates a QueryChain whose steps are serialized on a
// strand layered over base.
func NewQueryChain(base executor.Executor) *QueryChain {
	return &QueryChain{strand: executor.NewStrand(base)}
}

// Start drives handle's endpoint 0 through the handshake. On success
// the phone has issued its Start command and will reboot into
// accessory mode, disappearing and re-enumerating with the AOAP
// vendor/product id pair; the resolved handle is the same one passed
// in, which the caller is expected to discard and instead wait for
// the re-enumeration via USBHub's hotplug watch.
func (c *QueryChain) Start(ctx context.Context, handle usb.DeviceHandle, ep0 *usb.Endpoint, id Identification) *promise.Promise[usb.DeviceHandle] {
	p := promise.New[usb.DeviceHandle](c.strand)
	c.strand.Post(func() {
		c.getProtocolVersion(ctx, ep0, handle, id, p)
	})
	return p
}

func (c *QueryChain) getProtocolVersion(ctx context.Context, ep0 *usb.Endpoint, handle usb.DeviceHandle, id Identification, p *promise.Promise[usb.DeviceHandle]) {
	buf := make([]byte, 2)
	ep0.ControlTransfer(ctx, reqTypeVendorIn, vendorGetProtocolVersion, 0, 0, buf).Then(
		func(n int) {
			c.strand.Post(func() {
				if n < 2 {
					p.Reject(aaerr.WithContext(aaerr.KindUSBAOAPProtocolVersion, "short protocol version response", nil))
					return
				}
				version := binary.LittleEndian.Uint16(buf)
				if version != 1 && version != 2 {
					p.Reject(aaerr.WithContext(aaerr.KindUSBAOAPProtocolVersion, "unsupported protocol version", nil))
					return
				}
				strings := id.ordered()
				c.sendIdentificationString(ctx, ep0, handle, strings, 0, p)
			})
		},
		func(err error) {
			c.strand.Post(func() { p.Reject(aaerr.Wrap(aaerr.KindUSBAOAPProtocolVersion, err)) })
		},
	)
}

func (c *QueryChain) sendIdentificationString(ctx context.Context, ep0 *usb.Endpoint, handle usb.DeviceHandle, strings [6]string, index int, p *promise.Promise[usb.DeviceHandle]) {
	if ctx.Err() != nil {
		p.Reject(aaerr.New(aaerr.KindOperationAborted))
		return
	}
	if index == len(strings) {
		c.start(ctx, ep0, handle, p)
		return
	}

	// The AOAP identification payload is the NUL-terminated string.
	payload := append([]byte(strings[index]), 0x00)
	ep0.ControlTransfer(ctx, reqTypeVendorOut, vendorSendIdentification, 0, uint16(index), payload).Then(
		func(int) {
			c.strand.Post(func() { c.sendIdentificationString(ctx, ep0, handle, strings, index+1, p) })
		},
		func(err error) {
			c.strand.Post(func() { p.Reject(aaerr.Wrap(aaerr.KindUSBSendIdentificationString, err)) })
		},
	)
}

func (c *QueryChain) start(ctx context.Context, ep0 *usb.Endpoint, handle usb.DeviceHandle, p *promise.Promise[usb.DeviceHandle]) {
	ep0.ControlTransfer(ctx, reqTypeVendorOut, vendorStartAccessoryMode, 0, 0, nil).Then(
		func(int) {
			c.strand.Post(func() { p.Resolve(handle) })
		},
		func(err error) {
			c.strand.Post(func() { p.Reject(aaerr.Wrap(aaerr.KindUSBAccessoryStart, err)) })
		},
	)
}

// A QueryChain observes cancellation of the ctx passed to Start (Hub
// cancels it from Hub.Cancel) between steps: once ctx is done, the
// next SendIdentificationString or Start transfer is not issued and
// the promise rejects with OPERATION_ABORTED. A control transfer that
// is already in flight is not interrupted; it runs until it completes
// or its timeout expires.
