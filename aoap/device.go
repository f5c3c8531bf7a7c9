package aoap

import (
	"github.com/opencardev/aahead/aaerr"
	"github.com/opencardev/aahead/executor"
	"github.com/opencardev/aahead/usb"
)

// Device is a claimed AOAP-mode phone: its interface and the bulk IN
// (device-to-host) and OUT (host-to-device) endpoints a Transport
// drives.
type Device struct {
	Handle usb.DeviceHandle
	In     *usb.Endpoint
	Out    *usb.Endpoint

	iface uint8
}

// Create walks handle's active configuration looking for an interface
// with one bulk IN and one bulk OUT endpoint, tolerating either
// descriptor ordering, claims it, and wraps both endpoints. Every
// failure is reported as a distinct aaerr.Kind so a caller can tell a
// missing descriptor apart from a claim failure.
func Create(base executor.Executor, handle usb.DeviceHandle) (*Device, error) {
	cfg, err := handle.GetActiveConfigDescriptor()
	if err != nil {
		return nil, aaerr.Wrap(aaerr.KindUSBObtainConfigDescriptor, err)
	}
	if cfg == nil {
		return nil, aaerr.New(aaerr.KindUSBInvalidConfigDescriptor)
	}
	if len(cfg.Interfaces) == 0 {
		return nil, aaerr.New(aaerr.KindUSBEmptyInterfaces)
	}

	iface, inAddr, outAddr, err := findBulkPair(cfg.Interfaces)
	if err != nil {
		return nil, err
	}

	if err := handle.ClaimInterface(iface); err != nil {
		return nil, aaerr.Wrap(aaerr.KindUSBClaimInterface, err)
	}

	return &Device{
		Handle: handle,
		In:     usb.NewEndpoint(base, handle, inAddr),
		Out:    usb.NewEndpoint(base, handle, outAddr),
		iface:  iface,
	}, nil
}

// findBulkPair returns the first interface carrying exactly one bulk
// IN and one bulk OUT endpoint, in either descriptor order.
func findBulkPair(interfaces []usb.InterfaceDescriptor) (iface uint8, inAddr, outAddr uint8, err error) {
	for _, ifc := range interfaces {
		if len(ifc.Endpoints) == 0 {
			continue
		}

		var in, out uint8
		var haveIn, haveOut bool
		for _, ep := range ifc.Endpoints {
			if !ep.IsBulk() {
				continue
			}
			if ep.IsIn() {
				in, haveIn = ep.EndpointAddr, true
			} else {
				out, haveOut = ep.EndpointAddr, true
			}
		}
		if haveIn && haveOut {
			return ifc.InterfaceNumber, in, out, nil
		}
	}
	return 0, 0, 0, aaerr.New(aaerr.KindUSBInvalidDeviceEndpoints)
}

// Close releases the claimed interface and closes both endpoints'
// transfer queues. It does not close Handle itself: ownership of the
// underlying handle's lifetime is the caller's (the Transport built
// on top of In/Out may outlive other per-device bookkeeping).
func (d *Device) Close() {
	d.In.Close()
	d.Out.Close()
	_ = d.Handle.ReleaseInterface(d.iface)
}
