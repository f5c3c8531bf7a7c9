package aoap

import (
	"testing"

	"github.com/opencardev/aahead/aaerr"
	"github.com/opencardev/aahead/executor"
	"github.com/opencardev/aahead/usb"
)

func TestCreateFindsBulkPairRegardlessOfDescriptorOrder(t *testing.T) {
	cases := []struct {
		name string
		eps  []usb.EndpointDescriptor
	}{
		{
			name: "in then out",
			eps: []usb.EndpointDescriptor{
				{EndpointAddr: 0x81, Attributes: 0x02},
				{EndpointAddr: 0x01, Attributes: 0x02},
			},
		},
		{
			name: "out then in",
			eps: []usb.EndpointDescriptor{
				{EndpointAddr: 0x01, Attributes: 0x02},
				{EndpointAddr: 0x81, Attributes: 0x02},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handle := &usb.MockHandle{
				Config: &usb.ConfigDescriptor{
					Interfaces: []usb.InterfaceDescriptor{
						{InterfaceNumber: 0, Endpoints: tc.eps},
					},
				},
			}
			q := executor.NewQueue(1)
			defer q.Close()

			dev, err := Create(q, handle)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if dev.In.Address() != 0x81 {
				t.Fatalf("expected IN endpoint 0x81, got %#x", dev.In.Address())
			}
			if dev.Out.Address() != 0x01 {
				t.Fatalf("expected OUT endpoint 0x01, got %#x", dev.Out.Address())
			}
			if !handle.ClaimedInterfaces[0] {
				t.Fatal("expected interface 0 to be claimed")
			}
		})
	}
}

func TestCreateSkipsNonBulkEndpoints(t *testing.T) {
	handle := &usb.MockHandle{
		Config: &usb.ConfigDescriptor{
			Interfaces: []usb.InterfaceDescriptor{
				{
					InterfaceNumber: 0,
					Endpoints: []usb.EndpointDescriptor{
						{EndpointAddr: 0x82, Attributes: 0x03}, // interrupt IN, not bulk
					},
				},
				{
					InterfaceNumber: 1,
					Endpoints: []usb.EndpointDescriptor{
						{EndpointAddr: 0x83, Attributes: 0x02},
						{EndpointAddr: 0x02, Attributes: 0x02},
					},
				},
			},
		},
	}
	q := executor.NewQueue(1)
	defer q.Close()

	dev, err := Create(q, handle)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if dev.In.Address() != 0x83 || dev.Out.Address() != 0x02 {
		t.Fatalf("expected to skip interface 0 and claim interface 1's endpoints, got in=%#x out=%#x", dev.In.Address(), dev.Out.Address())
	}
	if !handle.ClaimedInterfaces[1] {
		t.Fatal("expected interface 1 to be claimed")
	}
}

func TestCreateRejectsMissingConfigDescriptor(t *testing.T) {
	handle := &usb.MockHandle{}
	q := executor.NewQueue(1)
	defer q.Close()

	_, err := Create(q, handle)
	kind, ok := aaerr.KindOf(err)
	if !ok || kind != aaerr.KindUSBObtainConfigDescriptor {
		t.Fatalf("got %v", err)
	}
}

func TestCreateRejectsEmptyInterfaces(t *testing.T) {
	handle := &usb.MockHandle{Config: &usb.ConfigDescriptor{}}
	q := executor.NewQueue(1)
	defer q.Close()

	_, err := Create(q, handle)
	kind, ok := aaerr.KindOf(err)
	if !ok || kind != aaerr.KindUSBEmptyInterfaces {
		t.Fatalf("got %v", err)
	}
}

func TestCreateRejectsWhenNoBulkPairFound(t *testing.T) {
	handle := &usb.MockHandle{
		Config: &usb.ConfigDescriptor{
			Interfaces: []usb.InterfaceDescriptor{
				{InterfaceNumber: 0, Endpoints: []usb.EndpointDescriptor{
					{EndpointAddr: 0x81, Attributes: 0x02}, // IN only, no OUT
				}},
			},
		},
	}
	q := executor.NewQueue(1)
	defer q.Close()

	_, err := Create(q, handle)
	kind, ok := aaerr.KindOf(err)
	if !ok || kind != aaerr.KindUSBInvalidDeviceEndpoints {
		t.Fatalf("got %v", err)
	}
}

func TestCreateWrapsClaimInterfaceFailure(t *testing.T) {
	handle := &failClaimHandle{MockHandle: usb.MockHandle{
		Config: &usb.ConfigDescriptor{
			Interfaces: []usb.InterfaceDescriptor{
				{InterfaceNumber: 0, Endpoints: []usb.EndpointDescriptor{
					{EndpointAddr: 0x81, Attributes: 0x02},
					{EndpointAddr: 0x01, Attributes: 0x02},
				}},
			},
		},
	}}
	q := executor.NewQueue(1)
	defer q.Close()

	_, err := Create(q, handle)
	kind, ok := aaerr.KindOf(err)
	if !ok || kind != aaerr.KindUSBClaimInterface {
		t.Fatalf("got %v", err)
	}
}

type failClaimHandle struct {
	usb.MockHandle
}

func (h *failClaimHandle) ClaimInterface(iface uint8) error {
	return errClaimFailed
}

var errClaimFailed = &claimError{}

type claimError struct{}

func (*claimError) Error() string { return "claim failed" }
