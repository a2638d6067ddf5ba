package ethernet_test

import (
	"errors"
	"testing"

	"github.com/dantte-lp/gonetstack/internal/ethernet"
	"github.com/dantte-lp/gonetstack/internal/netaddr"
	"github.com/dantte-lp/gonetstack/internal/netdev"
	"github.com/dantte-lp/gonetstack/internal/stackerr"
	"github.com/dantte-lp/gonetstack/internal/wire"
)

func dummyDevice(transmit func(*netdev.Device, []byte) error) *netdev.Device {
	return netdev.New(netdev.Config{
		Name:  "dummy",
		Type:  netdev.TypeEthernet,
		MTU:   1500,
		Flags: netdev.FlagUp,
		Ops: netdev.Ops{
			Transmit: transmit,
		},
	})
}

func TestIngressUnsupportedEthertype(t *testing.T) {
	t.Parallel()

	l := ethernet.New(nil)
	dev := dummyDevice(nil)
	frame := make([]byte, wire.EthHeaderLen)
	frame[12], frame[13] = 0x12, 0x34

	err := l.Ingress(dev, frame)
	if !errors.Is(err, stackerr.ErrUnsupportedProto) {
		t.Fatalf("Ingress() error = %v, want ErrUnsupportedProto", err)
	}
}

func TestIngressFrameTooShort(t *testing.T) {
	t.Parallel()

	l := ethernet.New(nil)
	dev := dummyDevice(nil)
	err := l.Ingress(dev, make([]byte, wire.EthHeaderLen-1))
	if !errors.Is(err, stackerr.ErrPacketTooShort) {
		t.Fatalf("Ingress() error = %v, want ErrPacketTooShort", err)
	}
}

func TestIngressDispatchesToRegisteredHandler(t *testing.T) {
	t.Parallel()

	l := ethernet.New(nil)
	var gotPayload []byte
	l.Register(wire.EthertypeIPv4, func(dev *netdev.Device, payload []byte) error {
		gotPayload = payload
		return nil
	})

	dev := dummyDevice(nil)
	frame := make([]byte, wire.EthHeaderLen+4)
	hdr := wire.NewEthFrameMut(frame)
	hdr.SetEthertype(wire.EthertypeIPv4)
	copy(hdr.PayloadMut(), []byte{1, 2, 3, 4})

	if err := l.Ingress(dev, frame); err != nil {
		t.Fatalf("Ingress() error = %v", err)
	}
	if len(gotPayload) != 4 || gotPayload[0] != 1 {
		t.Fatalf("handler received payload = %v", gotPayload)
	}
}

func TestEgressRejectsDownDevice(t *testing.T) {
	t.Parallel()

	l := ethernet.New(nil)
	dev := netdev.New(netdev.Config{Name: "down"})
	err := l.Egress(dev, netaddr.Broadcast, wire.EthertypeARP, []byte{1})
	if !errors.Is(err, stackerr.ErrNotConnected) {
		t.Fatalf("Egress() error = %v, want ErrNotConnected", err)
	}
}

func TestEgressFramesAndTransmits(t *testing.T) {
	t.Parallel()

	var transmitted []byte
	dev := dummyDevice(func(_ *netdev.Device, frame []byte) error {
		transmitted = frame
		return nil
	})
	dev.HWAddr = netaddr.HardwareAddr{0x02, 0, 0, 0, 0, 1}

	l := ethernet.New(nil)
	if err := l.Egress(dev, netaddr.Broadcast, wire.EthertypeARP, []byte{0xaa, 0xbb}); err != nil {
		t.Fatalf("Egress() error = %v", err)
	}

	f, err := wire.NewEthFrame(transmitted)
	if err != nil {
		t.Fatalf("NewEthFrame() error = %v", err)
	}
	if f.Ethertype() != wire.EthertypeARP {
		t.Errorf("Ethertype() = 0x%04x, want 0x%04x", f.Ethertype(), wire.EthertypeARP)
	}
	if f.Dst() != [6]byte(netaddr.Broadcast) {
		t.Errorf("Dst() = %v, want broadcast", f.Dst())
	}
	if f.Src() != [6]byte(dev.HWAddr) {
		t.Errorf("Src() = %v, want device HW addr", f.Src())
	}
	if string(f.Payload()) != "\xaa\xbb" {
		t.Errorf("Payload() = %v, want [0xaa 0xbb]", f.Payload())
	}
}
