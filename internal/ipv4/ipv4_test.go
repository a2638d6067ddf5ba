package ipv4_test

import (
	"errors"
	"testing"
	"time"

	"github.com/dantte-lp/gonetstack/internal/arp"
	"github.com/dantte-lp/gonetstack/internal/clock"
	"github.com/dantte-lp/gonetstack/internal/ethernet"
	"github.com/dantte-lp/gonetstack/internal/ipv4"
	"github.com/dantte-lp/gonetstack/internal/netaddr"
	"github.com/dantte-lp/gonetstack/internal/netdev"
	"github.com/dantte-lp/gonetstack/internal/route"
	"github.com/dantte-lp/gonetstack/internal/stackerr"
	"github.com/dantte-lp/gonetstack/internal/wire"
)

func newStack(t *testing.T) (*ipv4.Layer, *netdev.Registry, *route.Table) {
	t.Helper()
	devices := netdev.NewRegistry()
	routes := route.NewTable()
	eth := ethernet.New(nil)
	resolver := arp.New(devices, eth, clock.Real{}, nil, nil)
	l := ipv4.New(devices, routes, resolver, eth, time.Second, nil, nil)
	return l, devices, routes
}

func TestIngressRejectsShortPacket(t *testing.T) {
	t.Parallel()
	l, _, _ := newStack(t)
	err := l.Ingress(make([]byte, wire.IPv4HeaderLen-1))
	if !errors.Is(err, stackerr.ErrPacketTooShort) {
		t.Fatalf("Ingress() error = %v, want ErrPacketTooShort", err)
	}
}

func TestIngressRejectsBadVersion(t *testing.T) {
	t.Parallel()
	l, _, _ := newStack(t)
	buf, err := ipv4.BuildPacket(1, netaddr.AddrFromBytes(1, 1, 1, 1), netaddr.AddrFromBytes(2, 2, 2, 2), nil)
	if err != nil {
		t.Fatalf("BuildPacket() error = %v", err)
	}
	buf[0] = 0x55 // version 5
	if err := l.Ingress(buf); !errors.Is(err, stackerr.ErrInvalidVersion) {
		t.Fatalf("Ingress() error = %v, want ErrInvalidVersion", err)
	}
}

func TestIngressRejectsBadChecksum(t *testing.T) {
	t.Parallel()
	l, _, _ := newStack(t)
	buf, err := ipv4.BuildPacket(1, netaddr.AddrFromBytes(1, 1, 1, 1), netaddr.AddrFromBytes(2, 2, 2, 2), nil)
	if err != nil {
		t.Fatalf("BuildPacket() error = %v", err)
	}
	buf[10] ^= 0xff
	if err := l.Ingress(buf); !errors.Is(err, stackerr.ErrChecksumError) {
		t.Fatalf("Ingress() error = %v, want ErrChecksumError", err)
	}
}

func TestIngressDispatchesToRegisteredProtocol(t *testing.T) {
	t.Parallel()
	l, _, _ := newStack(t)

	var gotSrc, gotDst netaddr.Addr
	var gotPayload []byte
	l.RegisterProtocol(wire.ProtoICMP, func(src, dst netaddr.Addr, payload []byte) error {
		gotSrc, gotDst, gotPayload = src, dst, payload
		return nil
	})

	src := netaddr.AddrFromBytes(192, 0, 2, 1)
	dst := netaddr.AddrFromBytes(192, 0, 2, 2)
	buf, err := ipv4.BuildPacket(wire.ProtoICMP, src, dst, []byte{9, 9})
	if err != nil {
		t.Fatalf("BuildPacket() error = %v", err)
	}
	if err := l.Ingress(buf); err != nil {
		t.Fatalf("Ingress() error = %v", err)
	}
	if gotSrc != src || gotDst != dst {
		t.Fatalf("handler got src=%v dst=%v, want %v/%v", gotSrc, gotDst, src, dst)
	}
	if string(gotPayload) != "\x09\x09" {
		t.Fatalf("handler payload = %v, want [9 9]", gotPayload)
	}
}

func TestIngressUnsupportedProtocol(t *testing.T) {
	t.Parallel()
	l, _, _ := newStack(t)
	buf, err := ipv4.BuildPacket(253, netaddr.AddrFromBytes(1, 1, 1, 1), netaddr.AddrFromBytes(2, 2, 2, 2), nil)
	if err != nil {
		t.Fatalf("BuildPacket() error = %v", err)
	}
	if err := l.Ingress(buf); !errors.Is(err, stackerr.ErrUnsupportedProto) {
		t.Fatalf("Ingress() error = %v, want ErrUnsupportedProto", err)
	}
}

func TestEgressRouteLoopbackReinjectsDirectly(t *testing.T) {
	t.Parallel()
	l, devices, _ := newStack(t)

	var received []byte
	var ingressErr error
	lo := netdev.NewLoopback(func(_ *netdev.Device, datagram []byte) error {
		received = datagram
		return ingressErr
	})
	devices.Register(lo)

	if err := l.EgressRoute(wire.ProtoICMP, netaddr.Loopback, []byte{1, 2, 3}); err != nil {
		t.Fatalf("EgressRoute() error = %v", err)
	}
	if len(received) == 0 {
		t.Fatalf("loopback device never received a datagram")
	}
	pkt, err := wire.NewIPv4Packet(received)
	if err != nil {
		t.Fatalf("NewIPv4Packet() error = %v", err)
	}
	if netaddr.Addr(pkt.Dst()) != netaddr.Loopback {
		t.Errorf("Dst() = %v, want loopback", netaddr.Addr(pkt.Dst()))
	}
}

func TestEgressRouteNoMatchingRoute(t *testing.T) {
	t.Parallel()
	l, _, _ := newStack(t)
	err := l.EgressRoute(wire.ProtoICMP, netaddr.AddrFromBytes(203, 0, 113, 1), []byte{1})
	if !errors.Is(err, stackerr.ErrNoSuchNode) {
		t.Fatalf("EgressRoute() error = %v, want ErrNoSuchNode", err)
	}
}

func TestEgressBuildsAndTransmits(t *testing.T) {
	t.Parallel()
	l, _, _ := newStack(t)

	var transmitted []byte
	dev := netdev.New(netdev.Config{
		Name:   "eth0",
		Type:   netdev.TypeEthernet,
		MTU:    1500,
		Flags:  netdev.FlagUp,
		HWAddr: netaddr.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		Ops: netdev.Ops{
			Transmit: func(_ *netdev.Device, frame []byte) error {
				transmitted = frame
				return nil
			},
		},
	})

	src := netaddr.AddrFromBytes(192, 0, 2, 1)
	dst := netaddr.AddrFromBytes(192, 0, 2, 2)
	dstMAC := [6]byte{0x02, 0, 0, 0, 0, 2}
	if err := l.Egress(dev, dstMAC, wire.ProtoICMP, src, dst, []byte{1, 2, 3}); err != nil {
		t.Fatalf("Egress() error = %v", err)
	}
	if len(transmitted) == 0 {
		t.Fatal("Egress() never transmitted a frame")
	}

	frame, err := wire.NewEthFrame(transmitted)
	if err != nil {
		t.Fatalf("NewEthFrame() error = %v", err)
	}
	if frame.Ethertype() != wire.EthertypeIPv4 {
		t.Errorf("Ethertype() = %v, want EthertypeIPv4", frame.Ethertype())
	}
	if frame.Dst() != dstMAC {
		t.Errorf("Dst() = %v, want %v", frame.Dst(), dstMAC)
	}

	pkt, err := wire.NewIPv4Packet(frame.Payload())
	if err != nil {
		t.Fatalf("NewIPv4Packet() error = %v", err)
	}
	if netaddr.Addr(pkt.Src()) != src || netaddr.Addr(pkt.Dst()) != dst {
		t.Errorf("Src/Dst = %v/%v, want %v/%v", netaddr.Addr(pkt.Src()), netaddr.Addr(pkt.Dst()), src, dst)
	}
	if pkt.Protocol() != wire.ProtoICMP {
		t.Errorf("Protocol() = %v, want ProtoICMP", pkt.Protocol())
	}
}

func TestGetSourceAddressPicksCoveringInterface(t *testing.T) {
	t.Parallel()
	l, devices, routes := newStack(t)

	dev := netdev.New(netdev.Config{
		Name:  "eth0",
		Type:  netdev.TypeEthernet,
		Flags: netdev.FlagUp,
		Ops:   netdev.Ops{Transmit: func(*netdev.Device, []byte) error { return nil }},
	})
	iface := netdev.NewInterface(netaddr.AddrFromBytes(192, 0, 2, 2), netaddr.AddrFromBytes(255, 255, 255, 0))
	dev.AddInterface(iface)
	devices.Register(dev)
	if err := routes.Add(route.Entry{
		Dest:   netaddr.AddrFromBytes(192, 0, 2, 0),
		Mask:   netaddr.AddrFromBytes(255, 255, 255, 0),
		Device: "eth0",
	}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	src, err := l.GetSourceAddress(netaddr.AddrFromBytes(192, 0, 2, 9))
	if err != nil {
		t.Fatalf("GetSourceAddress() error = %v", err)
	}
	if src != iface.Addr {
		t.Fatalf("GetSourceAddress() = %v, want %v", src, iface.Addr)
	}
}
