package icmp_test

import (
	"errors"
	"testing"
	"time"

	"github.com/dantte-lp/gonetstack/internal/arp"
	"github.com/dantte-lp/gonetstack/internal/clock"
	"github.com/dantte-lp/gonetstack/internal/ethernet"
	"github.com/dantte-lp/gonetstack/internal/icmp"
	"github.com/dantte-lp/gonetstack/internal/ipv4"
	"github.com/dantte-lp/gonetstack/internal/netaddr"
	"github.com/dantte-lp/gonetstack/internal/netdev"
	"github.com/dantte-lp/gonetstack/internal/route"
	"github.com/dantte-lp/gonetstack/internal/stackerr"
	"github.com/dantte-lp/gonetstack/internal/wire"
)

func newLoopbackStack(t *testing.T) (*ipv4.Layer, *icmp.Manager) {
	t.Helper()
	devices := netdev.NewRegistry()
	routes := route.NewTable()
	eth := ethernet.New(nil)
	resolver := arp.New(devices, eth, clock.Real{}, nil, nil)
	ip := ipv4.New(devices, routes, resolver, eth, time.Second, nil, nil)
	m := icmp.NewManager(ip, nil)

	lo := netdev.NewLoopback(func(_ *netdev.Device, datagram []byte) error { return ip.Ingress(datagram) })
	devices.Register(lo)
	return ip, m
}

// TestLoopbackEcho reproduces spec.md's scenario 1: an Echo Request to
// 127.0.0.1 yields a matching Echo Reply on a raw socket, both
// checksums valid.
func TestLoopbackEcho(t *testing.T) {
	t.Parallel()
	ip, m := newLoopbackStack(t)

	h, err := m.Alloc()
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}

	payload := []byte("hi")
	req := make([]byte, wire.ICMPEchoHeaderLen+len(payload))
	echo := wire.NewICMPEchoMut(req)
	echo.SetMsgType(wire.ICMPTypeEchoRequest)
	echo.SetID(0x1234)
	echo.SetSeq(1)
	copy(echo.PayloadMut(), payload)
	echo.FillChecksum()

	if err := ip.EgressRoute(wire.ProtoICMP, netaddr.Loopback, req); err != nil {
		t.Fatalf("EgressRoute() error = %v", err)
	}

	src, data, err := m.RecvFrom(h)
	if err != nil {
		t.Fatalf("RecvFrom() error = %v", err)
	}
	if src != netaddr.Loopback {
		t.Fatalf("RecvFrom() src = %v, want loopback", src)
	}
	if !wire.VerifyChecksum(data) {
		t.Fatalf("reply checksum does not verify")
	}
	reply, err := wire.NewICMPEcho(data)
	if err != nil {
		t.Fatalf("NewICMPEcho() error = %v", err)
	}
	if reply.MsgType() != wire.ICMPTypeEchoReply {
		t.Errorf("MsgType() = %d, want EchoReply", reply.MsgType())
	}
	if reply.ID() != 0x1234 || reply.Seq() != 1 {
		t.Errorf("ID/Seq = %d/%d, want 0x1234/1", reply.ID(), reply.Seq())
	}
	if string(reply.Payload()) != "hi" {
		t.Errorf("Payload() = %q, want %q", reply.Payload(), "hi")
	}
}

func TestRecvFromWouldBlockWhenEmpty(t *testing.T) {
	t.Parallel()
	_, m := newLoopbackStack(t)
	h, err := m.Alloc()
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	if _, _, err := m.RecvFrom(h); !errors.Is(err, stackerr.ErrWouldBlock) {
		t.Fatalf("RecvFrom() error = %v, want ErrWouldBlock", err)
	}
}

func TestFreeIsNotIdempotent(t *testing.T) {
	t.Parallel()
	_, m := newLoopbackStack(t)
	h, err := m.Alloc()
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	if err := m.Free(h); err != nil {
		t.Fatalf("Free() error = %v", err)
	}
	if err := m.Free(h); !errors.Is(err, stackerr.ErrInvalidSocketIndex) {
		t.Fatalf("second Free() error = %v, want ErrInvalidSocketIndex", err)
	}
}

func TestIngressBadChecksum(t *testing.T) {
	t.Parallel()
	_, m := newLoopbackStack(t)
	data := make([]byte, wire.ICMPEchoHeaderLen)
	if err := m.Ingress(netaddr.Loopback, netaddr.Loopback, data); !errors.Is(err, stackerr.ErrChecksumError) {
		t.Fatalf("Ingress() error = %v, want ErrChecksumError", err)
	}
}
