package tcp_test

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
	"github.com/dantte-lp/gonetstack/internal/tcp"
	"github.com/dantte-lp/gonetstack/internal/wire"
)

// newLoopbackStack wires an IPv4 layer + TCP manager over a loopback
// device whose transmit callback records every emitted IP datagram
// instead of re-injecting it, so tests can inspect segments the
// manager queues without triggering recursive ingress processing.
func newLoopbackStack(t *testing.T) (*tcp.Manager, *[][]byte) {
	t.Helper()
	devices := netdev.NewRegistry()
	routes := route.NewTable()
	eth := ethernet.New(nil)
	resolver := arp.New(devices, eth, clock.Real{}, nil, nil)
	ip := ipv4.New(devices, routes, resolver, eth, time.Second, nil, nil)

	var captured [][]byte
	lo := netdev.NewLoopback(func(_ *netdev.Device, datagram []byte) error {
		captured = append(captured, append([]byte(nil), datagram...))
		return nil
	})
	devices.Register(lo)

	m := tcp.NewManager(ip, clock.Real{}, nil, nil)
	return m, &captured
}

func buildSegment(srcPort, dstPort uint16, seq, ack uint32, flags uint8, wnd uint16, payload []byte, addr netaddr.Addr) []byte {
	buf := make([]byte, wire.TCPHeaderLen+len(payload))
	seg := wire.NewTCPSegmentMut(buf)
	seg.SetSrcPort(srcPort)
	seg.SetDstPort(dstPort)
	seg.SetSeqNum(seq)
	seg.SetAckNum(ack)
	seg.SetHeaderLen(wire.TCPHeaderLen)
	seg.SetFlags(flags)
	seg.SetWindow(wnd)
	seg.SetUrgentPtr(0)
	copy(seg.PayloadMut(), payload)
	seg.FillChecksum(addr.Bytes(), addr.Bytes())
	return buf
}

func lastSegment(t *testing.T, captured *[][]byte) wire.TCPSegment {
	t.Helper()
	if len(*captured) == 0 {
		t.Fatalf("no segment was emitted")
	}
	datagram := (*captured)[len(*captured)-1]
	pkt, err := wire.NewIPv4Packet(datagram)
	if err != nil {
		t.Fatalf("NewIPv4Packet() error = %v", err)
	}
	seg, err := wire.NewTCPSegment(pkt.Payload())
	if err != nil {
		t.Fatalf("NewTCPSegment() error = %v", err)
	}
	return seg
}

// TestPassiveHandshakeAndAccept reproduces spec.md's scenario 4: a
// listener on 0.0.0.0:80 completes a passive three-way handshake and
// the resulting child is returned by accept.
func TestPassiveHandshakeAndAccept(t *testing.T) {
	t.Parallel()
	m, captured := newLoopbackStack(t)

	listenH, err := m.Alloc()
	if err != nil {
		t.Fatalf("Alloc(listen) error = %v", err)
	}
	if err := m.Listen(listenH, netaddr.Endpoint{Port: 80}); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	syn := buildSegment(5000, 80, 1000, 0, wire.FlagSYN, 8192, nil, netaddr.Loopback)
	if err := m.Ingress(netaddr.Loopback, netaddr.Loopback, syn); err != nil {
		t.Fatalf("Ingress(SYN) error = %v", err)
	}

	synAck := lastSegment(t, captured)
	wantISS := uint32(80*1000 + 12345)
	if synAck.Flags() != wire.FlagSYN|wire.FlagACK {
		t.Fatalf("SYN flags = 0x%02x, want SYN|ACK", synAck.Flags())
	}
	if synAck.SeqNum() != wantISS {
		t.Fatalf("SYN-ACK seq = %d, want %d", synAck.SeqNum(), wantISS)
	}
	if synAck.AckNum() != 1001 {
		t.Fatalf("SYN-ACK ack = %d, want 1001", synAck.AckNum())
	}

	if _, err := m.Accept(listenH); !errors.Is(err, stackerr.ErrWouldBlock) {
		t.Fatalf("premature Accept() error = %v, want ErrWouldBlock", err)
	}

	ack := buildSegment(5000, 80, 1001, wantISS+1, wire.FlagACK, 8192, nil, netaddr.Loopback)
	if err := m.Ingress(netaddr.Loopback, netaddr.Loopback, ack); err != nil {
		t.Fatalf("Ingress(ACK) error = %v", err)
	}
	if err := m.Poll(); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}

	childH, err := m.Accept(listenH)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}
	state, err := m.State(childH)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if state != tcp.StateEstablished {
		t.Fatalf("child state = %v, want ESTABLISHED", state)
	}
}

// TestDataThenFinClose reproduces spec.md's scenario 5: after the
// handshake, a data segment is delivered to recv_slice and a
// subsequent FIN drives CLOSE-WAIT.
func TestDataThenFinClose(t *testing.T) {
	t.Parallel()
	m, captured := newLoopbackStack(t)

	listenH, err := m.Alloc()
	if err != nil {
		t.Fatalf("Alloc(listen) error = %v", err)
	}
	if err := m.Listen(listenH, netaddr.Endpoint{Port: 80}); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	iss := uint32(80*1000 + 12345)
	syn := buildSegment(5000, 80, 1000, 0, wire.FlagSYN, 8192, nil, netaddr.Loopback)
	if err := m.Ingress(netaddr.Loopback, netaddr.Loopback, syn); err != nil {
		t.Fatalf("Ingress(SYN) error = %v", err)
	}
	ack := buildSegment(5000, 80, 1001, iss+1, wire.FlagACK, 8192, nil, netaddr.Loopback)
	if err := m.Ingress(netaddr.Loopback, netaddr.Loopback, ack); err != nil {
		t.Fatalf("Ingress(ACK) error = %v", err)
	}
	if err := m.Poll(); err != nil {
		t.Fatalf("Poll() error = %v", err)
	}
	childH, err := m.Accept(listenH)
	if err != nil {
		t.Fatalf("Accept() error = %v", err)
	}

	payload := []byte("GET /\r\n\r\n")
	data := buildSegment(5000, 80, 1001, iss+1, wire.FlagACK|wire.FlagPSH, 8192, payload, netaddr.Loopback)
	if err := m.Ingress(netaddr.Loopback, netaddr.Loopback, data); err != nil {
		t.Fatalf("Ingress(data) error = %v", err)
	}

	ackSeg := lastSegment(t, captured)
	if ackSeg.AckNum() != 1010 {
		t.Fatalf("data-ack ack = %d, want 1010", ackSeg.AckNum())
	}

	buf := make([]byte, 64)
	n, err := m.Recv(childH, buf)
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if string(buf[:n]) != string(payload) {
		t.Fatalf("Recv() = %q, want %q", buf[:n], payload)
	}

	fin := buildSegment(5000, 80, 1010, iss+1, wire.FlagFIN|wire.FlagACK, 8192, nil, netaddr.Loopback)
	if err := m.Ingress(netaddr.Loopback, netaddr.Loopback, fin); err != nil {
		t.Fatalf("Ingress(FIN) error = %v", err)
	}

	finAck := lastSegment(t, captured)
	if finAck.AckNum() != 1011 {
		t.Fatalf("fin-ack ack = %d, want 1011", finAck.AckNum())
	}
	state, err := m.State(childH)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if state != tcp.StateCloseWait {
		t.Fatalf("state = %v, want CLOSE-WAIT", state)
	}
}

func TestIngressNoMatchingSocketGeneratesRST(t *testing.T) {
	t.Parallel()
	m, captured := newLoopbackStack(t)

	syn := buildSegment(6000, 443, 500, 0, wire.FlagSYN, 4096, nil, netaddr.Loopback)
	if err := m.Ingress(netaddr.Loopback, netaddr.Loopback, syn); err != nil {
		t.Fatalf("Ingress() error = %v", err)
	}
	rst := lastSegment(t, captured)
	if rst.Flags() != wire.FlagRST|wire.FlagACK {
		t.Fatalf("flags = 0x%02x, want RST|ACK", rst.Flags())
	}
	if rst.AckNum() != 501 {
		t.Fatalf("ack = %d, want 501", rst.AckNum())
	}
}

func TestListenFailsWhenNotClosed(t *testing.T) {
	t.Parallel()
	m, _ := newLoopbackStack(t)
	h, err := m.Alloc()
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	if err := m.Listen(h, netaddr.Endpoint{Port: 80}); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	if err := m.Listen(h, netaddr.Endpoint{Port: 81}); !errors.Is(err, stackerr.ErrSocketAlreadyOpen) {
		t.Fatalf("second Listen() error = %v, want ErrSocketAlreadyOpen", err)
	}
}

func TestSendBeforeEstablishedFails(t *testing.T) {
	t.Parallel()
	m, _ := newLoopbackStack(t)
	h, err := m.Alloc()
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	if _, err := m.Send(h, []byte("x")); !errors.Is(err, stackerr.ErrSocketNotOpen) {
		t.Fatalf("Send() error = %v, want ErrSocketNotOpen", err)
	}
}

func TestConnectQueuesSYNWithDeterministicISS(t *testing.T) {
	t.Parallel()
	m, captured := newLoopbackStack(t)
	h, err := m.Alloc()
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	if err := m.Connect(h, netaddr.Endpoint{Addr: netaddr.Loopback}, netaddr.Endpoint{Addr: netaddr.Loopback, Port: 80}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	syn := lastSegment(t, captured)
	if syn.Flags() != wire.FlagSYN {
		t.Fatalf("flags = 0x%02x, want SYN", syn.Flags())
	}
	wantISS := uint32(syn.SrcPort())*1000 + 12345
	if syn.SeqNum() != wantISS {
		t.Fatalf("seq = %d, want %d", syn.SeqNum(), wantISS)
	}
}
