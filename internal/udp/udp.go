// Package udp implements the UDP datagram socket set: bind with
// explicit-port conflict checking and ephemeral allocation, ingress
// demux, and per-socket receive queues (spec.md §4.6). Grounded on
// original_source/.../udp.rs, generalized from its fixed PCB array
// onto the shared socket.Set[T] arena.
package udp

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dantte-lp/gonetstack/internal/ipv4"
	"github.com/dantte-lp/gonetstack/internal/netaddr"
	"github.com/dantte-lp/gonetstack/internal/socket"
	"github.com/dantte-lp/gonetstack/internal/stackerr"
	"github.com/dantte-lp/gonetstack/internal/wire"
)

// Capacity is the fixed number of UDP socket slots (spec.md §3).
const Capacity = 16

const (
	ephemeralMin uint16 = 49152
	ephemeralMax uint16 = 65535
)

// Packet is a queued datagram awaiting recvfrom.
type Packet struct {
	Foreign netaddr.Endpoint
	Data    []byte
}

type udpSocket struct {
	local netaddr.Endpoint
	queue []Packet
}

// Manager owns the UDP socket set and the ephemeral port cursor, and
// is registered as the IPv4-layer handler for the UDP protocol number.
type Manager struct {
	log *slog.Logger
	ip  *ipv4.Layer

	mu            sync.Mutex
	sockets       *socket.Set[udpSocket]
	nextEphemeral uint16
}

// NewManager returns a Manager wired to ip and registers its ingress
// handler for ProtoUDP.
func NewManager(ip *ipv4.Layer, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{log: log, ip: ip, sockets: socket.NewSet[udpSocket](Capacity), nextEphemeral: ephemeralMin}
	ip.RegisterProtocol(wire.ProtoUDP, m.Ingress)
	return m
}

// Alloc allocates an unbound UDP socket and returns its handle.
func (m *Manager) Alloc() (socket.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, err := m.sockets.Alloc(udpSocket{})
	if err != nil {
		return 0, fmt.Errorf("udp alloc: %w", err)
	}
	return h, nil
}

// Free releases handle's socket.
func (m *Manager) Free(h socket.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sockets.Free(h); err != nil {
		return fmt.Errorf("udp free: %w", err)
	}
	return nil
}

// Bind assigns local to handle's socket. An explicit port conflicting
// with another bound socket's (addr, port) fails with PortInUse; port
// 0 requests an ephemeral port from [49152, 65535], scanned from a
// monotonically advancing cursor, failing with NoPortAvailable if the
// whole range is occupied.
func (m *Manager) Bind(h socket.Handle, local netaddr.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sock, err := m.sockets.Get(h)
	if err != nil {
		return fmt.Errorf("udp bind: %w", err)
	}

	if local.Port != 0 {
		if m.portConflicts(h, local) {
			return fmt.Errorf("udp bind: %w", stackerr.ErrPortInUse)
		}
		sock.local = local
		return nil
	}

	const rangeSize = int(ephemeralMax) - int(ephemeralMin) + 1
	for i := 0; i < rangeSize; i++ {
		port := m.nextEphemeral
		m.nextEphemeral++
		if m.nextEphemeral > ephemeralMax {
			m.nextEphemeral = ephemeralMin
		}
		candidate := netaddr.Endpoint{Addr: local.Addr, Port: port}
		if !m.portConflicts(h, candidate) {
			sock.local = candidate
			return nil
		}
	}
	return fmt.Errorf("udp bind: %w", stackerr.ErrNoPortAvailable)
}

// portConflicts reports whether any other occupied socket's local
// endpoint collides with candidate on port, with either address a
// wildcard or the two addresses equal.
func (m *Manager) portConflicts(self socket.Handle, candidate netaddr.Endpoint) bool {
	conflict := false
	m.sockets.ForEach(func(h socket.Handle, sock *udpSocket) {
		if h == self || sock.local.Port != candidate.Port {
			return
		}
		if sock.local.Addr.IsAny() || candidate.Addr.IsAny() || sock.local.Addr == candidate.Addr {
			conflict = true
		}
	})
	return conflict
}

// Ingress validates a UDP datagram and delivers it to the first socket
// whose local endpoint matches (dst_port, dst).
func (m *Manager) Ingress(src, dst netaddr.Addr, data []byte) error {
	d, err := wire.NewUDPDatagram(data)
	if err != nil {
		return fmt.Errorf("udp ingress: %w", err)
	}
	length := int(d.Length())
	if length < wire.UDPHeaderLen || length > len(data) {
		return fmt.Errorf("udp ingress: length %d: %w", length, stackerr.ErrInvalidLength)
	}
	if !wire.VerifyUDPChecksum(src.Bytes(), dst.Bytes(), data[:length]) {
		return fmt.Errorf("udp ingress: %w", stackerr.ErrChecksumError)
	}

	dstPort := d.DstPort()
	srcPort := d.SrcPort()
	payload := append([]byte(nil), data[wire.UDPHeaderLen:length]...)

	m.log.Debug("udp: ingress", "src", src, "src_port", srcPort, "dst", dst, "dst_port", dstPort, "len", len(payload))

	m.mu.Lock()
	defer m.mu.Unlock()
	var delivered bool
	m.sockets.ForEach(func(_ socket.Handle, sock *udpSocket) {
		if delivered || sock.local.Port != dstPort {
			return
		}
		if !sock.local.Addr.IsAny() && sock.local.Addr != dst {
			return
		}
		sock.queue = append(sock.queue, Packet{Foreign: netaddr.Endpoint{Addr: src, Port: srcPort}, Data: payload})
		delivered = true
	})
	if !delivered {
		return fmt.Errorf("udp ingress: %w", stackerr.ErrNoMatchingSocket)
	}
	return nil
}

// SendTo builds and emits a UDP datagram from handle's bound local
// endpoint to dst.
func (m *Manager) SendTo(h socket.Handle, dst netaddr.Endpoint, data []byte) error {
	m.mu.Lock()
	sock, err := m.sockets.Get(h)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("udp sendto: %w", err)
	}
	local := sock.local
	m.mu.Unlock()

	srcAddr := local.Addr
	if srcAddr.IsAny() {
		srcAddr, err = m.ip.GetSourceAddress(dst.Addr)
		if err != nil {
			return fmt.Errorf("udp sendto: %w", err)
		}
	}

	totalLen := wire.UDPHeaderLen + len(data)
	if totalLen > 65535 {
		return fmt.Errorf("udp sendto: %d bytes: %w", totalLen, stackerr.ErrPacketTooLarge)
	}
	buf := make([]byte, totalLen)
	hdr := wire.NewUDPDatagramMut(buf)
	hdr.SetSrcPort(local.Port)
	hdr.SetDstPort(dst.Port)
	hdr.SetLength(uint16(totalLen))
	hdr.SetChecksum(0)
	copy(hdr.PayloadMut(), data)
	wire.FillUDPChecksum(srcAddr.Bytes(), dst.Addr.Bytes(), hdr, buf)

	m.log.Debug("udp: sendto", "src", srcAddr, "src_port", local.Port, "dst", dst.Addr, "dst_port", dst.Port, "len", totalLen)
	if err := m.ip.EgressRoute(wire.ProtoUDP, dst.Addr, buf); err != nil {
		return fmt.Errorf("udp sendto: %w", err)
	}
	return nil
}

// RecvFrom pops the oldest queued datagram for handle, or fails with
// WouldBlock if the queue is empty.
func (m *Manager) RecvFrom(h socket.Handle) (netaddr.Endpoint, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sock, err := m.sockets.Get(h)
	if err != nil {
		return netaddr.Endpoint{}, nil, fmt.Errorf("udp recvfrom: %w", err)
	}
	if len(sock.queue) == 0 {
		return netaddr.Endpoint{}, nil, fmt.Errorf("udp recvfrom: %w", stackerr.ErrWouldBlock)
	}
	pkt := sock.queue[0]
	sock.queue = sock.queue[1:]
	return pkt.Foreign, pkt.Data, nil
}
