package tcp

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dantte-lp/gonetstack/internal/clock"
	"github.com/dantte-lp/gonetstack/internal/ipv4"
	netstackmetrics "github.com/dantte-lp/gonetstack/internal/metrics"
	"github.com/dantte-lp/gonetstack/internal/netaddr"
	"github.com/dantte-lp/gonetstack/internal/socket"
	"github.com/dantte-lp/gonetstack/internal/stackerr"
	"github.com/dantte-lp/gonetstack/internal/wire"
)

// Capacity is the fixed number of TCP socket slots (spec.md §3).
const Capacity = 16

const (
	ephemeralMin uint16 = 49152
	ephemeralMax uint16 = 65535
)

// Manager owns the TCP socket set and is registered as the IPv4-layer
// handler for the TCP protocol number. It is the boundary across
// which the two-phase egress discipline operates: handlers build
// SendRequests under mu, the lock is released, and only then are
// segments emitted through ip.
type Manager struct {
	log     *slog.Logger
	ip      *ipv4.Layer
	clk     clock.Clock
	metrics *netstackmetrics.Collector

	mu            sync.Mutex
	sockets       *socket.Set[tcb]
	nextEphemeral uint16
}

// NewManager returns a Manager wired to ip and registers its ingress
// handler for ProtoTCP. metrics may be nil.
func NewManager(ip *ipv4.Layer, clk clock.Clock, metrics *netstackmetrics.Collector, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	m := &Manager{
		log: log, ip: ip, clk: clk, metrics: metrics,
		sockets:       socket.NewSet[tcb](Capacity),
		nextEphemeral: ephemeralMin,
	}
	ip.RegisterProtocol(wire.ProtoTCP, m.Ingress)
	return m
}

// newSocket constructs a CLOSED tcb wired to record its FSM
// transitions through m.metrics.
func (m *Manager) newSocket() *tcb {
	return newTCB(m.clk, m.recordTransition)
}

func (m *Manager) recordTransition(from, to State) {
	m.metrics.RecordTCPStateTransition(from.String(), to.String())
}

// Alloc allocates a CLOSED TCP socket and returns its handle.
func (m *Manager) Alloc() (socket.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, err := m.sockets.Alloc(*m.newSocket())
	if err != nil {
		return 0, fmt.Errorf("tcp alloc: %w", err)
	}
	return h, nil
}

// Free releases handle's socket.
func (m *Manager) Free(h socket.Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sockets.Free(h); err != nil {
		return fmt.Errorf("tcp free: %w", err)
	}
	return nil
}

// State reports handle's socket state.
func (m *Manager) State(h socket.Handle) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sock, err := m.sockets.Get(h)
	if err != nil {
		return StateClosed, fmt.Errorf("tcp state: %w", err)
	}
	return sock.state, nil
}

// Listen transitions handle CLOSED -> LISTEN.
func (m *Manager) Listen(h socket.Handle, local netaddr.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sock, err := m.sockets.Get(h)
	if err != nil {
		return fmt.Errorf("tcp listen: %w", err)
	}
	if err := sock.Listen(local); err != nil {
		return fmt.Errorf("tcp listen: %w", err)
	}
	return nil
}

// Connect transitions handle CLOSED -> SYN-SENT and queues the
// initial SYN, emitted after the lock is released.
func (m *Manager) Connect(h socket.Handle, local, remote netaddr.Endpoint) error {
	m.mu.Lock()
	sock, err := m.sockets.Get(h)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("tcp connect: %w", err)
	}
	err = sock.Connect(local, remote, m.ip.GetSourceAddress, m.nextEphemeralPort)
	var sends []sendRequest
	if err == nil {
		sends = sock.drainPending()
	}
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("tcp connect: %w", err)
	}
	return m.emit(sends)
}

// Send appends data to handle's TX buffer and flushes it.
func (m *Manager) Send(h socket.Handle, data []byte) (int, error) {
	m.mu.Lock()
	sock, err := m.sockets.Get(h)
	if err != nil {
		m.mu.Unlock()
		return 0, fmt.Errorf("tcp send: %w", err)
	}
	n, sendErr := sock.SendSlice(data)
	sends := sock.drainPending()
	m.mu.Unlock()
	if emitErr := m.emit(sends); emitErr != nil {
		return n, emitErr
	}
	if sendErr != nil {
		return n, fmt.Errorf("tcp send: %w", sendErr)
	}
	return n, nil
}

// Recv drains up to len(buf) bytes from handle's RX buffer.
func (m *Manager) Recv(h socket.Handle, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sock, err := m.sockets.Get(h)
	if err != nil {
		return 0, fmt.Errorf("tcp recv: %w", err)
	}
	n, err := sock.RecvSlice(buf)
	if err != nil {
		return 0, fmt.Errorf("tcp recv: %w", err)
	}
	return n, nil
}

// Close drives the active-close half of handle's state machine.
func (m *Manager) Close(h socket.Handle) error {
	m.mu.Lock()
	sock, err := m.sockets.Get(h)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("tcp close: %w", err)
	}
	sock.Close()
	sends := sock.drainPending()
	m.mu.Unlock()
	return m.emit(sends)
}

// Accept pops the head of the listen socket's backlog.
func (m *Manager) Accept(listenHandle socket.Handle) (socket.Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	listener, err := m.sockets.Get(listenHandle)
	if err != nil {
		return 0, fmt.Errorf("tcp accept: %w", err)
	}
	if len(listener.backlog) == 0 {
		return 0, fmt.Errorf("tcp accept: %w", stackerr.ErrWouldBlock)
	}
	child := listener.backlog[0]
	listener.backlog = listener.backlog[1:]

	childSock, err := m.sockets.Get(child)
	if err != nil {
		return 0, fmt.Errorf("tcp accept: %w", err)
	}
	childSock.hasParent = false
	return child, nil
}

func (m *Manager) nextEphemeralPort() uint16 {
	port := m.nextEphemeral
	m.nextEphemeral++
	if m.nextEphemeral < ephemeralMin || m.nextEphemeral > ephemeralMax {
		m.nextEphemeral = ephemeralMin
	}
	return port
}

// Ingress validates and demultiplexes an arriving TCP segment
// (spec.md §4.7.1), running its effect on the matching socket (or
// synthesizing an RST) under the socket-set lock, then emitting every
// queued segment after the lock is released.
func (m *Manager) Ingress(src, dst netaddr.Addr, data []byte) error {
	seg, err := wire.NewTCPSegment(data)
	if err != nil {
		return fmt.Errorf("tcp ingress: %w", err)
	}
	if !seg.VerifyChecksum(src.Bytes(), dst.Bytes()) {
		return fmt.Errorf("tcp ingress: %w", stackerr.ErrChecksumError)
	}

	flags := seg.Flags()
	payload := seg.Payload()

	segLen := uint32(len(payload))
	if flags&wire.FlagSYN != 0 {
		segLen++
	}
	if flags&wire.FlagFIN != 0 {
		segLen++
	}

	info := segmentInfo{
		seq: seg.SeqNum(), ack: seg.AckNum(), len: segLen,
		wnd: seg.Window(), flags: flags, payload: payload,
	}

	local := netaddr.Endpoint{Addr: dst, Port: seg.DstPort()}
	foreign := netaddr.Endpoint{Addr: src, Port: seg.SrcPort()}

	m.log.Debug("tcp: ingress", "src", foreign, "dst", local, "seq", info.seq, "ack", info.ack, "flags", flags)

	var sends []sendRequest
	m.mu.Lock()
	establishedIdx, listenIdx, haveEstablished, haveListener := m.findSockets(local, foreign)
	switch {
	case haveEstablished:
		sends = m.handleOnSocket(establishedIdx, info)
	case haveListener:
		sends = m.handleOnListen(listenIdx, local, foreign, info)
	default:
		sends = sendRSTResponse(local, foreign, info)
	}
	m.mu.Unlock()

	return m.emit(sends)
}

// findSockets reports the handle of an exact four-tuple match
// (haveEstablished), or else a matching listener's handle
// (haveListener), per spec.md §4.7.1's lookup order.
func (m *Manager) findSockets(local, foreign netaddr.Endpoint) (established, listener socket.Handle, haveEstablished, haveListener bool) {
	m.sockets.ForEach(func(h socket.Handle, sock *tcb) {
		if haveEstablished {
			return
		}
		if sock.matchesEstablished(local, foreign) {
			established = h
			haveEstablished = true
			return
		}
		if !haveListener && sock.matchesListen(local) {
			listener = h
			haveListener = true
		}
	})
	return established, listener, haveEstablished, haveListener
}

// handleOnSocket runs the segment pipeline on h's socket and, if the
// segment just completed a passive handshake, immediately pushes h
// onto its listening parent's accept backlog (spec.md §4.7.5) —
// mirroring the reference kernel's ingress dispatcher, which performs
// this promotion inline rather than deferring it to the next poll.
func (m *Manager) handleOnSocket(h socket.Handle, seg segmentInfo) []sendRequest {
	sock, err := m.sockets.Get(h)
	if err != nil {
		return nil
	}
	sock.handleSegment(seg)
	sends := sock.drainPending()

	if sock.acceptReady {
		sock.acceptReady = false
		if sock.hasParent {
			if parent, err := m.sockets.Get(sock.parent); err == nil {
				parent.backlog = append(parent.backlog, h)
			}
		}
	}
	return sends
}

// handleOnListen implements spec.md §4.7.5's SYN/ACK/RST handling for
// segments addressed to a listening socket. The caller has already
// confirmed listenHandle matches.
func (m *Manager) handleOnListen(listenHandle socket.Handle, local, foreign netaddr.Endpoint, seg segmentInfo) []sendRequest {
	if seg.hasRST() {
		return nil
	}

	if seg.hasACK() {
		return []sendRequest{{
			seq: seg.seq, ack: 0, flags: wire.FlagRST,
			local: local, foreign: foreign,
		}}
	}

	if seg.hasSYN() {
		child := m.newSocket()
		child.hasParent = true
		child.parent = listenHandle
		child.local = local
		child.foreign = foreign
		child.rcvWnd = uint16(child.rxCapacity)
		child.rcvNxt = seg.seq + 1
		child.irs = seg.seq
		child.iss = initialISS(local.Port)
		child.sndUna = child.iss
		child.sndNxt = child.iss + 1
		child.setState(StateSynReceived)

		childHandle, err := m.sockets.Alloc(*child)
		if err != nil {
			return nil
		}
		childSock, err := m.sockets.Get(childHandle)
		if err != nil {
			return nil
		}
		childSock.egress(wire.FlagSYN|wire.FlagACK, nil)
		return childSock.drainPending()
	}

	return nil
}

func sendRSTResponse(local, foreign netaddr.Endpoint, seg segmentInfo) []sendRequest {
	if seg.hasRST() {
		return nil
	}
	if !seg.hasACK() {
		return []sendRequest{{
			seq: 0, ack: seg.seq + seg.len, flags: wire.FlagRST | wire.FlagACK,
			local: local, foreign: foreign,
		}}
	}
	return []sendRequest{{
		seq: seg.ack, ack: 0, flags: wire.FlagRST,
		local: local, foreign: foreign,
	}}
}

// Poll expires TIME-WAIT sockets, retransmits or aborts outstanding
// segments, flushes sendable TX data, and drains every socket's
// pending queue, then emits the collected segments after releasing
// the lock (spec.md §4.7.4).
func (m *Manager) Poll() error {
	now := m.clk.Now()
	var sends []sendRequest

	m.mu.Lock()
	m.sockets.ForEach(func(_ socket.Handle, sock *tcb) {
		sock.pollTimewait(now)
		sock.pollRetransmit(now)
		sock.flushTx()
		sends = append(sends, sock.drainPending()...)
	})
	m.mu.Unlock()

	return m.emit(sends)
}

// emit serializes and transmits every queued segment through the
// IPv4 routing fast path. Must run with the socket-set lock released
// (spec.md's two-phase egress discipline, §9).
func (m *Manager) emit(sends []sendRequest) error {
	for _, req := range sends {
		if err := m.outputSegment(req); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) outputSegment(req sendRequest) error {
	totalLen := wire.TCPHeaderLen + len(req.payload)
	buf := make([]byte, totalLen)
	seg := wire.NewTCPSegmentMut(buf)
	seg.SetSrcPort(req.local.Port)
	seg.SetDstPort(req.foreign.Port)
	seg.SetSeqNum(req.seq)
	seg.SetAckNum(req.ack)
	seg.SetHeaderLen(wire.TCPHeaderLen)
	seg.SetFlags(req.flags)
	seg.SetWindow(req.wnd)
	seg.SetUrgentPtr(0)
	copy(seg.PayloadMut(), req.payload)
	seg.FillChecksum(req.local.Addr.Bytes(), req.foreign.Addr.Bytes())

	m.log.Debug("tcp: egress", "src", req.local, "dst", req.foreign, "seq", req.seq, "ack", req.ack, "flags", req.flags)
	if err := m.ip.EgressRoute(wire.ProtoTCP, req.foreign.Addr, buf); err != nil {
		return fmt.Errorf("tcp output: %w", err)
	}
	return nil
}
