package tcp

import (
	"fmt"
	"time"

	"github.com/dantte-lp/gonetstack/internal/clock"
	"github.com/dantte-lp/gonetstack/internal/netaddr"
	"github.com/dantte-lp/gonetstack/internal/socket"
	"github.com/dantte-lp/gonetstack/internal/stackerr"
	"github.com/dantte-lp/gonetstack/internal/wire"
)

const (
	rxBufferSize       = 8192
	txBufferSize       = 8192
	defaultMSS         = 1460
	defaultRTO         = 200 * time.Millisecond
	retransmitDeadline = 12 * time.Second
	// TimeWaitDuration is how long a closed connection lingers in
	// TIME-WAIT before its four-tuple may be reused.
	TimeWaitDuration = 30 * time.Second
)

// retransmitEntry tracks one outstanding SYN/FIN/data segment awaiting
// acknowledgement.
type retransmitEntry struct {
	firstAt time.Time
	lastAt  time.Time
	rto     time.Duration
	seq     uint32
	flags   uint8
	payload []byte
}

// sendRequest is a fully-formed outbound segment queued by egress,
// drained and emitted by the manager outside the socket-set lock.
type sendRequest struct {
	seq     uint32
	ack     uint32
	flags   uint8
	wnd     uint16
	payload []byte
	local   netaddr.Endpoint
	foreign netaddr.Endpoint
}

// tcb is one Transmission Control Block (RFC 9293 §3.3.1).
type tcb struct {
	state         State
	local         netaddr.Endpoint
	foreign       netaddr.Endpoint
	sndNxt        uint32
	sndUna        uint32
	sndWnd        uint16
	sndWl1        uint32
	sndWl2        uint32
	rcvNxt        uint32
	rcvWnd        uint16
	iss           uint32
	irs           uint32
	mss           uint16
	rxBuf         []byte
	rxCapacity    int
	txBuf         []byte
	txCapacity    int
	retransmit    []retransmitEntry
	pending       []sendRequest
	timewaitUntil time.Time
	inTimewait    bool

	hasParent   bool
	parent      socket.Handle
	backlog     []socket.Handle
	acceptReady bool

	clk           clock.Clock
	onStateChange func(from, to State)
}

func newTCB(clk clock.Clock, onStateChange func(from, to State)) *tcb {
	return &tcb{
		state:         StateClosed,
		mss:           defaultMSS,
		rxCapacity:    rxBufferSize,
		txCapacity:    txBufferSize,
		clk:           clk,
		onStateChange: onStateChange,
	}
}

// setState is the single mutation point for FSM transitions so
// onStateChange observes every state change exactly once.
func (s *tcb) setState(newState State) {
	if newState == s.state {
		return
	}
	old := s.state
	s.state = newState
	if s.onStateChange != nil {
		s.onStateChange(old, newState)
	}
}

func (s *tcb) canRecv() bool {
	switch s.state {
	case StateEstablished, StateFinWait1, StateFinWait2, StateCloseWait:
		return true
	default:
		return false
	}
}

func (s *tcb) canSend() bool {
	return s.state == StateEstablished || s.state == StateCloseWait
}

func (s *tcb) hasPendingConnection() bool { return len(s.backlog) > 0 }

// Listen transitions CLOSED to LISTEN.
func (s *tcb) Listen(local netaddr.Endpoint) error {
	if s.state != StateClosed {
		return stackerr.ErrSocketAlreadyOpen
	}
	s.local = local
	s.setState(StateListen)
	return nil
}

// Connect transitions CLOSED to SYN-SENT, filling in a wildcard local
// address/port and queuing the initial SYN.
func (s *tcb) Connect(local, remote netaddr.Endpoint, getSourceAddr func(netaddr.Addr) (netaddr.Addr, error), nextEphemeral func() uint16) error {
	if s.state != StateClosed {
		return stackerr.ErrSocketAlreadyOpen
	}

	localEP := local
	if localEP.Addr.IsAny() {
		addr, err := getSourceAddr(remote.Addr)
		if err != nil {
			return fmt.Errorf("tcp connect: %w", err)
		}
		localEP.Addr = addr
	}
	if localEP.Port == 0 {
		localEP.Port = nextEphemeral()
	}

	s.local = localEP
	s.foreign = remote
	s.rcvWnd = uint16(s.rxCapacity)
	s.iss = initialISS(localEP.Port)
	s.sndUna = s.iss
	s.sndNxt = s.iss + 1
	s.setState(StateSynSent)
	s.egress(wire.FlagSYN, nil)
	return nil
}

// SendSlice appends up to the available TX buffer space and flushes.
func (s *tcb) SendSlice(data []byte) (int, error) {
	if !s.canSend() {
		return 0, stackerr.ErrSocketNotOpen
	}
	available := s.txCapacity - len(s.txBuf)
	toWrite := min(len(data), available)
	if toWrite == 0 {
		return 0, stackerr.ErrBufferFull
	}
	s.txBuf = append(s.txBuf, data[:toWrite]...)
	s.flushTx()
	return toWrite, nil
}

// RecvSlice drains up to len(buf) bytes and re-advertises the window.
func (s *tcb) RecvSlice(buf []byte) (int, error) {
	if !s.canRecv() {
		return 0, stackerr.ErrSocketNotOpen
	}
	toRead := min(len(buf), len(s.rxBuf))
	copy(buf, s.rxBuf[:toRead])
	s.rxBuf = s.rxBuf[toRead:]
	s.rcvWnd = uint16(s.rxCapacity - len(s.rxBuf))
	return toRead, nil
}

// Close drives the active-close half of the state machine.
func (s *tcb) Close() {
	switch s.state {
	case StateClosed:
	case StateListen, StateSynSent:
		s.setState(StateClosed)
	case StateSynReceived, StateEstablished:
		s.egress(wire.FlagACK|wire.FlagFIN, nil)
		s.sndNxt++
		s.setState(StateFinWait1)
	case StateCloseWait:
		s.egress(wire.FlagACK|wire.FlagFIN, nil)
		s.sndNxt++
		s.setState(StateLastAck)
	}
}

// egress assigns a sequence number, appends a retransmit entry for
// SYN/FIN/data segments, and queues the SendRequest for the manager to
// drain and emit after releasing the socket-set lock.
func (s *tcb) egress(flags uint8, payload []byte) {
	seq := s.sndNxt
	if flags&wire.FlagSYN != 0 {
		seq = s.iss
	}
	payloadCopy := append([]byte(nil), payload...)

	if flags&(wire.FlagSYN|wire.FlagFIN) != 0 || len(payload) > 0 {
		now := s.clk.Now()
		s.retransmit = append(s.retransmit, retransmitEntry{
			firstAt: now, lastAt: now, rto: defaultRTO,
			seq: seq, flags: flags, payload: payloadCopy,
		})
	}
	s.pending = append(s.pending, sendRequest{
		seq: seq, ack: s.rcvNxt, flags: flags, wnd: s.rcvWnd,
		payload: payloadCopy, local: s.local, foreign: s.foreign,
	})
}

// cleanupRetransmit drops every retransmit entry fully covered by the
// newly-advanced snd_una.
func (s *tcb) cleanupRetransmit() {
	i := 0
	for i < len(s.retransmit) {
		e := s.retransmit[i]
		end := e.seq + uint32(len(e.payload))
		if e.flags&(wire.FlagSYN|wire.FlagFIN) != 0 {
			end++
		}
		if seqLT(s.sndUna, end) {
			break
		}
		i++
	}
	s.retransmit = s.retransmit[i:]
}

// flushTx emits ACK|PSH segments up to min(MSS, snd_wnd-in_flight, len(tx_buf))
// per iteration until the window closes or the buffer drains.
func (s *tcb) flushTx() {
	if !s.canSend() {
		return
	}
	inFlight := s.sndNxt - s.sndUna
	var windowAvailable uint32
	if uint32(s.sndWnd) > inFlight {
		windowAvailable = uint32(s.sndWnd) - inFlight
	}
	for windowAvailable > 0 && len(s.txBuf) > 0 {
		toSend := min(int(s.mss), min(int(windowAvailable), len(s.txBuf)))
		payload := append([]byte(nil), s.txBuf[:toSend]...)
		s.txBuf = s.txBuf[toSend:]
		s.egress(wire.FlagACK|wire.FlagPSH, payload)
		s.sndNxt += uint32(toSend)
		windowAvailable -= uint32(toSend)
	}
}

func (s *tcb) armTimewait(now time.Time) {
	s.setState(StateTimeWait)
	s.timewaitUntil = now.Add(TimeWaitDuration)
	s.inTimewait = true
}

func (s *tcb) pollTimewait(now time.Time) {
	if s.inTimewait && !now.Before(s.timewaitUntil) && s.state == StateTimeWait {
		s.setState(StateClosed)
		s.inTimewait = false
	}
}

// pollRetransmit re-queues expired entries with doubled RTO, aborting
// the connection (CLOSED) if the oldest entry has outstood the fixed
// 12-second abort deadline.
func (s *tcb) pollRetransmit(now time.Time) (aborted bool) {
	for i := range s.retransmit {
		e := &s.retransmit[i]
		if now.Sub(e.firstAt) >= retransmitDeadline {
			s.setState(StateClosed)
			return true
		}
		if now.Sub(e.lastAt) >= e.rto {
			s.pending = append(s.pending, sendRequest{
				seq: e.seq, ack: s.rcvNxt, flags: e.flags, wnd: s.rcvWnd,
				payload: append([]byte(nil), e.payload...), local: s.local, foreign: s.foreign,
			})
			e.lastAt = now
			e.rto *= 2
		}
	}
	return false
}

// handleSegment runs the full segment-processing pipeline against s.
func (s *tcb) handleSegment(seg segmentInfo) {
	p := newSegmentProcessor(s, seg)
	p.run()
}

func (s *tcb) drainPending() []sendRequest {
	out := s.pending
	s.pending = nil
	return out
}

func (s *tcb) matchesEstablished(local, foreign netaddr.Endpoint) bool {
	if s.state == StateClosed {
		return false
	}
	return s.local == local && s.foreign == foreign
}

func (s *tcb) matchesListen(local netaddr.Endpoint) bool {
	if s.state != StateListen {
		return false
	}
	addrOK := s.local.Addr.IsAny() || s.local.Addr == local.Addr
	portOK := s.local.Port == 0 || s.local.Port == local.Port
	return addrOK && portOK
}

// initialISS seeds a deterministic initial send sequence number from
// the local port (spec.md §4.7.6) so handshakes are reproducible under
// test.
func initialISS(port uint16) uint32 {
	return uint32(port)*1000 + 12345
}
