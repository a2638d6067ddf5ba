package tcp

import "github.com/dantte-lp/gonetstack/internal/wire"

// segmentInfo is the normalized view of an incoming segment the
// processor pipeline operates on (spec.md §4.7.3).
type segmentInfo struct {
	seq     uint32
	ack     uint32
	len     uint32
	wnd     uint16
	flags   uint8
	payload []byte
}

func (seg segmentInfo) hasSYN() bool { return seg.flags&wire.FlagSYN != 0 }
func (seg segmentInfo) hasACK() bool { return seg.flags&wire.FlagACK != 0 }
func (seg segmentInfo) hasFIN() bool { return seg.flags&wire.FlagFIN != 0 }
func (seg segmentInfo) hasRST() bool { return seg.flags&wire.FlagRST != 0 }

// segmentProcessor runs the eight-step segment pipeline against one
// TCB (spec.md §4.7.3). Modeled directly on the reference kernel's
// SegmentProcessor: a plain state enum drives all state-specific
// logic here, with no per-state vtable.
type segmentProcessor struct {
	sock    *tcb
	seg     segmentInfo
	sendAck bool
}

func newSegmentProcessor(sock *tcb, seg segmentInfo) *segmentProcessor {
	return &segmentProcessor{sock: sock, seg: seg}
}

func (p *segmentProcessor) run() {
	if p.handleSynSent() {
		return
	}
	if p.handleSynReceivedDuplicate() {
		return
	}
	if !p.validateWindow() {
		return
	}

	if p.seg.hasRST() {
		p.sock.setState(StateClosed)
		return
	}

	if p.seg.hasSYN() {
		p.sock.setState(StateClosed)
		p.sendRSTForSegment(p.seg.hasACK())
		return
	}

	if !p.handleAck() {
		return
	}

	p.handlePayload()
	p.handleFin()

	if p.sendAck {
		p.sock.egress(wire.FlagACK, nil)
	}
}

// handleSynSent implements step 1: the SYN-SENT special path.
func (p *segmentProcessor) handleSynSent() bool {
	if p.sock.state != StateSynSent {
		return false
	}

	if p.seg.hasACK() && (seqLE(p.seg.ack, p.sock.iss) || seqLT(p.sock.sndNxt, p.seg.ack)) {
		p.sendRSTForSegment(true)
		return true
	}

	acceptableAck := p.seg.hasACK() && seqLE(p.sock.sndUna, p.seg.ack) && seqLE(p.seg.ack, p.sock.sndNxt)

	if p.seg.hasRST() {
		if acceptableAck {
			p.sock.setState(StateClosed)
		}
		return true
	}

	if p.seg.hasSYN() {
		p.sock.irs = p.seg.seq
		p.sock.rcvNxt = p.seg.seq + 1

		if p.seg.hasACK() {
			p.sock.sndUna = p.seg.ack
			p.sock.cleanupRetransmit()
			p.sock.sndWnd = p.seg.wnd
			p.sock.sndWl1 = p.seg.seq
			p.sock.sndWl2 = p.seg.ack
		}

		if p.seg.hasACK() && seqLT(p.sock.iss, p.sock.sndUna) {
			p.sock.setState(StateEstablished)
			p.sock.egress(wire.FlagACK, nil)
		} else {
			p.sock.setState(StateSynReceived)
			p.sock.egress(wire.FlagSYN|wire.FlagACK, nil)
		}
	}

	return true
}

// handleSynReceivedDuplicate implements step 2.
func (p *segmentProcessor) handleSynReceivedDuplicate() bool {
	if p.sock.state != StateSynReceived || !p.seg.hasSYN() {
		return false
	}
	p.sock.egress(wire.FlagSYN|wire.FlagACK, nil)
	return true
}

// validateWindow implements step 3.
func (p *segmentProcessor) validateWindow() bool {
	rcvNxt := p.sock.rcvNxt
	rcvWnd := p.sock.rcvWnd
	segSeq := p.seg.seq
	segLen := p.seg.len

	if segLen == 0 {
		if rcvWnd == 0 {
			return p.acceptOrAck(segSeq == rcvNxt)
		}
		end := rcvNxt + uint32(rcvWnd)
		return p.acceptOrAck(seqBetween(rcvNxt, segSeq, end))
	}

	if rcvWnd == 0 {
		return p.acceptOrAck(false)
	}

	end := rcvNxt + uint32(rcvWnd)
	segEnd := segSeq + segLen - 1
	return p.acceptOrAck(seqBetween(rcvNxt, segSeq, end) || seqBetween(rcvNxt, segEnd, end))
}

// handleAck implements step 6 (and is also reused by SYN-RECEIVED
// processing for its own handshake completion).
func (p *segmentProcessor) handleAck() bool {
	if !p.seg.hasACK() {
		return p.sock.state == StateSynReceived
	}

	ackOK := p.ackInWindow()

	if p.sock.state == StateSynReceived {
		if !ackOK {
			p.sendRSTForSegment(true)
			return false
		}
		p.sock.sndUna = p.seg.ack
		p.sock.cleanupRetransmit()
		p.sock.sndWnd = p.seg.wnd
		p.sock.sndWl1 = p.seg.seq
		p.sock.sndWl2 = p.seg.ack
		p.sock.setState(StateEstablished)
		if p.sock.hasParent {
			p.sock.acceptReady = true
		}
		return true
	}

	if !ackOK {
		return true
	}

	p.sock.sndUna = p.seg.ack
	p.sock.cleanupRetransmit()

	if seqLT(p.sock.sndWl1, p.seg.seq) || (p.sock.sndWl1 == p.seg.seq && seqLE(p.sock.sndWl2, p.seg.ack)) {
		p.sock.sndWnd = p.seg.wnd
		p.sock.sndWl1 = p.seg.seq
		p.sock.sndWl2 = p.seg.ack
	}

	switch p.sock.state {
	case StateFinWait1:
		if p.sock.sndUna == p.sock.sndNxt {
			p.sock.setState(StateFinWait2)
		}
	case StateClosing:
		if p.sock.sndUna == p.sock.sndNxt {
			p.sock.armTimewait(p.sock.clk.Now())
		}
	case StateLastAck:
		if p.sock.sndUna == p.sock.sndNxt {
			p.sock.setState(StateClosed)
			return false
		}
	}

	return true
}

// handlePayload implements step 7.
func (p *segmentProcessor) handlePayload() {
	if len(p.seg.payload) == 0 {
		return
	}
	switch p.sock.state {
	case StateEstablished, StateFinWait1, StateFinWait2:
	default:
		return
	}

	if p.seg.seq == p.sock.rcvNxt {
		space := p.sock.rxCapacity - len(p.sock.rxBuf)
		toCopy := min(space, len(p.seg.payload))
		p.sock.rxBuf = append(p.sock.rxBuf, p.seg.payload[:toCopy]...)
		p.sock.rcvNxt += uint32(toCopy)
		p.sendAck = true
	} else {
		p.sendAck = true
	}

	p.sock.rcvWnd = uint16(p.sock.rxCapacity - len(p.sock.rxBuf))
}

// handleFin implements step 8.
func (p *segmentProcessor) handleFin() {
	if !p.seg.hasFIN() {
		return
	}

	finEnd := p.seg.seq + uint32(len(p.seg.payload)) + 1
	if seqLT(p.sock.rcvNxt, finEnd) {
		p.sock.rcvNxt = finEnd
	}
	p.sendAck = true

	now := p.sock.clk.Now()
	switch p.sock.state {
	case StateSynReceived, StateEstablished:
		p.sock.setState(StateCloseWait)
	case StateFinWait1:
		if p.sock.sndUna == p.sock.sndNxt {
			p.sock.armTimewait(now)
		} else {
			p.sock.setState(StateClosing)
		}
	case StateFinWait2:
		p.sock.armTimewait(now)
	case StateTimeWait:
		p.sock.timewaitUntil = now.Add(TimeWaitDuration)
	}
}

func (p *segmentProcessor) sendRSTForSegment(ackPresent bool) {
	if ackPresent {
		p.sock.pending = append(p.sock.pending, sendRequest{
			seq: p.seg.ack, ack: 0, flags: wire.FlagRST,
			local: p.sock.local, foreign: p.sock.foreign,
		})
	} else {
		p.sock.pending = append(p.sock.pending, sendRequest{
			seq: 0, ack: p.seg.seq + p.seg.len, flags: wire.FlagRST | wire.FlagACK,
			local: p.sock.local, foreign: p.sock.foreign,
		})
	}
}

func (p *segmentProcessor) acceptOrAck(acceptable bool) bool {
	if !acceptable && !p.seg.hasRST() {
		p.sock.egress(wire.FlagACK, nil)
	}
	return acceptable
}

func (p *segmentProcessor) ackInWindow() bool {
	return seqLT(p.sock.sndUna, p.seg.ack) && seqLE(p.seg.ack, p.sock.sndNxt)
}

// Sequence-number comparisons use signed 32-bit wraparound arithmetic
// (RFC 9293 §3.4).
func seqLT(a, b uint32) bool { return int32(a-b) < 0 }
func seqLE(a, b uint32) bool { return int32(a-b) <= 0 }
func seqBetween(start, seq, end uint32) bool {
	return !seqLT(seq, start) && seqLT(seq, end)
}
