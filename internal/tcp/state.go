// Package tcp implements the RFC 9293 connection state machine: the
// TCB, the segment-processing pipeline, send/receive sequence
// arithmetic, the retransmission queue, and the listen/accept
// backlog (spec.md §4.7). Grounded on
// original_source/.../tcp/{socket,segment,state,retransmit,wire}.rs,
// generalized from the original's fixed-array socket table onto the
// shared socket.Set[T] arena already used by udp and icmp.
package tcp

import "fmt"

// State is a TCP connection state (RFC 9293 §3.3.2).
type State int

const (
	StateClosed State = iota
	StateListen
	StateSynSent
	StateSynReceived
	StateEstablished
	StateFinWait1
	StateFinWait2
	StateClosing
	StateTimeWait
	StateCloseWait
	StateLastAck
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateListen:
		return "LISTEN"
	case StateSynSent:
		return "SYN-SENT"
	case StateSynReceived:
		return "SYN-RECEIVED"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFinWait1:
		return "FIN-WAIT-1"
	case StateFinWait2:
		return "FIN-WAIT-2"
	case StateClosing:
		return "CLOSING"
	case StateTimeWait:
		return "TIME-WAIT"
	case StateCloseWait:
		return "CLOSE-WAIT"
	case StateLastAck:
		return "LAST-ACK"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}
