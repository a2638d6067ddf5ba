package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/dantte-lp/gonetstack/internal/stackerr"
)

// ICMP echo field offsets (RFC 792).
const (
	icmpType     = 0
	icmpCode     = 1
	icmpChecksum = 2
	icmpID       = 4
	icmpSeq      = 6

	ICMPEchoHeaderLen = 8
)

// ICMP message types this stack interprets.
const (
	ICMPTypeEchoReply             uint8 = 0
	ICMPTypeDestinationUnreachable uint8 = 3
	ICMPTypeEchoRequest           uint8 = 8
	ICMPTypeTimeExceeded          uint8 = 11
)

// ICMPEcho is a read view over an ICMP Echo Request/Reply message.
type ICMPEcho struct {
	buf []byte
}

// NewICMPEcho validates buf against the fixed 8-byte echo header.
func NewICMPEcho(buf []byte) (ICMPEcho, error) {
	if len(buf) < ICMPEchoHeaderLen {
		return ICMPEcho{}, fmt.Errorf("icmp echo: %d bytes, need %d: %w", len(buf), ICMPEchoHeaderLen, stackerr.ErrPacketTooShort)
	}
	return ICMPEcho{buf: buf}, nil
}

func (e ICMPEcho) MsgType() uint8 { return e.buf[icmpType] }
func (e ICMPEcho) Code() uint8    { return e.buf[icmpCode] }
func (e ICMPEcho) Checksum() uint16 {
	return binary.BigEndian.Uint16(e.buf[icmpChecksum : icmpChecksum+2])
}
func (e ICMPEcho) ID() uint16  { return binary.BigEndian.Uint16(e.buf[icmpID : icmpID+2]) }
func (e ICMPEcho) Seq() uint16 { return binary.BigEndian.Uint16(e.buf[icmpSeq : icmpSeq+2]) }

// Payload returns the bytes following the 8-byte echo header.
func (e ICMPEcho) Payload() []byte { return e.buf[ICMPEchoHeaderLen:] }

// ICMPEchoMut is a write view over a caller-sized buffer.
type ICMPEchoMut struct {
	buf []byte
}

// NewICMPEchoMut wraps buf unchecked; the caller guarantees its size.
func NewICMPEchoMut(buf []byte) ICMPEchoMut { return ICMPEchoMut{buf: buf} }

func (e ICMPEchoMut) SetMsgType(v uint8) { e.buf[icmpType] = v }
func (e ICMPEchoMut) SetCode(v uint8)    { e.buf[icmpCode] = v }
func (e ICMPEchoMut) SetChecksum(v uint16) {
	binary.BigEndian.PutUint16(e.buf[icmpChecksum:icmpChecksum+2], v)
}
func (e ICMPEchoMut) SetID(v uint16)  { binary.BigEndian.PutUint16(e.buf[icmpID:icmpID+2], v) }
func (e ICMPEchoMut) SetSeq(v uint16) { binary.BigEndian.PutUint16(e.buf[icmpSeq:icmpSeq+2], v) }

// PayloadMut returns the writable region following the 8-byte header.
func (e ICMPEchoMut) PayloadMut() []byte { return e.buf[ICMPEchoHeaderLen:] }

// FillChecksum zeroes the checksum field and computes the plain
// (non-pseudo-header) Internet checksum over the whole ICMP message.
func (e ICMPEchoMut) FillChecksum() {
	e.SetChecksum(0)
	e.SetChecksum(Checksum(e.buf))
}
