package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/dantte-lp/gonetstack/internal/stackerr"
)

// TCP header field offsets (RFC 9293 §3.1), fixed 20-byte header —
// this stack never emits or parses TCP options.
const (
	tcpSrcPort  = 0
	tcpDstPort  = 2
	tcpSeqNum   = 4
	tcpAckNum   = 8
	tcpDataOff  = 12 // high nibble: data offset in 32-bit words
	tcpFlags    = 13
	tcpWindow   = 14
	tcpChecksum = 16
	tcpUrgent   = 18

	TCPHeaderLen = 20
)

// TCP control bits (RFC 9293 §3.1).
const (
	FlagFIN uint8 = 0x01
	FlagSYN uint8 = 0x02
	FlagRST uint8 = 0x04
	FlagPSH uint8 = 0x08
	FlagACK uint8 = 0x10
)

// TCPSegment is a read view over a TCP segment.
type TCPSegment struct {
	buf []byte
}

// NewTCPSegment validates buf against the fixed 20-byte header and
// checks the data-offset field agrees with (and does not exceed)
// the buffer.
func NewTCPSegment(buf []byte) (TCPSegment, error) {
	if len(buf) < TCPHeaderLen {
		return TCPSegment{}, fmt.Errorf("tcp segment: %d bytes, need %d: %w", len(buf), TCPHeaderLen, stackerr.ErrPacketTooShort)
	}
	s := TCPSegment{buf: buf}
	hlen := s.HeaderLen()
	if hlen < TCPHeaderLen || hlen > len(buf) {
		return TCPSegment{}, fmt.Errorf("tcp segment: header len %d out of range [%d,%d]: %w", hlen, TCPHeaderLen, len(buf), stackerr.ErrInvalidHeaderLen)
	}
	return s, nil
}

func (s TCPSegment) HeaderLen() int { return int(s.buf[tcpDataOff]>>4) * 4 }
func (s TCPSegment) SrcPort() uint16 {
	return binary.BigEndian.Uint16(s.buf[tcpSrcPort : tcpSrcPort+2])
}
func (s TCPSegment) DstPort() uint16 {
	return binary.BigEndian.Uint16(s.buf[tcpDstPort : tcpDstPort+2])
}
func (s TCPSegment) SeqNum() uint32 {
	return binary.BigEndian.Uint32(s.buf[tcpSeqNum : tcpSeqNum+4])
}
func (s TCPSegment) AckNum() uint32 {
	return binary.BigEndian.Uint32(s.buf[tcpAckNum : tcpAckNum+4])
}
func (s TCPSegment) Flags() uint8 { return s.buf[tcpFlags] }
func (s TCPSegment) Window() uint16 {
	return binary.BigEndian.Uint16(s.buf[tcpWindow : tcpWindow+2])
}
func (s TCPSegment) Checksum() uint16 {
	return binary.BigEndian.Uint16(s.buf[tcpChecksum : tcpChecksum+2])
}

// Payload returns the bytes following the header as sized by the
// data-offset field; any options in between are skipped, not parsed.
func (s TCPSegment) Payload() []byte { return s.buf[s.HeaderLen():] }

// Bytes returns the full segment, used as the checksummed segment.
func (s TCPSegment) Bytes() []byte { return s.buf }

// VerifyChecksum checks the pseudo-header checksum for a segment
// arriving from src to dst.
func (s TCPSegment) VerifyChecksum(src, dst [4]byte) bool {
	return pseudoHeaderSum(src, dst, ProtoTCP, s.buf) == 0xffff
}

// TCPSegmentMut is a write view over a caller-sized buffer.
type TCPSegmentMut struct {
	buf []byte
}

// NewTCPSegmentMut wraps buf unchecked; the caller guarantees its size.
func NewTCPSegmentMut(buf []byte) TCPSegmentMut { return TCPSegmentMut{buf: buf} }

func (s TCPSegmentMut) SetSrcPort(v uint16) {
	binary.BigEndian.PutUint16(s.buf[tcpSrcPort:tcpSrcPort+2], v)
}
func (s TCPSegmentMut) SetDstPort(v uint16) {
	binary.BigEndian.PutUint16(s.buf[tcpDstPort:tcpDstPort+2], v)
}
func (s TCPSegmentMut) SetSeqNum(v uint32) {
	binary.BigEndian.PutUint32(s.buf[tcpSeqNum:tcpSeqNum+4], v)
}
func (s TCPSegmentMut) SetAckNum(v uint32) {
	binary.BigEndian.PutUint32(s.buf[tcpAckNum:tcpAckNum+4], v)
}
func (s TCPSegmentMut) SetHeaderLen(n int) { s.buf[tcpDataOff] = uint8(n/4) << 4 }
func (s TCPSegmentMut) SetFlags(v uint8)   { s.buf[tcpFlags] = v }
func (s TCPSegmentMut) SetWindow(v uint16) {
	binary.BigEndian.PutUint16(s.buf[tcpWindow:tcpWindow+2], v)
}
func (s TCPSegmentMut) SetChecksum(v uint16) {
	binary.BigEndian.PutUint16(s.buf[tcpChecksum:tcpChecksum+2], v)
}
func (s TCPSegmentMut) SetUrgentPtr(v uint16) {
	binary.BigEndian.PutUint16(s.buf[tcpUrgent:tcpUrgent+2], v)
}

// PayloadMut returns the writable region following the fixed header.
func (s TCPSegmentMut) PayloadMut() []byte { return s.buf[TCPHeaderLen:] }

// FillChecksum zeroes the checksum field, computes the pseudo-header
// checksum over the full segment, and stores its one's complement.
func (s TCPSegmentMut) FillChecksum(src, dst [4]byte) {
	s.SetChecksum(0)
	sum := pseudoHeaderSum(src, dst, ProtoTCP, s.buf)
	s.SetChecksum(^uint16(sum))
}
