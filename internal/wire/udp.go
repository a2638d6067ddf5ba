package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/dantte-lp/gonetstack/internal/stackerr"
)

// UDP header field offsets (RFC 768).
const (
	udpSrcPort  = 0
	udpDstPort  = 2
	udpLength   = 4
	udpChecksum = 6

	UDPHeaderLen = 8
)

// UDPDatagram is a read view over a UDP datagram.
type UDPDatagram struct {
	buf []byte
}

// NewUDPDatagram validates buf against the fixed 8-byte header.
func NewUDPDatagram(buf []byte) (UDPDatagram, error) {
	if len(buf) < UDPHeaderLen {
		return UDPDatagram{}, fmt.Errorf("udp datagram: %d bytes, need %d: %w", len(buf), UDPHeaderLen, stackerr.ErrPacketTooShort)
	}
	return UDPDatagram{buf: buf}, nil
}

func (d UDPDatagram) SrcPort() uint16 { return binary.BigEndian.Uint16(d.buf[udpSrcPort : udpSrcPort+2]) }
func (d UDPDatagram) DstPort() uint16 { return binary.BigEndian.Uint16(d.buf[udpDstPort : udpDstPort+2]) }
func (d UDPDatagram) Length() uint16  { return binary.BigEndian.Uint16(d.buf[udpLength : udpLength+2]) }
func (d UDPDatagram) Checksum() uint16 {
	return binary.BigEndian.Uint16(d.buf[udpChecksum : udpChecksum+2])
}

// Payload returns the bytes following the 8-byte header, up to Length.
func (d UDPDatagram) Payload() []byte { return d.buf[UDPHeaderLen:d.Length()] }

// Bytes returns the full datagram, used as the checksummed segment.
func (d UDPDatagram) Bytes() []byte { return d.buf }

// UDPDatagramMut is a write view over a caller-sized buffer.
type UDPDatagramMut struct {
	buf []byte
}

// NewUDPDatagramMut wraps buf unchecked; the caller guarantees its size.
func NewUDPDatagramMut(buf []byte) UDPDatagramMut { return UDPDatagramMut{buf: buf} }

func (d UDPDatagramMut) SetSrcPort(v uint16) {
	binary.BigEndian.PutUint16(d.buf[udpSrcPort:udpSrcPort+2], v)
}
func (d UDPDatagramMut) SetDstPort(v uint16) {
	binary.BigEndian.PutUint16(d.buf[udpDstPort:udpDstPort+2], v)
}
func (d UDPDatagramMut) SetLength(v uint16) {
	binary.BigEndian.PutUint16(d.buf[udpLength:udpLength+2], v)
}
func (d UDPDatagramMut) SetChecksum(v uint16) {
	binary.BigEndian.PutUint16(d.buf[udpChecksum:udpChecksum+2], v)
}

// PayloadMut returns the writable region following the 8-byte header.
func (d UDPDatagramMut) PayloadMut() []byte { return d.buf[UDPHeaderLen:] }

// UDPPseudoChecksum computes the pseudo-header checksum (RFC 768) over
// the full datagram bytes (header + payload), folded but NOT
// complemented — callers apply the RFC 768 zero-as-0xFFFF rule
// themselves since the all-zero-sum cases differ between verify and
// fill.
func UDPPseudoChecksum(src, dst [4]byte, datagram []byte) uint16 {
	sum := pseudoHeaderSum(src, dst, ProtoUDP, datagram)
	return uint16(sum)
}

// VerifyUDPChecksum implements the RFC 768 receive rule: a zero
// checksum field means "no checksum"; otherwise the pseudo-header sum
// must fold to the one's-complement sentinel (0xFFFF) or, for a
// datagram whose on-wire checksum field already reads as the
// complement of the computed sum, to zero.
func VerifyUDPChecksum(src, dst [4]byte, datagram []byte) bool {
	d, err := NewUDPDatagram(datagram)
	if err != nil {
		return false
	}
	if d.Checksum() == 0 {
		return true
	}
	sum := UDPPseudoChecksum(src, dst, datagram)
	return sum == 0xffff || sum == 0
}

// FillUDPChecksum computes the pseudo-header checksum over the
// datagram (with the checksum field already zeroed by the caller) and
// stores it, substituting 0xFFFF for an all-zero result per RFC 768.
func FillUDPChecksum(src, dst [4]byte, datagramMut UDPDatagramMut, datagram []byte) {
	sum := UDPPseudoChecksum(src, dst, datagram)
	csum := ^sum
	if csum == 0 {
		csum = 0xffff
	}
	datagramMut.SetChecksum(csum)
}
