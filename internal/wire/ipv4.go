package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/dantte-lp/gonetstack/internal/stackerr"
)

// IPv4 header field offsets (RFC 791), fixed 20-byte header, no options.
const (
	ipVersionIHL = 0
	ipTOS        = 1
	ipTotalLen   = 2
	ipID         = 4
	ipFlagsFrag  = 6
	ipTTL        = 8
	ipProtocol   = 9
	ipChecksum   = 10
	ipSrc        = 12
	ipDst        = 16

	IPv4HeaderLen = 20
)

// IP protocol numbers demultiplexed by the IPv4 layer.
const (
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
)

// IPv4Packet is a read view over an IPv4 datagram. New performs only
// the length check; field-level validation (version, IHL, checksum,
// total length) is the ipv4 package's ingress responsibility per
// spec.md §4.4, not the codec's.
type IPv4Packet struct {
	buf []byte
}

// NewIPv4Packet validates buf against the fixed 20-byte minimum header.
func NewIPv4Packet(buf []byte) (IPv4Packet, error) {
	if len(buf) < IPv4HeaderLen {
		return IPv4Packet{}, fmt.Errorf("ipv4 packet: %d bytes, need %d: %w", len(buf), IPv4HeaderLen, stackerr.ErrPacketTooShort)
	}
	return IPv4Packet{buf: buf}, nil
}

func (p IPv4Packet) Version() uint8 { return p.buf[ipVersionIHL] >> 4 }
func (p IPv4Packet) IHL() uint8     { return p.buf[ipVersionIHL] & 0x0f }
func (p IPv4Packet) HeaderLen() int { return int(p.IHL()) * 4 }
func (p IPv4Packet) TotalLen() uint16 {
	return binary.BigEndian.Uint16(p.buf[ipTotalLen : ipTotalLen+2])
}
func (p IPv4Packet) TTL() uint8      { return p.buf[ipTTL] }
func (p IPv4Packet) Protocol() uint8 { return p.buf[ipProtocol] }
func (p IPv4Packet) Checksum() uint16 {
	return binary.BigEndian.Uint16(p.buf[ipChecksum : ipChecksum+2])
}
func (p IPv4Packet) Src() uint32 { return binary.BigEndian.Uint32(p.buf[ipSrc : ipSrc+4]) }
func (p IPv4Packet) Dst() uint32 { return binary.BigEndian.Uint32(p.buf[ipDst : ipDst+4]) }

// HeaderBytes returns the raw header (length HeaderLen()), used for
// checksum verification.
func (p IPv4Packet) HeaderBytes() []byte { return p.buf[:p.HeaderLen()] }

// Payload returns the bytes following the (possibly options-bearing)
// header, up to TotalLen.
func (p IPv4Packet) Payload() []byte {
	hlen := p.HeaderLen()
	total := int(p.TotalLen())
	return p.buf[hlen:total]
}

// IPv4PacketMut is a write view for egress, used only to build the
// fixed, option-free 20-byte header this stack emits.
type IPv4PacketMut struct {
	buf []byte
}

// NewIPv4PacketMut wraps buf unchecked; the caller guarantees its size.
func NewIPv4PacketMut(buf []byte) IPv4PacketMut { return IPv4PacketMut{buf: buf} }

func (p IPv4PacketMut) SetVersionIHL(version, ihl uint8) { p.buf[ipVersionIHL] = version<<4 | ihl }
func (p IPv4PacketMut) SetTOS(v uint8)                   { p.buf[ipTOS] = v }
func (p IPv4PacketMut) SetTotalLen(v uint16) {
	binary.BigEndian.PutUint16(p.buf[ipTotalLen:ipTotalLen+2], v)
}
func (p IPv4PacketMut) SetID(v uint16) { binary.BigEndian.PutUint16(p.buf[ipID:ipID+2], v) }
func (p IPv4PacketMut) SetFlagsFragOffset(v uint16) {
	binary.BigEndian.PutUint16(p.buf[ipFlagsFrag:ipFlagsFrag+2], v)
}
func (p IPv4PacketMut) SetTTL(v uint8)      { p.buf[ipTTL] = v }
func (p IPv4PacketMut) SetProtocol(v uint8) { p.buf[ipProtocol] = v }
func (p IPv4PacketMut) SetChecksum(v uint16) {
	binary.BigEndian.PutUint16(p.buf[ipChecksum:ipChecksum+2], v)
}
func (p IPv4PacketMut) SetSrc(v uint32) { binary.BigEndian.PutUint32(p.buf[ipSrc:ipSrc+4], v) }
func (p IPv4PacketMut) SetDst(v uint32) { binary.BigEndian.PutUint32(p.buf[ipDst:ipDst+4], v) }

// FillChecksum zeroes the checksum field, computes the Internet
// checksum over the 20-byte header, and stores the result.
func (p IPv4PacketMut) FillChecksum() {
	p.SetChecksum(0)
	p.SetChecksum(Checksum(p.buf[:IPv4HeaderLen]))
}

// PayloadMut returns the writable region following the fixed header.
func (p IPv4PacketMut) PayloadMut() []byte { return p.buf[IPv4HeaderLen:] }
