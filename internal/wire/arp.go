package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/dantte-lp/gonetstack/internal/stackerr"
)

// ARP field offsets (RFC 826, Ethernet/IPv4 variant).
const (
	arpHtype = 0
	arpPtype = 2
	arpHlen  = 4
	arpPlen  = 5
	arpOper  = 6
	arpSha   = 8
	arpSpa   = 14
	arpTha   = 18
	arpTpa   = 24

	ARPPacketLen = 28
)

// Fixed field values for the Ethernet/IPv4 ARP variant this stack speaks.
const (
	ARPHTypeEthernet uint16 = 1
	ARPPTypeIPv4     uint16 = 0x0800
	ARPHLenEthernet  uint8  = 6
	ARPPLenIPv4      uint8  = 4

	ARPOperRequest uint16 = 1
	ARPOperReply   uint16 = 2
)

// ARPPacket is a read view over an ARP packet.
type ARPPacket struct {
	buf []byte
}

// NewARPPacket validates buf against the fixed 28-byte ARP packet length.
func NewARPPacket(buf []byte) (ARPPacket, error) {
	if len(buf) < ARPPacketLen {
		return ARPPacket{}, fmt.Errorf("arp packet: %d bytes, need %d: %w", len(buf), ARPPacketLen, stackerr.ErrPacketTooShort)
	}
	return ARPPacket{buf: buf}, nil
}

func (p ARPPacket) HType() uint16 { return binary.BigEndian.Uint16(p.buf[arpHtype : arpHtype+2]) }
func (p ARPPacket) PType() uint16 { return binary.BigEndian.Uint16(p.buf[arpPtype : arpPtype+2]) }
func (p ARPPacket) HLen() uint8   { return p.buf[arpHlen] }
func (p ARPPacket) PLen() uint8   { return p.buf[arpPlen] }
func (p ARPPacket) Oper() uint16  { return binary.BigEndian.Uint16(p.buf[arpOper : arpOper+2]) }

func (p ARPPacket) SHA() [6]byte {
	var m [6]byte
	copy(m[:], p.buf[arpSha:arpSha+6])
	return m
}

func (p ARPPacket) SPA() uint32 { return binary.BigEndian.Uint32(p.buf[arpSpa : arpSpa+4]) }

func (p ARPPacket) THA() [6]byte {
	var m [6]byte
	copy(m[:], p.buf[arpTha:arpTha+6])
	return m
}

func (p ARPPacket) TPA() uint32 { return binary.BigEndian.Uint32(p.buf[arpTpa : arpTpa+4]) }

// ARPPacketMut is a write view over a caller-sized buffer.
type ARPPacketMut struct {
	buf []byte
}

// NewARPPacketMut wraps buf unchecked; the caller guarantees its size.
func NewARPPacketMut(buf []byte) ARPPacketMut { return ARPPacketMut{buf: buf} }

func (p ARPPacketMut) SetHType(v uint16) { binary.BigEndian.PutUint16(p.buf[arpHtype:arpHtype+2], v) }
func (p ARPPacketMut) SetPType(v uint16) { binary.BigEndian.PutUint16(p.buf[arpPtype:arpPtype+2], v) }
func (p ARPPacketMut) SetHLen(v uint8)   { p.buf[arpHlen] = v }
func (p ARPPacketMut) SetPLen(v uint8)   { p.buf[arpPlen] = v }
func (p ARPPacketMut) SetOper(v uint16)  { binary.BigEndian.PutUint16(p.buf[arpOper:arpOper+2], v) }

func (p ARPPacketMut) SetSHA(mac [6]byte) { copy(p.buf[arpSha:arpSha+6], mac[:]) }
func (p ARPPacketMut) SetSPA(v uint32)    { binary.BigEndian.PutUint32(p.buf[arpSpa:arpSpa+4], v) }
func (p ARPPacketMut) SetTHA(mac [6]byte) { copy(p.buf[arpTha:arpTha+6], mac[:]) }
func (p ARPPacketMut) SetTPA(v uint32)    { binary.BigEndian.PutUint32(p.buf[arpTpa:arpTpa+4], v) }
