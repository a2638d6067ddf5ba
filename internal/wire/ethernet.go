package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/dantte-lp/gonetstack/internal/stackerr"
)

// Ethernet II field offsets.
const (
	ethDst        = 0
	ethSrc        = 6
	ethEthertype  = 12
	EthHeaderLen  = 14
)

// Ethertype values dispatched by the ethernet layer.
const (
	EthertypeARP  uint16 = 0x0806
	EthertypeIPv4 uint16 = 0x0800
)

// EthFrame is a read view over an Ethernet II frame.
type EthFrame struct {
	buf []byte
}

// NewEthFrame validates buf against the minimum frame length.
func NewEthFrame(buf []byte) (EthFrame, error) {
	if len(buf) < EthHeaderLen {
		return EthFrame{}, fmt.Errorf("ethernet frame: %d bytes, need %d: %w", len(buf), EthHeaderLen, stackerr.ErrPacketTooShort)
	}
	return EthFrame{buf: buf}, nil
}

// Dst returns the destination MAC.
func (f EthFrame) Dst() [6]byte { var m [6]byte; copy(m[:], f.buf[ethDst:ethDst+6]); return m }

// Src returns the source MAC.
func (f EthFrame) Src() [6]byte { var m [6]byte; copy(m[:], f.buf[ethSrc:ethSrc+6]); return m }

// Ethertype returns the ethertype field.
func (f EthFrame) Ethertype() uint16 {
	return binary.BigEndian.Uint16(f.buf[ethEthertype : ethEthertype+2])
}

// Payload returns the frame payload following the 14-byte header.
func (f EthFrame) Payload() []byte { return f.buf[EthHeaderLen:] }

// EthFrameMut is a write view over a caller-sized buffer.
type EthFrameMut struct {
	buf []byte
}

// NewEthFrameMut wraps buf unchecked; the caller guarantees its size.
func NewEthFrameMut(buf []byte) EthFrameMut { return EthFrameMut{buf: buf} }

// SetDst writes the destination MAC.
func (f EthFrameMut) SetDst(mac [6]byte) { copy(f.buf[ethDst:ethDst+6], mac[:]) }

// SetSrc writes the source MAC.
func (f EthFrameMut) SetSrc(mac [6]byte) { copy(f.buf[ethSrc:ethSrc+6], mac[:]) }

// SetEthertype writes the ethertype field.
func (f EthFrameMut) SetEthertype(v uint16) {
	binary.BigEndian.PutUint16(f.buf[ethEthertype:ethEthertype+2], v)
}

// PayloadMut returns the writable payload region.
func (f EthFrameMut) PayloadMut() []byte { return f.buf[EthHeaderLen:] }
