// Package wire implements the zero-allocation header views and the
// Internet checksum shared by every protocol layer (Ethernet, ARP,
// IPv4, ICMP, UDP, TCP). Each header is an offset table of named byte
// ranges plus a read view (constructed with New, validated against the
// header's minimum length) and a write view (constructed with NewMut
// over a caller-sized buffer, unchecked). Accessors read/write
// big-endian fields directly on the borrowed buffer — nothing is
// copied and no struct is cast onto the wire bytes.
package wire

import (
	"encoding/binary"

	"github.com/dantte-lp/gonetstack/internal/stackerr"
)

// Checksum computes the RFC 1071 Internet checksum of data: sum 16-bit
// big-endian words, fold carries into the low 16 bits until none
// remain, then return the one's complement.
func Checksum(data []byte) uint16 {
	return ^checksumRaw(data)
}

// VerifyChecksum reports whether data (header plus trailing checksum
// field) sums to zero under the Internet checksum.
func VerifyChecksum(data []byte) bool {
	return Checksum(data) == 0
}

func checksumRaw(data []byte) uint16 {
	var sum uint32
	n := len(data)
	i := 0
	for i+1 < n {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
		i += 2
	}
	if i < n {
		sum += uint32(data[i]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return uint16(sum)
}

// pseudoHeaderSum folds a TCP/UDP pseudo-header (RFC 793 §3.1, RFC 768)
// {src, dst, zero, protocol, length} plus segment into a running
// one's-complement sum, used by both FillTCPChecksum/VerifyTCPChecksum
// and their UDP counterparts.
func pseudoHeaderSum(src, dst [4]byte, protocol uint8, segment []byte) uint32 {
	var sum uint32
	sum = checksumAcc(src[:], sum)
	sum = checksumAcc(dst[:], sum)
	sum = checksumAcc([]byte{0, protocol}, sum)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(segment)))
	sum = checksumAcc(lenBuf[:], sum)
	sum = checksumAcc(segment, sum)
	return sum
}

func checksumAcc(data []byte, sum uint32) uint32 {
	n := len(data)
	i := 0
	for i+1 < n {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
		i += 2
	}
	if i < n {
		sum += uint32(data[i]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return sum
}

// ErrTooShort is returned by a header's New constructor when the
// buffer is below the header's minimum length.
var ErrTooShort = stackerr.ErrPacketTooShort
