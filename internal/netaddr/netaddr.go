// Package netaddr holds the small value types shared across every
// protocol layer: IPv4 addresses, transport endpoints, and hardware
// (MAC) addresses.
package netaddr

import "fmt"

// Addr is a 32-bit IPv4 address held in host byte order. It is
// serialised big-endian on the wire by the wire package.
type Addr uint32

// Loopback is 127.0.0.1.
const Loopback Addr = 0x7f000001

// Any is the zero/wildcard address.
const Any Addr = 0

// AddrFromBytes builds an Addr from four octets in network order
// (a.b.c.d).
func AddrFromBytes(a, b, c, d byte) Addr {
	return Addr(uint32(a)<<24 | uint32(b)<<16 | uint32(c)<<8 | uint32(d))
}

// Bytes returns the four octets of a in network order.
func (a Addr) Bytes() [4]byte {
	return [4]byte{byte(a >> 24), byte(a >> 16), byte(a >> 8), byte(a)}
}

// IsAny reports whether a is the wildcard address.
func (a Addr) IsAny() bool { return a == Any }

// String renders dotted-quad notation.
func (a Addr) String() string {
	b := a.Bytes()
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}

// Endpoint is an (address, port) pair. A zero Addr and/or zero Port is
// a wildcard during bind/listen matching.
type Endpoint struct {
	Addr Addr
	Port uint16
}

// IsWildcard reports whether the address, the port, or both are zero.
func (e Endpoint) IsWildcard() bool { return e.Addr.IsAny() || e.Port == 0 }

// String renders "addr:port".
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

// HardwareAddr is a 6-byte link-layer (MAC) address.
type HardwareAddr [6]byte

// Broadcast is the all-ones MAC address.
var Broadcast = HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

// Zero is the all-zero MAC address.
var Zero = HardwareAddr{}

// IsBroadcast reports whether h is the broadcast address.
func (h HardwareAddr) IsBroadcast() bool { return h == Broadcast }

// String renders colon-separated hex octets.
func (h HardwareAddr) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", h[0], h[1], h[2], h[3], h[4], h[5])
}
