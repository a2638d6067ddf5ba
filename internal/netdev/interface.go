package netdev

import "github.com/dantte-lp/gonetstack/internal/netaddr"

// AFInet is the address-family tag stored on every Interface, mirroring
// AF_INET from the original kernel target.
const AFInet = 2

// Interface is an IPv4 address attached to a Device: address, netmask,
// and the derived broadcast address (addr | ^netmask).
type Interface struct {
	Family    int
	Addr      netaddr.Addr
	Netmask   netaddr.Addr
	Broadcast netaddr.Addr
}

// NewInterface derives the broadcast address from addr and netmask.
func NewInterface(addr, netmask netaddr.Addr) Interface {
	return Interface{
		Family:    AFInet,
		Addr:      addr,
		Netmask:   netmask,
		Broadcast: addr | ^netmask,
	}
}

// Contains reports whether dst falls within the interface's subnet.
func (i Interface) Contains(dst netaddr.Addr) bool {
	return dst&i.Netmask == i.Addr&i.Netmask
}
