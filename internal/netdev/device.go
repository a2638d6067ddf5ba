// Package netdev implements the device registry and interface table:
// named NICs with MTU, MAC, flags, and attached IP interfaces, looked
// up by name or index. A Device's Ops vtable is the full extent of the
// out-of-scope NIC driver's contract (spec.md §6); this package ships
// no real ring-buffer driver, only a Loopback device and an in-process
// Pipe pair used by tests.
package netdev

import (
	"fmt"

	"github.com/dantte-lp/gonetstack/internal/netaddr"
	"github.com/dantte-lp/gonetstack/internal/stackerr"
)

// Type distinguishes the device kinds the stack knows about.
type Type int

const (
	TypeLoopback Type = iota
	TypeEthernet
)

// Flags are the device state bits (a small subset of Linux's
// IFF_* flags sufficient for this stack's needs).
type Flags uint16

const (
	FlagUp        Flags = 0x0001
	FlagBroadcast Flags = 0x0002
	FlagLoopback  Flags = 0x0008
	FlagRunning   Flags = 0x0040
)

// Has reports whether f contains every bit in other.
func (f Flags) Has(other Flags) bool { return f&other == other }

// Ops is the device operations vtable — the out-of-scope NIC driver's
// contract (spec.md §6). Transmit must emit exactly the bytes passed.
type Ops struct {
	Transmit func(dev *Device, frame []byte) error
	Open     func(dev *Device) error
	Close    func(dev *Device) error
}

const maxNameLen = 15

// Device is a named NIC: MTU, MAC, flags, header length, an operations
// vtable, and its attached IP interfaces. Devices are cloneable value
// objects — Clone returns an independent copy so callers that need to
// transmit can release the registry lock first, exactly as spec.md §3
// requires.
type Device struct {
	name       string
	Type       Type
	mtu        uint16
	flags      Flags
	HeaderLen  uint16
	AddrLen    uint16
	HWAddr     netaddr.HardwareAddr
	ops        Ops
	interfaces []Interface
}

// Config supplies the immutable fields of a new Device.
type Config struct {
	Name      string
	Type      Type
	MTU       uint16
	Flags     Flags
	HeaderLen uint16
	AddrLen   uint16
	HWAddr    netaddr.HardwareAddr
	Ops       Ops
}

// New constructs a Device from cfg. The name is truncated to 15 bytes,
// matching the fixed-size NUL-padded name field of spec.md §3.
func New(cfg Config) *Device {
	name := cfg.Name
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return &Device{
		name:      name,
		Type:      cfg.Type,
		mtu:       cfg.MTU,
		flags:     cfg.Flags,
		HeaderLen: cfg.HeaderLen,
		AddrLen:   cfg.AddrLen,
		HWAddr:    cfg.HWAddr,
		ops:       cfg.Ops,
	}
}

// Name returns the device's name.
func (d *Device) Name() string { return d.name }

// MTU returns the device's maximum transmission unit.
func (d *Device) MTU() uint16 { return d.mtu }

// Flags returns the device's current flag bits.
func (d *Device) Flags() Flags { return d.flags }

// SetFlags overwrites the device's flag bits.
func (d *Device) SetFlags(f Flags) { d.flags = f }

// Interfaces returns the device's attached IP interfaces.
func (d *Device) Interfaces() []Interface { return d.interfaces }

// AddInterface appends iface to the device's interface list.
func (d *Device) AddInterface(iface Interface) { d.interfaces = append(d.interfaces, iface) }

// InterfaceByAddr returns the interface whose address equals addr.
func (d *Device) InterfaceByAddr(addr netaddr.Addr) (Interface, bool) {
	for _, i := range d.interfaces {
		if i.Addr == addr {
			return i, true
		}
	}
	return Interface{}, false
}

// Clone returns an independent copy of d, sharing no mutable state —
// used so transmit paths never hold the registry lock across device I/O.
func (d *Device) Clone() *Device {
	cp := *d
	cp.interfaces = append([]Interface(nil), d.interfaces...)
	return &cp
}

// Transmit invokes the device's transmit op.
func (d *Device) Transmit(frame []byte) error {
	if d.ops.Transmit == nil {
		return fmt.Errorf("device %s: %w", d.name, stackerr.ErrUnsupportedDevice)
	}
	return d.ops.Transmit(d, frame)
}

// Open invokes the device's open op, which by convention sets
// FlagUp|FlagRunning.
func (d *Device) Open() error {
	if d.ops.Open == nil {
		return fmt.Errorf("device %s: %w", d.name, stackerr.ErrUnsupportedDevice)
	}
	return d.ops.Open(d)
}

// Close invokes the device's close op, which by convention clears
// FlagRunning.
func (d *Device) Close() error {
	if d.ops.Close == nil {
		return fmt.Errorf("device %s: %w", d.name, stackerr.ErrUnsupportedDevice)
	}
	return d.ops.Close(d)
}
