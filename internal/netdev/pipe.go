package netdev

import "github.com/dantte-lp/gonetstack/internal/netaddr"

// NewPipe builds two Ethernet devices, a and b, wired so a frame
// transmitted on one is delivered synchronously to the other's
// ethernet ingress callback. This stands in for the out-of-scope
// paravirtualised NIC ring driver (spec.md §1) in tests, without
// modelling any MMIO/queue plumbing.
//
// ethIngress is invoked with the *receiving* device and the raw frame
// bytes, exactly the contract Ethernet.Ingress expects.
func NewPipe(nameA, nameB string, hwA, hwB netaddr.HardwareAddr, ethIngress func(dev *Device, frame []byte) error) (a, b *Device) {
	a = New(Config{
		Name:      nameA,
		Type:      TypeEthernet,
		MTU:       1500,
		Flags:     FlagUp | FlagRunning | FlagBroadcast,
		HeaderLen: 14,
		AddrLen:   6,
		HWAddr:    hwA,
	})
	b = New(Config{
		Name:      nameB,
		Type:      TypeEthernet,
		MTU:       1500,
		Flags:     FlagUp | FlagRunning | FlagBroadcast,
		HeaderLen: 14,
		AddrLen:   6,
		HWAddr:    hwB,
	})
	a.ops = Ops{
		Transmit: func(_ *Device, frame []byte) error { return ethIngress(b, frame) },
		Open:     func(dev *Device) error { dev.SetFlags(dev.Flags() | FlagUp | FlagRunning); return nil },
		Close:    func(dev *Device) error { dev.SetFlags(dev.Flags() &^ FlagRunning); return nil },
	}
	b.ops = Ops{
		Transmit: func(_ *Device, frame []byte) error { return ethIngress(a, frame) },
		Open:     func(dev *Device) error { dev.SetFlags(dev.Flags() | FlagUp | FlagRunning); return nil },
		Close:    func(dev *Device) error { dev.SetFlags(dev.Flags() &^ FlagRunning); return nil },
	}
	return a, b
}
