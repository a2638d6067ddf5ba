package netdev

// NewLoopback builds the loopback device. Its transmit *is* a receive:
// per spec.md §4.2 and the ethernet layer's LOOPBACK special-case
// (grounded on original_source/.../protocol.rs's
// `if dev.flags().contains(LOOPBACK) { return ip_handler(...) }`), a
// loopback transmit re-injects the raw IPv4 datagram directly into the
// IPv4 ingress path, bypassing Ethernet framing entirely. ipIngress is
// supplied by the stack composition root once the IPv4 layer exists,
// to avoid an import cycle between netdev and ipv4.
func NewLoopback(ipIngress func(dev *Device, datagram []byte) error) *Device {
	return New(Config{
		Name:      "lo",
		Type:      TypeLoopback,
		MTU:       65535,
		Flags:     FlagUp | FlagRunning | FlagLoopback,
		HeaderLen: 0,
		AddrLen:   0,
		Ops: Ops{
			Transmit: func(dev *Device, datagram []byte) error {
				return ipIngress(dev, datagram)
			},
			Open:  func(dev *Device) error { dev.SetFlags(dev.Flags() | FlagUp | FlagRunning); return nil },
			Close: func(dev *Device) error { dev.SetFlags(dev.Flags() &^ FlagRunning); return nil },
		},
	})
}
