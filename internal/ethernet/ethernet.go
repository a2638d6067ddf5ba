// Package ethernet implements the link layer: ethertype-keyed protocol
// dispatch on ingress, and header framing on egress (spec.md §4.1).
// It is grounded on original_source/.../ethernet.rs and protocol.rs,
// merging the latter's ProtocolRegistry into the layer that actually
// owns ethertype dispatch in this port.
package ethernet

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/dantte-lp/gonetstack/internal/netdev"
	"github.com/dantte-lp/gonetstack/internal/stackerr"
	"github.com/dantte-lp/gonetstack/internal/wire"
)

// Handler processes a decapsulated Ethernet payload for a given
// ethertype, as delivered to the receiving device.
type Handler func(dev *netdev.Device, payload []byte) error

// Layer dispatches ingress frames by ethertype to registered handlers,
// and frames egress payloads into Ethernet II frames.
type Layer struct {
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[uint16]Handler
}

// New returns a Layer with no registered handlers.
func New(log *slog.Logger) *Layer {
	if log == nil {
		log = slog.Default()
	}
	return &Layer{log: log, handlers: make(map[uint16]Handler)}
}

// Register installs handler for ethertype, replacing any prior handler.
func (l *Layer) Register(ethertype uint16, handler Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[ethertype] = handler
	l.log.Debug("ethernet: registered protocol handler", "ethertype", fmt.Sprintf("0x%04x", ethertype))
}

// Ingress decapsulates an Ethernet II frame received on dev and
// dispatches its payload to the handler registered for its ethertype.
// An unregistered ethertype yields ErrUnsupportedProto.
func (l *Layer) Ingress(dev *netdev.Device, frame []byte) error {
	f, err := wire.NewEthFrame(frame)
	if err != nil {
		return fmt.Errorf("ethernet ingress: %w", err)
	}
	etype := f.Ethertype()
	l.log.Debug("ethernet: ingress", "device", dev.Name(), "ethertype", fmt.Sprintf("0x%04x", etype), "len", len(frame))

	l.mu.RLock()
	handler, ok := l.handlers[etype]
	l.mu.RUnlock()
	if !ok {
		l.log.Debug("ethernet: unsupported ethertype", "ethertype", fmt.Sprintf("0x%04x", etype))
		return fmt.Errorf("ethernet ingress: ethertype 0x%04x: %w", etype, stackerr.ErrUnsupportedProto)
	}
	return handler(dev, f.Payload())
}

// Egress frames payload into an Ethernet II frame addressed to dstMAC
// with the given ethertype, and transmits it on dev. The device must
// be up.
func (l *Layer) Egress(dev *netdev.Device, dstMAC [6]byte, ethertype uint16, payload []byte) error {
	if !dev.Flags().Has(netdev.FlagUp) {
		return fmt.Errorf("ethernet egress: device %s: %w", dev.Name(), stackerr.ErrNotConnected)
	}
	frame := make([]byte, wire.EthHeaderLen+len(payload))
	hdr := wire.NewEthFrameMut(frame)
	hdr.SetDst(dstMAC)
	hdr.SetSrc(dev.HWAddr)
	hdr.SetEthertype(ethertype)
	copy(hdr.PayloadMut(), payload)

	l.log.Debug("ethernet: egress", "device", dev.Name(), "ethertype", fmt.Sprintf("0x%04x", ethertype), "len", len(frame))
	return dev.Transmit(frame)
}
