// Package arp implements IPv4-over-Ethernet address resolution: an
// ARP cache, request/reply framing, and a blocking Resolve call that
// sends a who-has request and waits for the matching reply or a
// timeout (spec.md §4.2). Grounded on original_source/.../arp.rs,
// adapted from its tick-polled resolve loop to a sync.Cond wait woken
// by cache inserts, with timeout driven by an injected clock.Clock
// rather than a global tick counter.
package arp

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dantte-lp/gonetstack/internal/clock"
	"github.com/dantte-lp/gonetstack/internal/ethernet"
	netstackmetrics "github.com/dantte-lp/gonetstack/internal/metrics"
	"github.com/dantte-lp/gonetstack/internal/netaddr"
	"github.com/dantte-lp/gonetstack/internal/netdev"
	"github.com/dantte-lp/gonetstack/internal/stackerr"
	"github.com/dantte-lp/gonetstack/internal/wire"
)

// cache is the IP-to-MAC mapping table, guarded by mu and observed
// through cv so Resolve can block until an entry appears.
type cache struct {
	mu      sync.Mutex
	cv      *sync.Cond
	entries map[netaddr.Addr]netaddr.HardwareAddr
}

func newCache() *cache {
	c := &cache{entries: make(map[netaddr.Addr]netaddr.HardwareAddr)}
	c.cv = sync.NewCond(&c.mu)
	return c
}

func (c *cache) lookup(ip netaddr.Addr) (netaddr.HardwareAddr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mac, ok := c.entries[ip]
	return mac, ok
}

func (c *cache) insert(ip netaddr.Addr, mac netaddr.HardwareAddr) {
	c.mu.Lock()
	c.entries[ip] = mac
	c.mu.Unlock()
	c.cv.Broadcast()
}

// Resolver owns the ARP cache and the device/ethernet plumbing needed
// to send requests and replies.
type Resolver struct {
	log     *slog.Logger
	cache   *cache
	devices *netdev.Registry
	eth     *ethernet.Layer
	clk     clock.Clock
	metrics *netstackmetrics.Collector
}

// New returns a Resolver wired to devices and eth, and registers its
// ingress handler for EthertypeARP on eth. metrics may be nil.
func New(devices *netdev.Registry, eth *ethernet.Layer, clk clock.Clock, metrics *netstackmetrics.Collector, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	r := &Resolver{log: log, cache: newCache(), devices: devices, eth: eth, clk: clk, metrics: metrics}
	eth.Register(wire.EthertypeARP, r.Ingress)
	return r
}

// Ingress processes an ARP packet received on dev: a reply updates the
// cache, a request addressed to one of dev's interfaces is answered.
func (r *Resolver) Ingress(dev *netdev.Device, payload []byte) error {
	pkt, err := wire.NewARPPacket(payload)
	if err != nil {
		return fmt.Errorf("arp ingress: %w", err)
	}
	if pkt.HType() != wire.ARPHTypeEthernet || pkt.PType() != wire.ARPPTypeIPv4 ||
		pkt.HLen() != wire.ARPHLenEthernet || pkt.PLen() != wire.ARPPLenIPv4 {
		return fmt.Errorf("arp ingress: %w", stackerr.ErrUnsupportedProto)
	}

	oper := pkt.Oper()
	senderIP := netaddr.Addr(pkt.SPA())
	senderMAC := netaddr.HardwareAddr(pkt.SHA())
	targetIP := netaddr.Addr(pkt.TPA())

	r.log.Debug("arp: ingress", "oper", oper, "sender", senderIP, "target", targetIP)

	switch oper {
	case wire.ARPOperReply:
		r.log.Debug("arp: reply", "ip", senderIP, "mac", senderMAC)
		r.cache.insert(senderIP, senderMAC)
	case wire.ARPOperRequest:
		if iface, ok := dev.InterfaceByAddr(targetIP); ok {
			return r.sendReply(dev, senderMAC, senderIP, iface.Addr)
		}
	}
	return nil
}

func (r *Resolver) sendReply(dev *netdev.Device, dstMAC netaddr.HardwareAddr, dstIP, srcIP netaddr.Addr) error {
	buf := make([]byte, wire.ARPPacketLen)
	pkt := wire.NewARPPacketMut(buf)
	pkt.SetHType(wire.ARPHTypeEthernet)
	pkt.SetPType(wire.ARPPTypeIPv4)
	pkt.SetHLen(wire.ARPHLenEthernet)
	pkt.SetPLen(wire.ARPPLenIPv4)
	pkt.SetOper(wire.ARPOperReply)
	pkt.SetSHA(dev.HWAddr)
	pkt.SetSPA(uint32(srcIP))
	pkt.SetTHA(dstMAC)
	pkt.SetTPA(uint32(dstIP))
	return r.eth.Egress(dev, dstMAC, wire.EthertypeARP, buf)
}

func (r *Resolver) sendRequest(dev *netdev.Device, targetIP, senderIP netaddr.Addr) error {
	buf := make([]byte, wire.ARPPacketLen)
	pkt := wire.NewARPPacketMut(buf)
	pkt.SetHType(wire.ARPHTypeEthernet)
	pkt.SetPType(wire.ARPPTypeIPv4)
	pkt.SetHLen(wire.ARPHLenEthernet)
	pkt.SetPLen(wire.ARPPLenIPv4)
	pkt.SetOper(wire.ARPOperRequest)
	pkt.SetSHA(dev.HWAddr)
	pkt.SetSPA(uint32(senderIP))
	pkt.SetTHA(netaddr.HardwareAddr{})
	pkt.SetTPA(uint32(targetIP))
	return r.eth.Egress(dev, netaddr.Broadcast, wire.EthertypeARP, buf)
}

// Resolve returns the MAC address for targetIP reachable via devName,
// blocking on a who-has request until the reply arrives or timeout
// elapses. senderIP is the source address advertised in the request.
func (r *Resolver) Resolve(devName string, targetIP, senderIP netaddr.Addr, timeout time.Duration) (netaddr.HardwareAddr, error) {
	if mac, ok := r.cache.lookup(targetIP); ok {
		r.log.Debug("arp: cache hit", "ip", targetIP, "mac", mac)
		r.metrics.IncARPCacheHit()
		return mac, nil
	}
	r.metrics.IncARPCacheMiss()

	dev, ok := r.devices.ByName(devName)
	if !ok {
		return netaddr.HardwareAddr{}, fmt.Errorf("arp resolve: device %s: %w", devName, stackerr.ErrDeviceNotFound)
	}
	if !dev.Flags().Has(netdev.FlagUp) {
		return netaddr.HardwareAddr{}, fmt.Errorf("arp resolve: device %s: %w", devName, stackerr.ErrNotConnected)
	}

	r.log.Debug("arp: send request", "who-has", targetIP, "tell", senderIP)
	if err := r.sendRequest(dev, targetIP, senderIP); err != nil {
		return netaddr.HardwareAddr{}, fmt.Errorf("arp resolve: %w", err)
	}

	timedOut := make(chan struct{})
	go func() {
		r.clk.Sleep(timeout)
		r.cache.mu.Lock()
		close(timedOut)
		r.cache.mu.Unlock()
		r.cache.cv.Broadcast()
	}()

	r.cache.mu.Lock()
	defer r.cache.mu.Unlock()
	for {
		if mac, ok := r.cache.entries[targetIP]; ok {
			r.log.Debug("arp: resolved", "ip", targetIP, "mac", mac)
			return mac, nil
		}
		select {
		case <-timedOut:
			r.log.Debug("arp: resolve timeout", "ip", targetIP)
			r.metrics.IncARPResolveTimeout()
			return netaddr.HardwareAddr{}, fmt.Errorf("arp resolve %s: %w", targetIP, stackerr.ErrTimeout)
		default:
		}
		r.cache.cv.Wait()
	}
}
