// Package stack composes the protocol layers — device registry, route
// table, ARP resolver, Ethernet framing, IPv4/ICMP/UDP/TCP managers,
// and the poll coordinator — into one constructable boot-time object,
// the way cmd/gobfd/main.go wires a bfd.Manager plus its transports
// inline. Pulling the wiring into Stack rather than main() keeps the
// whole protocol engine unit-testable with a fresh instance per test.
package stack

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dantte-lp/gonetstack/internal/arp"
	"github.com/dantte-lp/gonetstack/internal/clock"
	"github.com/dantte-lp/gonetstack/internal/config"
	"github.com/dantte-lp/gonetstack/internal/ethernet"
	"github.com/dantte-lp/gonetstack/internal/icmp"
	"github.com/dantte-lp/gonetstack/internal/ipv4"
	netstackmetrics "github.com/dantte-lp/gonetstack/internal/metrics"
	"github.com/dantte-lp/gonetstack/internal/netaddr"
	"github.com/dantte-lp/gonetstack/internal/netdev"
	"github.com/dantte-lp/gonetstack/internal/pollcoord"
	"github.com/dantte-lp/gonetstack/internal/route"
	"github.com/dantte-lp/gonetstack/internal/socket"
	"github.com/dantte-lp/gonetstack/internal/tcp"
	"github.com/dantte-lp/gonetstack/internal/udp"
)

// Stack is a fully-wired netstack instance: one Ethernet layer, one
// ARP resolver, one IPv4 layer, and the ICMP/UDP/TCP protocol
// managers riding on top of it, plus the poll coordinator that drives
// TCP timers.
type Stack struct {
	Devices *netdev.Registry
	Routes  *route.Table
	ARP     *arp.Resolver
	Eth     *ethernet.Layer
	IP      *ipv4.Layer
	ICMP    *icmp.Manager
	UDP     *udp.Manager
	TCP     *tcp.Manager
	Poll    *pollcoord.Coordinator
	Metrics *netstackmetrics.Collector

	clk clock.Clock
	log *slog.Logger
}

// New builds a Stack from cfg: a loopback device is always present;
// cfg.Devices/cfg.Routes add further interfaces and static routes.
// clk is injected for deterministic TCP timer tests; a nil clk uses
// clock.Real{}. reg is the Prometheus registerer backing Metrics; a
// nil reg uses prometheus.DefaultRegisterer.
func New(cfg *config.Config, clk clock.Clock, reg prometheus.Registerer, log *slog.Logger) (*Stack, error) {
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}

	devices := netdev.NewRegistry()
	routes := route.NewTable()
	metrics := netstackmetrics.NewCollector(reg)
	eth := ethernet.New(log)
	resolver := arp.New(devices, eth, clk, metrics, log)
	ip := ipv4.New(devices, routes, resolver, eth, cfg.ARP.ResolveTimeout, metrics, log)

	s := &Stack{
		Devices: devices,
		Routes:  routes,
		ARP:     resolver,
		Eth:     eth,
		IP:      ip,
		Metrics: metrics,
		clk:     clk,
		log:     log,
	}

	lo := netdev.NewLoopback(func(_ *netdev.Device, datagram []byte) error {
		return ip.Ingress(datagram)
	})
	devices.Register(lo)

	for _, dc := range cfg.Devices {
		if err := s.addDevice(dc); err != nil {
			return nil, fmt.Errorf("add device %s: %w", dc.Name, err)
		}
	}
	for _, rc := range cfg.Routes {
		if err := s.addRoute(rc); err != nil {
			return nil, fmt.Errorf("add route to %s: %w", rc.Dest, err)
		}
	}

	s.ICMP = icmp.NewManager(ip, log)
	s.UDP = udp.NewManager(ip, log)
	s.TCP = tcp.NewManager(ip, clk, metrics, log)

	s.Poll = pollcoord.New(
		func() error { return nil },
		func() error { return s.TCP.Poll() },
	)

	return s, nil
}

// AllocTCP allocates a TCP socket and updates the open-sockets gauge.
func (s *Stack) AllocTCP() (socket.Handle, error) {
	h, err := s.TCP.Alloc()
	if err == nil {
		s.Metrics.IncOpenSockets("tcp")
	}
	return h, err
}

// FreeTCP releases a TCP socket and updates the open-sockets gauge.
func (s *Stack) FreeTCP(h socket.Handle) error {
	if err := s.TCP.Free(h); err != nil {
		return err
	}
	s.Metrics.DecOpenSockets("tcp")
	return nil
}

// AllocUDP allocates a UDP socket and updates the open-sockets gauge.
func (s *Stack) AllocUDP() (socket.Handle, error) {
	h, err := s.UDP.Alloc()
	if err == nil {
		s.Metrics.IncOpenSockets("udp")
	}
	return h, err
}

// FreeUDP releases a UDP socket and updates the open-sockets gauge.
func (s *Stack) FreeUDP(h socket.Handle) error {
	if err := s.UDP.Free(h); err != nil {
		return err
	}
	s.Metrics.DecOpenSockets("udp")
	return nil
}

// AllocICMP allocates a raw ICMP socket and updates the open-sockets gauge.
func (s *Stack) AllocICMP() (socket.Handle, error) {
	h, err := s.ICMP.Alloc()
	if err == nil {
		s.Metrics.IncOpenSockets("icmp")
	}
	return h, err
}

// FreeICMP releases a raw ICMP socket and updates the open-sockets gauge.
func (s *Stack) FreeICMP(h socket.Handle) error {
	if err := s.ICMP.Free(h); err != nil {
		return err
	}
	s.Metrics.DecOpenSockets("icmp")
	return nil
}

// addDevice registers one configured Ethernet interface and its
// attached IP interface; it adds no route (routes come from
// cfg.Routes). Actual frame transmission is left
// unimplemented (netdev.Device.Transmit returns ErrUnsupportedDevice)
// since the NIC ring-buffer driver is out of scope (spec.md §6); the
// device still participates in routing and source-address selection.
func (s *Stack) addDevice(dc config.DeviceConfig) error {
	addr, err := dc.AddrParsed()
	if err != nil {
		return err
	}
	mask, err := dc.NetmaskParsed()
	if err != nil {
		return err
	}
	mtu := dc.MTU
	if mtu == 0 {
		mtu = 1500
	}

	var hw netaddr.HardwareAddr
	if dc.HWAddr != "" {
		hw, err = dc.HWAddrParsed()
		if err != nil {
			return err
		}
	}

	dev := netdev.New(netdev.Config{
		Name:      dc.Name,
		Type:      netdev.TypeEthernet,
		MTU:       mtu,
		Flags:     netdev.FlagUp | netdev.FlagRunning | netdev.FlagBroadcast,
		HeaderLen: 14,
		AddrLen:   6,
		HWAddr:    hw,
	})
	dev.AddInterface(netdev.NewInterface(addr, mask))
	s.Devices.Register(dev)
	return nil
}

// addRoute inserts a configured static route into the route table.
func (s *Stack) addRoute(rc config.RouteConfig) error {
	dest, err := rc.DestParsed()
	if err != nil {
		return err
	}
	mask, err := rc.MaskParsed()
	if err != nil {
		return err
	}
	gw, err := rc.GatewayParsed()
	if err != nil {
		return err
	}
	return s.Routes.Add(route.Entry{
		Dest:       dest,
		Mask:       mask,
		Gateway:    gw,
		HasGateway: !gw.IsAny(),
		Device:     rc.Device,
	})
}
