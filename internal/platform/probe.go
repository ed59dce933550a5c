package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"go.uber.org/zap"

	"github.com/HerbHall/netreach/pkg/reachability"
)

// Destinations used to find the default route. Both are documentation
// ranges, so the lookup never resolves to a real peer.
var (
	defaultRouteProbeV4 = netip.MustParseAddr("192.0.2.1")
	defaultRouteProbeV6 = netip.MustParseAddr("2001:db8::1")
)

// discardPort is the port used for the connected-UDP route lookup. Connecting
// a UDP socket sends nothing.
const discardPort = 9

// Route describes the path the host would use to reach a target.
type Route struct {
	Remote    netip.Addr         `json:"remote" yaml:"remote"`
	Local     netip.Addr         `json:"local" yaml:"local"`
	Interface string             `json:"interface" yaml:"interface"`
	Kind      InterfaceKind      `json:"kind" yaml:"kind"`
	Flags     reachability.Flags `json:"-" yaml:"-"`
}

// ifaceInfo is an interface together with the prefixes assigned to it.
type ifaceInfo struct {
	iface    net.Interface
	prefixes []netip.Prefix
}

type (
	resolveFunc    func(ctx context.Context, host string) ([]netip.Addr, error)
	routeFunc      func(ctx context.Context, dst netip.Addr) (netip.Addr, error)
	interfacesFunc func() ([]ifaceInfo, error)
)

// prober derives reachability flags from the host's routing table and
// interface state.
type prober struct {
	logger     *zap.Logger
	resolve    resolveFunc
	route      routeFunc
	interfaces interfacesFunc
	kind       func(net.Interface) InterfaceKind
}

func newProber(logger *zap.Logger, kinds *kindClassifier) *prober {
	resolver := &net.Resolver{}
	return &prober{
		logger: logger,
		resolve: func(ctx context.Context, host string) ([]netip.Addr, error) {
			return resolver.LookupNetIP(ctx, "ip", host)
		},
		route:      lookupRoute,
		interfaces: listInterfaces,
		kind:       kinds.classify,
	}
}

// probeHost resolves host and returns the first route that reports the
// target reachable. Resolution failure is not an error: the target is
// simply not reachable.
func (p *prober) probeHost(ctx context.Context, host string) (Route, error) {
	addrs, err := p.resolve(ctx, host)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return Route{}, ctxErr
		}
		p.logger.Debug("hostname did not resolve", zap.String("host", host), zap.Error(err))
		return Route{}, nil
	}

	var first Route
	for i, addr := range addrs {
		r, err := p.probeAddr(ctx, addr.Unmap(), false)
		if err != nil {
			return Route{}, err
		}
		if r.Flags.Has(reachability.Reachable) {
			return r, nil
		}
		if i == 0 {
			first = r
		}
	}
	return first, nil
}

// probeAddr computes flags for dst. defaultRoute targets ask whether any
// route exists rather than a route to dst itself.
func (p *prober) probeAddr(ctx context.Context, dst netip.Addr, defaultRoute bool) (Route, error) {
	probe := dst
	if defaultRoute {
		probe = defaultRouteProbeV4
		if dst.Is6() && !dst.Is4In6() {
			probe = defaultRouteProbeV6
		}
	}
	r := Route{Remote: dst}

	local, err := p.route(ctx, probe)
	if err != nil {
		if ctx.Err() != nil {
			return r, ctx.Err()
		}
		p.logger.Debug("no route", zap.Stringer("dst", probe), zap.Error(err))
		return r, nil
	}
	r.Local = local

	ifaces, err := p.interfaces()
	if err != nil {
		return r, fmt.Errorf("list interfaces: %w", err)
	}

	var (
		egress *ifaceInfo
		owned  bool
	)
	for i := range ifaces {
		info := &ifaces[i]
		for _, pfx := range info.prefixes {
			if pfx.Addr() == local {
				egress = info
			}
			if !defaultRoute && pfx.Addr() == dst {
				owned = true
			}
		}
	}

	if egress == nil {
		// Route exists but the interface vanished between the two lookups.
		r.Flags = reachability.Reachable
		return r, nil
	}
	r.Interface = egress.iface.Name
	r.Kind = p.kind(egress.iface)
	r.Flags = deriveFlags(egress, r.Kind, dst, local, owned, defaultRoute)
	return r, nil
}

func deriveFlags(egress *ifaceInfo, kind InterfaceKind, dst, local netip.Addr, owned, defaultRoute bool) reachability.Flags {
	ifFlags := egress.iface.Flags
	if ifFlags&net.FlagUp == 0 {
		return 0
	}

	flags := reachability.Reachable
	if ifFlags&net.FlagRunning == 0 {
		flags |= reachability.ConnectionRequired
	}
	if ifFlags&net.FlagPointToPoint != 0 || kind == KindTunnel {
		flags |= reachability.TransientConnection
	}
	if kind == KindCellular {
		flags |= reachability.IsWWAN
	}
	if defaultRoute {
		return flags
	}

	if owned || dst == local || dst.IsLoopback() {
		flags |= reachability.IsLocalAddress | reachability.IsDirect
		return flags
	}
	for _, pfx := range egress.prefixes {
		if pfx.Masked().Contains(dst) {
			flags |= reachability.IsDirect
			break
		}
	}
	return flags
}

// lookupRoute asks the kernel which local address it would use to reach dst.
func lookupRoute(ctx context.Context, dst netip.Addr) (netip.Addr, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", netip.AddrPortFrom(dst, discardPort).String())
	if err != nil {
		return netip.Addr{}, err
	}
	defer conn.Close()

	udp, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return udp.AddrPort().Addr().Unmap(), nil
}

func listInterfaces() ([]ifaceInfo, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]ifaceInfo, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		info := ifaceInfo{iface: iface}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			addr, ok := netip.AddrFromSlice(ipnet.IP)
			if !ok {
				continue
			}
			ones, _ := ipnet.Mask.Size()
			addr = addr.Unmap()
			if addr.Is4() && ones > 32 {
				ones -= 96
			}
			info.prefixes = append(info.prefixes, netip.PrefixFrom(addr, ones))
		}
		out = append(out, info)
	}
	return out, nil
}
