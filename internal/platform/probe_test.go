package platform

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"testing"

	"go.uber.org/zap"

	"github.com/HerbHall/netreach/pkg/reachability"
)

var (
	eth0 = ifaceInfo{
		iface:    net.Interface{Index: 2, Name: "eth0", Flags: net.FlagUp | net.FlagRunning | net.FlagBroadcast},
		prefixes: []netip.Prefix{netip.MustParsePrefix("192.168.1.10/24")},
	}
	lo = ifaceInfo{
		iface:    net.Interface{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagRunning | net.FlagLoopback},
		prefixes: []netip.Prefix{netip.MustParsePrefix("127.0.0.1/8")},
	}
	wwan0 = ifaceInfo{
		iface:    net.Interface{Index: 3, Name: "wwan0", Flags: net.FlagUp | net.FlagRunning | net.FlagPointToPoint},
		prefixes: []netip.Prefix{netip.MustParsePrefix("10.64.0.2/30")},
	}
)

// staticProber routes everything through the interface owning local.
func staticProber(local string, ifaces ...ifaceInfo) *prober {
	return &prober{
		logger: zap.NewNop(),
		resolve: func(context.Context, string) ([]netip.Addr, error) {
			return nil, errors.New("no resolver")
		},
		route: func(context.Context, netip.Addr) (netip.Addr, error) {
			if local == "" {
				return netip.Addr{}, errors.New("network is unreachable")
			}
			return netip.MustParseAddr(local), nil
		},
		interfaces: func() ([]ifaceInfo, error) { return ifaces, nil },
		kind: func(iface net.Interface) InterfaceKind {
			return kindFromName(iface.Name, iface.Flags)
		},
	}
}

func TestProbeAddr(t *testing.T) {
	down := eth0
	down.iface.Flags = 0
	noCarrier := eth0
	noCarrier.iface.Flags = net.FlagUp

	tests := []struct {
		name         string
		p            *prober
		dst          string
		defaultRoute bool
		want         reachability.Flags
		wantIface    string
	}{
		{
			name:      "on-link peer",
			p:         staticProber("192.168.1.10", lo, eth0),
			dst:       "192.168.1.1",
			want:      reachability.Reachable | reachability.IsDirect,
			wantIface: "eth0",
		},
		{
			name:      "via gateway",
			p:         staticProber("192.168.1.10", lo, eth0),
			dst:       "203.0.113.5",
			want:      reachability.Reachable,
			wantIface: "eth0",
		},
		{
			name:      "own address",
			p:         staticProber("192.168.1.10", lo, eth0),
			dst:       "192.168.1.10",
			want:      reachability.Reachable | reachability.IsLocalAddress | reachability.IsDirect,
			wantIface: "eth0",
		},
		{
			name:      "loopback",
			p:         staticProber("127.0.0.1", lo, eth0),
			dst:       "127.0.0.1",
			want:      reachability.Reachable | reachability.IsLocalAddress | reachability.IsDirect,
			wantIface: "lo",
		},
		{
			name:      "cellular",
			p:         staticProber("10.64.0.2", lo, wwan0),
			dst:       "203.0.113.5",
			want:      reachability.Reachable | reachability.TransientConnection | reachability.IsWWAN,
			wantIface: "wwan0",
		},
		{
			name:      "interface down",
			p:         staticProber("192.168.1.10", down),
			dst:       "203.0.113.5",
			want:      0,
			wantIface: "eth0",
		},
		{
			name:      "no carrier",
			p:         staticProber("192.168.1.10", noCarrier),
			dst:       "203.0.113.5",
			want:      reachability.Reachable | reachability.ConnectionRequired,
			wantIface: "eth0",
		},
		{
			name: "no route",
			p:    staticProber(""),
			dst:  "203.0.113.5",
			want: 0,
		},
		{
			name:         "default route",
			p:            staticProber("192.168.1.10", lo, eth0),
			dst:          "0.0.0.0",
			defaultRoute: true,
			want:         reachability.Reachable,
			wantIface:    "eth0",
		},
		{
			name: "route without matching interface",
			p:    staticProber("172.16.0.9", lo),
			dst:  "203.0.113.5",
			want: reachability.Reachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := tt.p.probeAddr(context.Background(), netip.MustParseAddr(tt.dst), tt.defaultRoute)
			if err != nil {
				t.Fatalf("probeAddr() error = %v", err)
			}
			if r.Flags != tt.want {
				t.Errorf("flags = %s, want %s", r.Flags, tt.want)
			}
			if r.Interface != tt.wantIface {
				t.Errorf("interface = %q, want %q", r.Interface, tt.wantIface)
			}
		})
	}
}

func TestProbeAddrDefaultRouteUsesDocumentationAddress(t *testing.T) {
	var asked []netip.Addr
	p := staticProber("192.168.1.10", eth0)
	p.route = func(_ context.Context, dst netip.Addr) (netip.Addr, error) {
		asked = append(asked, dst)
		return netip.MustParseAddr("192.168.1.10"), nil
	}

	if _, err := p.probeAddr(context.Background(), netip.IPv4Unspecified(), true); err != nil {
		t.Fatalf("probeAddr() error = %v", err)
	}
	if _, err := p.probeAddr(context.Background(), netip.IPv6Unspecified(), true); err != nil {
		t.Fatalf("probeAddr() error = %v", err)
	}
	if len(asked) != 2 || asked[0] != defaultRouteProbeV4 || asked[1] != defaultRouteProbeV6 {
		t.Errorf("route lookups = %v, want [%s %s]", asked, defaultRouteProbeV4, defaultRouteProbeV6)
	}
}

func TestProbeAddrInterfaceListingFails(t *testing.T) {
	p := staticProber("192.168.1.10")
	p.interfaces = func() ([]ifaceInfo, error) { return nil, errors.New("boom") }

	if _, err := p.probeAddr(context.Background(), netip.MustParseAddr("192.168.1.1"), false); err == nil {
		t.Fatal("probeAddr() error = nil, want error")
	}
}

func TestProbeHost(t *testing.T) {
	p := staticProber("192.168.1.10", eth0)

	t.Run("unresolvable is not reachable", func(t *testing.T) {
		r, err := p.probeHost(context.Background(), "nowhere.invalid")
		if err != nil {
			t.Fatalf("probeHost() error = %v", err)
		}
		if r.Flags != 0 {
			t.Errorf("flags = %s, want none", r.Flags)
		}
	})

	t.Run("first reachable address wins", func(t *testing.T) {
		p.resolve = func(context.Context, string) ([]netip.Addr, error) {
			return []netip.Addr{netip.MustParseAddr("2001:db8::5"), netip.MustParseAddr("192.168.1.20")}, nil
		}
		p.route = func(_ context.Context, dst netip.Addr) (netip.Addr, error) {
			if dst.Is6() {
				return netip.Addr{}, errors.New("network is unreachable")
			}
			return netip.MustParseAddr("192.168.1.10"), nil
		}
		r, err := p.probeHost(context.Background(), "printer.lan")
		if err != nil {
			t.Fatalf("probeHost() error = %v", err)
		}
		if r.Remote != netip.MustParseAddr("192.168.1.20") {
			t.Errorf("remote = %s, want 192.168.1.20", r.Remote)
		}
		if want := reachability.Reachable | reachability.IsDirect; r.Flags != want {
			t.Errorf("flags = %s, want %s", r.Flags, want)
		}
	})

	t.Run("cancelled context is an error", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		p.resolve = func(ctx context.Context, _ string) ([]netip.Addr, error) {
			return nil, ctx.Err()
		}
		if _, err := p.probeHost(ctx, "printer.lan"); !errors.Is(err, context.Canceled) {
			t.Errorf("probeHost() error = %v, want context.Canceled", err)
		}
	})
}
