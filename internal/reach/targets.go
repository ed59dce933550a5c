package reach

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/HerbHall/netreach/pkg/plugin"
	"github.com/HerbHall/netreach/pkg/reachability"
)

// TargetConfig is one entry of reachability.targets. Exactly one of Host,
// Address or Internet selects what is monitored.
type TargetConfig struct {
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Address  string `mapstructure:"address"`
	Internet bool   `mapstructure:"internet"`
}

// DefaultTargets watches the default route only.
func DefaultTargets() []TargetConfig {
	return []TargetConfig{{Name: "internet", Internet: true}}
}

// LoadTargets reads reachability.targets, falling back to DefaultTargets
// when the key is absent.
func LoadTargets(cfg plugin.Config) ([]TargetConfig, error) {
	if cfg == nil || !cfg.IsSet("reachability.targets") {
		return DefaultTargets(), nil
	}
	var targets []TargetConfig
	if err := cfg.UnmarshalKey("reachability.targets", &targets); err != nil {
		return nil, fmt.Errorf("reachability.targets: %w", err)
	}
	if len(targets) == 0 {
		return nil, errors.New("reachability.targets: no targets configured")
	}

	seen := make(map[string]bool, len(targets))
	for i := range targets {
		t := &targets[i]
		if err := t.validate(); err != nil {
			return nil, fmt.Errorf("reachability.targets[%d]: %w", i, err)
		}
		if t.Name == "" {
			t.Name = t.defaultName()
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("reachability.targets[%d]: duplicate name %q", i, t.Name)
		}
		seen[t.Name] = true
	}
	return targets, nil
}

func (t TargetConfig) validate() error {
	set := 0
	if strings.TrimSpace(t.Host) != "" {
		set++
	}
	if t.Address != "" {
		set++
		if _, err := ParseAddress(t.Address); err != nil {
			return err
		}
	}
	if t.Internet {
		set++
	}
	if set != 1 {
		return errors.New("exactly one of host, address or internet must be set")
	}
	return nil
}

func (t TargetConfig) defaultName() string {
	switch {
	case t.Internet:
		return "internet"
	case t.Address != "":
		return t.Address
	default:
		return strings.TrimSpace(t.Host)
	}
}

// NewMonitor builds the Monitor the entry describes.
func (t TargetConfig) NewMonitor(p reachability.Platform, opts ...reachability.Option) (*reachability.Monitor, error) {
	opts = append([]reachability.Option{reachability.WithName(t.Name)}, opts...)
	switch {
	case t.Internet:
		return reachability.NewForInternetConnection(p, opts...)
	case t.Address != "":
		addr, err := ParseAddress(t.Address)
		if err != nil {
			return nil, err
		}
		return reachability.NewWithAddress(p, addr, opts...)
	default:
		return reachability.NewWithHostName(p, t.Host, opts...)
	}
}

// ParseAddress accepts "ip:port", "[ipv6]:port" or a bare IP (port 0).
func ParseAddress(s string) (netip.AddrPort, error) {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap, nil
	}
	addr, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%w: %q is not an IP address", reachability.ErrInvalidTarget, s)
	}
	return netip.AddrPortFrom(addr, 0), nil
}
