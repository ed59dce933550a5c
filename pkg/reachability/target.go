package reachability

import "net/netip"

// TargetKind distinguishes the ways a Monitor can be constructed.
type TargetKind int

const (
	TargetHostName TargetKind = iota
	TargetAddress
	TargetDefaultRoute
)

func (k TargetKind) String() string {
	switch k {
	case TargetHostName:
		return "hostname"
	case TargetAddress:
		return "address"
	case TargetDefaultRoute:
		return "default-route"
	default:
		return "unknown"
	}
}

// Target is what a Monitor watches. It is immutable once constructed.
type Target struct {
	Kind     TargetKind
	HostName string
	Address  netip.AddrPort
}

// DefaultRouteAddress is the zeroed IPv4 socket address that stands for
// "any usable network path".
func DefaultRouteAddress() netip.AddrPort {
	return netip.AddrPortFrom(netip.IPv4Unspecified(), 0)
}

func (t Target) String() string {
	switch t.Kind {
	case TargetHostName:
		return t.HostName
	case TargetDefaultRoute:
		return "internet"
	default:
		return t.Address.String()
	}
}
