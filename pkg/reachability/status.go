package reachability

import "fmt"

// Status classifies how a target can be reached.
type Status int

const (
	// NotReachable: no usable path to the target.
	NotReachable Status = iota
	// ReachableViaLAN: reachable over a local link with no connection setup.
	ReachableViaLAN
	// ReachableViaWAN: reachable over a cellular-style managed connection.
	ReachableViaWAN
)

var statusNames = map[Status]string{
	NotReachable:    "NotReachable",
	ReachableViaLAN: "ReachableViaLAN",
	ReachableViaWAN: "ReachableViaWAN",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Reachable reports whether s is either reachable classification.
func (s Status) Reachable() bool { return s == ReachableViaLAN || s == ReachableViaWAN }

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	name, ok := statusNames[s]
	if !ok {
		return nil, fmt.Errorf("reachability: unknown status %d", int(s))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	for status, name := range statusNames {
		if name == string(text) {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("reachability: unknown status %q", text)
}

// StatusForFlags classifies a flag snapshot. The rules form a cascade where
// later rules override earlier ones; IsWWAN is applied last so a cellular
// path is reported as WAN even when it also satisfies the LAN rules.
func StatusForFlags(flags Flags) Status {
	if !flags.Has(Reachable) {
		return NotReachable
	}

	status := NotReachable

	if !flags.Has(ConnectionRequired) {
		status = ReachableViaLAN
	}

	if flags.Has(ConnectionOnDemand) || flags.Has(ConnectionOnTraffic) {
		// The connection is brought up transparently unless the user has to act.
		if !flags.Has(InterventionRequired) {
			status = ReachableViaLAN
		}
	}

	if flags.Has(IsWWAN) {
		status = ReachableViaWAN
	}

	return status
}
