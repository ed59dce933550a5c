package reachability

import "strings"

// Flags is a point-in-time snapshot of the route and link characteristics a
// platform reports for a target. Callers read it immediately and never store
// it as state.
type Flags uint32

// Flag bits. Values follow the SystemConfiguration layout so adapters that
// bridge to it can pass flags through unchanged.
const (
	// TransientConnection: the target is reached over a transient link such as PPP.
	TransientConnection Flags = 1 << 0
	// Reachable: the target is reachable with the current network configuration.
	Reachable Flags = 1 << 1
	// ConnectionRequired: a connection must be established before traffic flows.
	ConnectionRequired Flags = 1 << 2
	// ConnectionOnTraffic: any traffic to the target brings the connection up.
	ConnectionOnTraffic Flags = 1 << 3
	// InterventionRequired: bringing the connection up needs user input.
	InterventionRequired Flags = 1 << 4
	// ConnectionOnDemand: the connection comes up on demand for stream APIs.
	ConnectionOnDemand Flags = 1 << 5
	// IsLocalAddress: the target is an address of a local interface.
	IsLocalAddress Flags = 1 << 16
	// IsDirect: traffic to the target does not go through a gateway.
	IsDirect Flags = 1 << 17
	// IsWWAN: the target is reached over a cellular (WWAN) interface.
	IsWWAN Flags = 1 << 18
)

// Has reports whether every bit in b is set in f.
func (f Flags) Has(b Flags) bool { return f&b == b }

// flagColumns lists the trace columns in print order. A zero bit marks the
// separator between the link columns and the connection columns.
var flagColumns = []struct {
	bit  Flags
	char byte
}{
	{IsWWAN, 'W'},
	{Reachable, 'R'},
	{0, ' '},
	{TransientConnection, 't'},
	{ConnectionRequired, 'c'},
	{ConnectionOnTraffic, 'C'},
	{InterventionRequired, 'i'},
	{ConnectionOnDemand, 'D'},
	{IsLocalAddress, 'l'},
	{IsDirect, 'd'},
}

// String renders the flags as the compact trace "WR tcCiDld", printing '-'
// for each absent bit.
func (f Flags) String() string {
	var b strings.Builder
	b.Grow(len(flagColumns))
	for _, col := range flagColumns {
		switch {
		case col.bit == 0:
			b.WriteByte(col.char)
		case f.Has(col.bit):
			b.WriteByte(col.char)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}
