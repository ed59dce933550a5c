package reach

import (
	"time"

	"github.com/HerbHall/netreach/pkg/reachability"
)

// TopicStatusChanged is published by the reachability plugin after it has
// re-queried a Monitor in response to a change notification. The payload is
// a StatusChange.
const TopicStatusChanged = "reachability.status.changed"

// StatusChange is the outcome of one change notification.
type StatusChange struct {
	Target   string              `json:"target" yaml:"target"`
	Previous reachability.Status `json:"previous" yaml:"previous"`
	Current  reachability.Status `json:"current" yaml:"current"`
	Flags    reachability.Flags  `json:"-" yaml:"-"`
	Trace    string              `json:"flags" yaml:"flags"`
	At       time.Time           `json:"at" yaml:"at"`
}

// Transition reports whether the classification changed, as opposed to
// only the underlying flags.
func (c StatusChange) Transition() bool { return c.Previous != c.Current }

// TargetState is the latest known state of one monitored target.
type TargetState struct {
	Name               string              `json:"name" yaml:"name"`
	Target             string              `json:"target" yaml:"target"`
	Kind               string              `json:"kind" yaml:"kind"`
	Status             reachability.Status `json:"status" yaml:"status"`
	Flags              string              `json:"flags" yaml:"flags"`
	ConnectionRequired bool                `json:"connection_required" yaml:"connection_required"`
	Changes            int                 `json:"changes" yaml:"changes"`
	UpdatedAt          time.Time           `json:"updated_at" yaml:"updated_at"`
	Error              string              `json:"error,omitempty" yaml:"error,omitempty"`
}
