package reach

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HerbHall/netreach/pkg/reachability"
)

type metrics struct {
	status  *prometheus.GaugeVec
	flags   *prometheus.GaugeVec
	changes *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "netreach",
			Name:      "target_status",
			Help:      "Current classification per target: 0 not reachable, 1 via LAN, 2 via WAN.",
		}, []string{"target"}),
		flags: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "netreach",
			Name:      "target_flags",
			Help:      "Raw reachability flag bits last reported for the target.",
		}, []string{"target"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netreach",
			Name:      "changes_total",
			Help:      "Change notifications received per target.",
		}, []string{"target"}),
	}

	var err error
	if m.status, err = register(reg, m.status); err != nil {
		return nil, err
	}
	if m.flags, err = register(reg, m.flags); err != nil {
		return nil, err
	}
	if m.changes, err = register(reg, m.changes); err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg, reusing the existing collector when one with the
// same description is already registered (plugin restart in one process).
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *metrics) observe(target string, status reachability.Status, flags reachability.Flags) {
	m.status.WithLabelValues(target).Set(float64(status))
	m.flags.WithLabelValues(target).Set(float64(flags))
}

func (m *metrics) changed(target string) {
	m.changes.WithLabelValues(target).Inc()
}
