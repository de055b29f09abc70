package firewall

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricNamespace = "uidwall"
	MetricSubsystem = "firewall"
)

// Metrics holds the counters a Firewall updates on its hot path.
type Metrics struct {
	Packets           *prometheus.CounterVec
	Drops             *prometheus.CounterVec
	ReadErrors        prometheus.Counter
	OwnerLookups      *prometheus.CounterVec
	BlockedIdentities prometheus.Gauge
	Running           prometheus.Gauge
}

// NewMetrics creates the firewall metrics and registers them with reg. A nil
// reg leaves them unregistered, which keeps independent instances in tests
// from colliding.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Packets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricNamespace,
			Subsystem: MetricSubsystem,
			Name:      "packets_total",
			Help:      "Packets read from the tunnel by verdict (skipped, admitted, dropped)",
		}, []string{"verdict", "reason"}),
		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricNamespace,
			Subsystem: MetricSubsystem,
			Name:      "dropped_packets_total",
			Help:      "Packets dropped because their owning uid is blocked",
		}, []string{"protocol"}),
		ReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: MetricNamespace,
			Subsystem: MetricSubsystem,
			Name:      "read_errors_total",
			Help:      "Failed reads on the tunnel descriptor",
		}),
		OwnerLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricNamespace,
			Subsystem: MetricSubsystem,
			Name:      "owner_lookups_total",
			Help:      "Socket owner lookups by result (found, unknown)",
		}, []string{"result"}),
		BlockedIdentities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricNamespace,
			Subsystem: MetricSubsystem,
			Name:      "blocked_identities",
			Help:      "Number of uids currently in the block registry",
		}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricNamespace,
			Subsystem: MetricSubsystem,
			Name:      "running",
			Help:      "1 while the packet worker is running",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Packets, m.Drops, m.ReadErrors, m.OwnerLookups, m.BlockedIdentities, m.Running)
	}
	return m
}

func verdictLabel(verdict uint8) string {
	switch verdict {
	case VERDICT_DROP:
		return "dropped"
	case VERDICT_ADMIT:
		return "admitted"
	default:
		return "skipped"
	}
}
