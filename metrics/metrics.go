// Package metrics tracks ruleset compilation and application, and exports
// them in the Prometheus text format.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Features whose compilations are tracked.
const (
	FeatureACL    = "acl"
	FeatureEgress = "egress"
)

// Compilation outcomes.
const (
	OutcomeWritten = "written"
	OutcomeRemoved = "removed"
	OutcomeError   = "error"
)

// Registry holds all wgfence metrics. A nil *Registry is valid, and records
// nothing.
type Registry struct {
	reg *prometheus.Registry

	Compilations  *prometheus.CounterVec
	ApplyErrors   *prometheus.CounterVec
	ActiveUplinks *prometheus.GaugeVec
	GroupMembers  *prometheus.GaugeVec
	LastApply     *prometheus.GaugeVec
}

// New returns a Registry backed by a fresh Prometheus registry.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}
	factory := promauto.With(r.reg)

	r.Compilations = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "wgfence_compilations_total",
		Help: "Number of script compilations by outcome",
	}, []string{"interface", "feature", "outcome"})

	r.ApplyErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "wgfence_apply_errors_total",
		Help: "Number of failed script applications",
	}, []string{"interface", "feature"})

	r.ActiveUplinks = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wgfence_egress_active_uplinks",
		Help: "Number of exit node uplinks up and addressed at the last egress compilation",
	}, []string{"interface"})

	r.GroupMembers = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wgfence_egress_group_members",
		Help: "Number of clients routed through each uplink",
	}, []string{"interface", "uplink"})

	r.LastApply = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wgfence_last_apply_timestamp_seconds",
		Help: "Unix timestamp of the last successful script application",
	}, []string{"interface", "feature"})

	return r
}

// Gatherer returns the underlying registry for exposition.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// ObserveCompilation counts one compilation of a feature.
func (r *Registry) ObserveCompilation(iface, feature, outcome string) {
	if r == nil {
		return
	}
	r.Compilations.WithLabelValues(iface, feature, outcome).Inc()
}

// ObserveApply records the result of applying a feature's script.
func (r *Registry) ObserveApply(iface, feature string, unixTime float64, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.ApplyErrors.WithLabelValues(iface, feature).Inc()
		return
	}
	r.LastApply.WithLabelValues(iface, feature).Set(unixTime)
}

// SetEgressGroups records the active uplink count and the member count of
// each group. Groups of previous compilations are reset first.
func (r *Registry) SetEgressGroups(iface string, active int, members map[string]int) {
	if r == nil {
		return
	}
	r.ActiveUplinks.WithLabelValues(iface).Set(float64(active))
	r.GroupMembers.DeletePartialMatch(prometheus.Labels{"interface": iface})
	for uplink, n := range members {
		r.GroupMembers.WithLabelValues(iface, uplink).Set(float64(n))
	}
}

// WriteTextfile writes all metrics to path in the text exposition format,
// for collection by the node_exporter textfile collector.
func (r *Registry) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("failed writing metrics to %s: %w", path, err)
	}
	return nil
}
