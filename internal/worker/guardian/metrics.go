// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package guardian

import (
	"github.com/prometheus/client_golang/prometheus"

	coreguardian "github.com/juju/handover/core/guardian"
)

const metricsNamespace = "handover_guardian"

var allStates = []coreguardian.State{
	coreguardian.Standby,
	coreguardian.Activating,
	coreguardian.Active,
	coreguardian.OwnershipLost,
	coreguardian.Deactivated,
}

// Collector is a prometheus.Collector that collects metrics about the
// guardians running in the process.
type Collector struct {
	state            *prometheus.GaugeVec
	transitions      *prometheus.CounterVec
	snapshots        *prometheus.CounterVec
	snapshotDuration *prometheus.HistogramVec
	skippedPolls     *prometheus.CounterVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "state",
				Help:      "Set to 1 for the current state of the guardian of a subject.",
			}, []string{"subject", "state"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "transitions_total",
				Help:      "The number of guardian state transitions.",
			}, []string{"subject", "from", "to"},
		),
		snapshots: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "snapshots_total",
				Help:      "The number of snapshots attempted by kind and result.",
			}, []string{"subject", "kind", "result"},
		),
		snapshotDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "snapshot_duration_seconds",
				Help:      "The time taken to write a snapshot to the backup store.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			}, []string{"subject", "kind"},
		),
		skippedPolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "skipped_polls_total",
				Help:      "The number of scheduled polls skipped because the previous poll was still running.",
			}, []string{"subject"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.state.Describe(ch)
	c.transitions.Describe(ch)
	c.snapshots.Describe(ch)
	c.snapshotDuration.Describe(ch)
	c.skippedPolls.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.state.Collect(ch)
	c.transitions.Collect(ch)
	c.snapshots.Collect(ch)
	c.snapshotDuration.Collect(ch)
	c.skippedPolls.Collect(ch)
}

func (c *Collector) setState(subject string, current coreguardian.State) {
	for _, state := range allStates {
		value := 0.0
		if state == current {
			value = 1
		}
		c.state.WithLabelValues(subject, state.String()).Set(value)
	}
}

func (c *Collector) transitioned(subject string, from, to coreguardian.State) {
	c.transitions.WithLabelValues(subject, from.String(), to.String()).Inc()
	c.setState(subject, to)
}

func (c *Collector) snapshotted(subject string, final bool, seconds float64, err error) {
	kind := "periodic"
	if final {
		kind = "final"
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	c.snapshots.WithLabelValues(subject, kind, result).Inc()
	if err == nil {
		c.snapshotDuration.WithLabelValues(subject, kind).Observe(seconds)
	}
}

func (c *Collector) skipped(subject string) {
	c.skippedPolls.WithLabelValues(subject).Inc()
}
