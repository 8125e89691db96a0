// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package snapshotcopier

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/juju/handover/core/snapshot"
)

const metricsNamespace = "handover_snapshotcopier"

// Collector is a prometheus.Collector that collects metrics about snapshot
// copies.
type Collector struct {
	copies   *prometheus.CounterVec
	revision *prometheus.GaugeVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		copies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "copies_total",
				Help:      "The number of copies by outcome: final, fallback, empty or failed.",
			}, []string{"subject", "outcome"},
		),
		revision: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "copied_revision",
				Help:      "The revision of the last snapshot copied for a subject.",
			}, []string{"subject"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.copies.Describe(ch)
	c.revision.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.copies.Collect(ch)
	c.revision.Collect(ch)
}

func (c *Collector) completed(subject string, result snapshot.CopyResult, err error) {
	var outcome string
	switch {
	case err != nil:
		outcome = "failed"
	case result.Empty():
		outcome = "empty"
	case result.Fallback:
		outcome = "fallback"
	default:
		outcome = "final"
	}
	c.copies.WithLabelValues(subject, outcome).Inc()
	if err == nil {
		c.revision.WithLabelValues(subject).Set(float64(result.Revision))
	}
}
