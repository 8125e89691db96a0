// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package watchdog

import (
	"github.com/prometheus/client_golang/prometheus"

	corelease "github.com/juju/handover/core/lease"
)

const metricsNamespace = "handover_watchdog"

// Collector is a prometheus.Collector that collects metrics about lease
// checks and the reconciliations they aborted.
type Collector struct {
	checks *prometheus.CounterVec
	aborts *prometheus.CounterVec
}

// NewMetricsCollector returns a new Collector.
func NewMetricsCollector() *Collector {
	return &Collector{
		checks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "lease_checks_total",
				Help:      "The number of lease checks by outcome.",
			}, []string{"status"},
		),
		aborts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "aborts_total",
				Help:      "The number of reconciliations refused or aborted because the lease was not valid.",
			}, []string{"status"},
		),
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.checks.Describe(ch)
	c.aborts.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.checks.Collect(ch)
	c.aborts.Collect(ch)
}

func (c *Collector) checked(status corelease.Status) {
	c.checks.WithLabelValues(status.String()).Inc()
}

func (c *Collector) aborted(status corelease.Status) {
	c.aborts.WithLabelValues(status.String()).Inc()
}
