// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package guardianstatus exposes the status of the local state-store
// guardians over HTTP.
package guardianstatus

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/httprequest.v1"

	"github.com/juju/handover/apiserver/params"
	coreguardian "github.com/juju/handover/core/guardian"
	"github.com/juju/handover/core/logger"
	"github.com/juju/handover/internal/worker/guardian"
)

// Handlers serves guardian status, readiness and metrics.
type Handlers struct {
	guardians map[string]guardian.StatusSource
	gatherer  prometheus.Gatherer
	logger    logger.Logger
}

// NewHandlers returns handlers for the given guardians, keyed by subject.
// Metrics are only served when gatherer is not nil.
func NewHandlers(guardians map[string]guardian.StatusSource, gatherer prometheus.Gatherer, logger logger.Logger) *Handlers {
	return &Handlers{
		guardians: guardians,
		gatherer:  gatherer,
		logger:    logger,
	}
}

// AddHandlers registers the endpoints on router.
func (h *Handlers) AddHandlers(router *mux.Router) {
	router.HandleFunc("/v1/subjects/{subject}/status", h.status).Methods(http.MethodGet)
	router.HandleFunc("/v1/subjects/{subject}/ready", h.ready).Methods(http.MethodGet)
	if h.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}
}

func (h *Handlers) lookup(req *http.Request) (coreguardian.Status, error) {
	subject := mux.Vars(req)["subject"]
	source, ok := h.guardians[subject]
	if !ok {
		return coreguardian.Status{}, errors.NotFoundf("guardian for subject %q", subject)
	}
	return source.Status(), nil
}

func (h *Handlers) status(w http.ResponseWriter, req *http.Request) {
	status, err := h.lookup(req)
	if err != nil {
		params.WriteError(w, err)
		return
	}
	_ = httprequest.WriteJSON(w, http.StatusOK, status)
}

// ready answers 200 only while the state store may take traffic, so it
// can back a load balancer or readiness probe.
func (h *Handlers) ready(w http.ResponseWriter, req *http.Request) {
	status, err := h.lookup(req)
	if err != nil {
		params.WriteError(w, err)
		return
	}
	code := http.StatusServiceUnavailable
	if status.Serving && status.State == coreguardian.Active {
		code = http.StatusOK
	}
	_ = httprequest.WriteJSON(w, code, status)
}
