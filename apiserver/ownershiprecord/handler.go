// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package ownershiprecord serves the authoritative ownership record over
// HTTP.
package ownershiprecord

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"gopkg.in/httprequest.v1"

	"github.com/juju/handover/apiserver/params"
	"github.com/juju/handover/core/logger"
	"github.com/juju/handover/core/ownership"
)

// RecordService is the ownership record the handlers expose.
type RecordService interface {
	ownership.Client
	ownership.Provisioner
}

// Handlers serves the ownership record endpoints.
type Handlers struct {
	service RecordService
	logger  logger.Logger
}

// NewHandlers returns handlers backed by the given record service.
func NewHandlers(service RecordService, logger logger.Logger) *Handlers {
	return &Handlers{
		service: service,
		logger:  logger,
	}
}

// AddHandlers registers the record endpoints on router.
func (h *Handlers) AddHandlers(router *mux.Router) {
	router.HandleFunc("/v1/records/{subject}", h.get).Methods(http.MethodGet)
	router.HandleFunc("/v1/records/{subject}", h.provision).Methods(http.MethodPost)
	router.HandleFunc("/v1/records/{subject}", h.setOwner).Methods(http.MethodPut)
}

func (h *Handlers) get(w http.ResponseWriter, req *http.Request) {
	subject := mux.Vars(req)["subject"]
	owner, err := h.service.Resolve(req.Context(), subject)
	if err != nil {
		h.writeError(w, req, err)
		return
	}
	_ = httprequest.WriteJSON(w, http.StatusOK, params.OwnershipRecord{
		SubjectID: subject,
		OwnerID:   owner,
	})
}

func (h *Handlers) provision(w http.ResponseWriter, req *http.Request) {
	subject := mux.Vars(req)["subject"]
	var args struct {
		Body params.ProvisionArgs `httprequest:",body"`
	}
	if err := unmarshal(w, req, &args); err != nil {
		h.writeError(w, req, err)
		return
	}
	if err := h.service.Provision(req.Context(), subject, args.Body.OwnerID); err != nil {
		h.writeError(w, req, err)
		return
	}
	h.logger.Infof("provisioned %q owned by %q", subject, args.Body.OwnerID)
	_ = httprequest.WriteJSON(w, http.StatusCreated, params.OwnershipRecord{
		SubjectID: subject,
		OwnerID:   args.Body.OwnerID,
	})
}

func (h *Handlers) setOwner(w http.ResponseWriter, req *http.Request) {
	subject := mux.Vars(req)["subject"]
	var args struct {
		Body params.SetOwnerArgs `httprequest:",body"`
	}
	if err := unmarshal(w, req, &args); err != nil {
		h.writeError(w, req, err)
		return
	}
	err := h.service.SetOwner(req.Context(), subject, args.Body.ExpectedOwnerID, args.Body.OwnerID)
	if err != nil {
		h.writeError(w, req, err)
		return
	}
	h.logger.Infof("ownership of %q set to %q", subject, args.Body.OwnerID)
	_ = httprequest.WriteJSON(w, http.StatusOK, params.OwnershipRecord{
		SubjectID: subject,
		OwnerID:   args.Body.OwnerID,
	})
}

func unmarshal(w http.ResponseWriter, req *http.Request, args any) error {
	p := httprequest.Params{
		Response: w,
		Request:  req,
		Context:  req.Context(),
	}
	if err := httprequest.Unmarshal(p, args); err != nil {
		return errors.NewBadRequest(err, "")
	}
	return nil
}

func (h *Handlers) writeError(w http.ResponseWriter, req *http.Request, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	h.logger.Debugf("%s %s: %v", req.Method, req.URL.Path, err)
	params.WriteError(w, err)
}
