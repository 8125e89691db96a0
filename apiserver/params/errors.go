// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package params

import (
	"net/http"

	"github.com/juju/errors"
	"gopkg.in/httprequest.v1"

	"github.com/juju/handover/core/ownership"
)

// Error codes carried in httprequest.RemoteError.Code.
const (
	CodeNotValid          = "not valid"
	CodeNotFound          = "not found"
	CodeAlreadyExists     = "already exists"
	CodeConflict          = "ownership conflict"
	CodeResolutionFailure = "resolution failure"
	CodeTimeout           = "timeout"
	CodeInternal          = "internal error"
)

// ServerError returns the HTTP status and wire error for err.
func ServerError(err error) (int, *httprequest.RemoteError) {
	status, code := http.StatusInternalServerError, CodeInternal
	switch {
	case errors.Is(err, ownership.ErrConflict):
		status, code = http.StatusConflict, CodeConflict
	case errors.Is(err, ownership.ErrResolutionFailure):
		status, code = http.StatusServiceUnavailable, CodeResolutionFailure
	case errors.Is(err, errors.NotValid), errors.Is(err, errors.BadRequest):
		status, code = http.StatusBadRequest, CodeNotValid
	case errors.Is(err, errors.NotFound):
		status, code = http.StatusNotFound, CodeNotFound
	case errors.Is(err, errors.AlreadyExists):
		status, code = http.StatusConflict, CodeAlreadyExists
	case errors.Is(err, errors.Timeout):
		status, code = http.StatusGatewayTimeout, CodeTimeout
	}
	return status, &httprequest.RemoteError{
		Code:    code,
		Message: err.Error(),
	}
}

// WriteError writes err to w as a JSON wire error.
func WriteError(w http.ResponseWriter, err error) {
	status, body := ServerError(err)
	_ = httprequest.WriteJSON(w, status, body)
}

// RestoreError turns a wire error back into an error matching the
// sentinel that produced it on the server.
func RestoreError(err error) error {
	var remote *httprequest.RemoteError
	if !errors.As(err, &remote) {
		return err
	}
	switch remote.Code {
	case CodeConflict:
		return errors.Annotate(ownership.ErrConflict, remote.Message)
	case CodeResolutionFailure:
		return ownership.ResolutionFailuref("%s", remote.Message)
	case CodeNotValid:
		return errors.NewNotValid(nil, remote.Message)
	case CodeNotFound:
		return errors.NewNotFound(nil, remote.Message)
	case CodeAlreadyExists:
		return errors.NewAlreadyExists(nil, remote.Message)
	case CodeTimeout:
		return errors.NewTimeout(nil, remote.Message)
	}
	return errors.New(remote.Message)
}
