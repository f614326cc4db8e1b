package api

import (
	"errors"
	"net/http"

	"github.com/qarax/qarax/lib/errs"
)

// Error is the REST error envelope.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps an error kind to its REST status: 422 for
// invalid input and scheduling rejections, 404 for not-found, 409 for
// conflicts and bad current state, 503 when a host is unreachable, 500 for
// everything internal.
func writeError(w http.ResponseWriter, err error) {
	status, code := classify(err)
	writeJSON(w, status, Error{Code: code, Message: err.Error()})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrInvalidConfig):
		return http.StatusUnprocessableEntity, "invalid-config"
	case errors.Is(err, errs.ErrReferentialIntegrity):
		return http.StatusUnprocessableEntity, "referential-integrity"
	case errors.Is(err, errs.ErrNoEligibleHost):
		return http.StatusUnprocessableEntity, "no-eligible-host"
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "not-found"
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, "already-exists"
	case errors.Is(err, errs.ErrStoreConflict):
		return http.StatusConflict, "store-conflict"
	case errors.Is(err, errs.ErrState):
		return http.StatusConflict, "state"
	case errors.Is(err, errs.ErrHostUnreachable), errors.Is(err, errs.ErrTransport), errors.Is(err, errs.ErrServer):
		return http.StatusServiceUnavailable, "host-unreachable"
	case errors.Is(err, errs.ErrProtocol):
		return http.StatusInternalServerError, "protocol"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// ResolverErrorResponder adapts writeError to the ResolveResource
// middleware's error callback.
func ResolverErrorResponder(w http.ResponseWriter, err error, lookup string) {
	writeError(w, err)
}
