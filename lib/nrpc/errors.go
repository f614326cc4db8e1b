package nrpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/qarax/qarax/lib/errs"
)

// errorBody is the JSON error envelope NRPC returns for any non-2xx response.
type errorBody struct {
	Error string `json:"error"`
}

// writeError translates an error returned by VM-M/CT into the NRPC status
// code and body: invalid-config -> invalid argument,
// not-found -> not found, state -> failed precondition, transport/server ->
// unavailable, protocol -> internal.
func writeError(w http.ResponseWriter, err error) {
	status, msg := classify(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: msg})
}

func badJSON(err error) error {
	return errs.Wrap(errs.ErrInvalidConfig, "malformed json body", err)
}

func missingField(field string) error {
	return errs.Wrap(errs.ErrInvalidConfig, "missing required field: "+field, nil)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrInvalidConfig):
		return http.StatusBadRequest, "invalid argument: " + err.Error()
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, "not found: " + err.Error()
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, "already exists: " + err.Error()
	case errors.Is(err, errs.ErrState):
		return http.StatusConflict, "failed precondition: " + err.Error()
	case errors.Is(err, errs.ErrTransport), errors.Is(err, errs.ErrServer):
		return http.StatusServiceUnavailable, "unavailable: " + err.Error()
	case errors.Is(err, errs.ErrProtocol):
		return http.StatusInternalServerError, "internal: " + err.Error()
	case errors.Is(err, errs.ErrSpawn):
		return http.StatusInternalServerError, "internal: " + err.Error()
	default:
		return http.StatusInternalServerError, "internal: " + err.Error()
	}
}
