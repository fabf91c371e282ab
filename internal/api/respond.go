package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/chis/regview/internal/explorer"
	"github.com/chis/regview/internal/output"
	"github.com/chis/regview/internal/registry"
)

func writeEnvelope(w http.ResponseWriter, statusCode int, resp output.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	output.WriteJSON(w, resp)
}

// RespondError writes an error response with the specified HTTP status code.
func RespondError(w http.ResponseWriter, statusCode int, err error) {
	writeEnvelope(w, statusCode, output.ErrorResponse(err))
}

// RespondBadRequest writes a 400 Bad Request error response
func RespondBadRequest(w http.ResponseWriter, err error) {
	RespondError(w, http.StatusBadRequest, err)
}

// RespondNotFound writes a 404 Not Found error response
func RespondNotFound(w http.ResponseWriter, err error) {
	RespondError(w, http.StatusNotFound, err)
}

// RespondInternalError writes a 500 Internal Server Error response
func RespondInternalError(w http.ResponseWriter, err error) {
	RespondError(w, http.StatusInternalServerError, err)
}

// RespondSuccess writes a 200 OK response with data
func RespondSuccess(w http.ResponseWriter, data any) {
	writeEnvelope(w, http.StatusOK, output.SuccessResponse(data))
}

// RespondCreated writes a 201 Created response with data
func RespondCreated(w http.ResponseWriter, data any) {
	writeEnvelope(w, http.StatusCreated, output.SuccessResponse(data))
}

// StatusFor maps a service or registry error to an HTTP status code.
func StatusFor(err error) int {
	var notFound *explorer.NotFoundError
	var badReq *explorer.BadRequestError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &badReq),
		errors.Is(err, registry.ErrInvalidDescriptor),
		errors.Is(err, registry.ErrInvalidReference):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrDigestUnavailable):
		return http.StatusConflict
	case errors.Is(err, registry.ErrDeleteFailed),
		errors.Is(err, registry.ErrRegistryUnreachable),
		errors.Is(err, registry.ErrRepoFetch):
		return http.StatusBadGateway
	case errors.Is(err, explorer.ErrHistoryUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// RespondServiceError writes err with the status StatusFor picks.
func RespondServiceError(w http.ResponseWriter, err error) {
	RespondError(w, StatusFor(err), err)
}
