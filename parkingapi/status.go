package parkingapi

import (
	"errors"
	"net/http"

	berr "github.com/next-trace/scg-parking-bus/contract/errors"
	"github.com/next-trace/scg-parking-bus/parking"
)

// StatusCode maps an operation error to the HTTP status a caller-facing layer answers with.
// nil maps to 200.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, berr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, berr.ErrInvalidState), errors.Is(err, berr.ErrMalformedRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// CreatedStatus is StatusCode for a session start: success is 201.
func CreatedStatus(err error) int {
	if err == nil {
		return http.StatusCreated
	}

	return StatusCode(err)
}

// QueryStatus is StatusCode for a space query: an empty result is 204, never 404.
func QueryStatus(res parking.SpaceQueryResult, err error) int {
	if err == nil && len(res.Result) == 0 {
		return http.StatusNoContent
	}

	return StatusCode(err)
}
