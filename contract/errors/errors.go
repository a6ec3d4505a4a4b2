package errors

import "errors"

// Error codes for the bus and parking contracts. Keep stable; they travel in reply headers
// and are used across adapters, the broker and the inventory.
const (
	ErrCodeHandlerExists       = "servicebus.handler_exists"
	ErrCodeHandlerNotFound     = "servicebus.handler_not_found"
	ErrCodeTimeout             = "servicebus.timeout"
	ErrCodeTransport           = "servicebus.transport"
	ErrCodeSubscribeFailed     = "servicebus.subscribe_failed"
	ErrCodeSerializationFailed = "servicebus.serialization_failed"
	ErrCodeClosed              = "servicebus.closed"
	ErrCodeInternal            = "servicebus.internal"

	ErrCodeNotFound         = "parking.not_found"
	ErrCodeInvalidState     = "parking.invalid_state"
	ErrCodeMalformedRequest = "parking.malformed_request"
	ErrCodeBillingFailure   = "parking.billing_failure"
)

// Code returns an error value that carries only a code string.
// It implements error by returning the code string in Error().
func Code(code string) error { return codedError(code) }

type codedError string

func (e codedError) Error() string { return string(e) }

// CodeOf returns the first code found in err's tree.
func CodeOf(err error) (string, bool) {
	var ce codedError
	if errors.As(err, &ce) {
		return string(ce), true
	}

	return "", false
}

var (
	ErrHandlerExists       = Code(ErrCodeHandlerExists)
	ErrHandlerNotFound     = Code(ErrCodeHandlerNotFound)
	ErrTimeout             = Code(ErrCodeTimeout)
	ErrTransport           = Code(ErrCodeTransport)
	ErrSubscribeFailed     = Code(ErrCodeSubscribeFailed)
	ErrSerializationFailed = Code(ErrCodeSerializationFailed)
	ErrClosed              = Code(ErrCodeClosed)
	ErrInternal            = Code(ErrCodeInternal)

	ErrNotFound         = Code(ErrCodeNotFound)
	ErrInvalidState     = Code(ErrCodeInvalidState)
	ErrMalformedRequest = Code(ErrCodeMalformedRequest)
	ErrBillingFailure   = Code(ErrCodeBillingFailure)
)
