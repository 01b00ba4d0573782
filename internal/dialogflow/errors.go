package dialogflow

import (
	"errors"
	"fmt"
)

// StatusError is a non-2xx answer from the Dialogflow API, carrying the
// google.rpc status name when the body included one.
type StatusError struct {
	HTTPStatus int
	RPCStatus  string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dialogflow: http %d %s: %s", e.HTTPStatus, e.RPCStatus, e.Message)
}

// transportError marks failures before any API answer (timeouts, connection
// and TLS errors).
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

// transientStatuses are the server-side conditions expected to self-resolve.
var transientStatuses = map[string]bool{
	"INTERNAL":           true,
	"UNAVAILABLE":        true,
	"DEADLINE_EXCEEDED":  true,
	"ABORTED":            true,
	"RESOURCE_EXHAUSTED": true,
}

// rpcStatusForHTTP fills in the status name when the error body omitted it.
func rpcStatusForHTTP(code int) string {
	switch code {
	case 409:
		return "ABORTED"
	case 429:
		return "RESOURCE_EXHAUSTED"
	case 499:
		return "CANCELLED"
	case 500:
		return "INTERNAL"
	case 503:
		return "UNAVAILABLE"
	case 504:
		return "DEADLINE_EXCEEDED"
	}
	return "UNKNOWN"
}

// IsTransient reports whether a detect-intent failure is worth retrying:
// transport-level errors, or one of the transient RPC statuses. Everything
// else (bad request, permission, not found) fails immediately.
func IsTransient(err error) bool {
	var te *transportError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return transientStatuses[se.RPCStatus]
	}
	return false
}
