package render

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAPIKey indicates that neither the client nor the call carried a credential.
	ErrMissingAPIKey = errors.New("render: api key is required")

	ErrUpload = errors.New("render: upload failed")
	ErrSubmit = errors.New("render: submit failed")
	// ErrQuery covers status and output lookups. Callers treat it as "unknown, retry later".
	ErrQuery  = errors.New("render: query failed")
	ErrCancel = errors.New("render: cancel failed")

	ErrWaitTimeout = errors.New("render: wait for completion timed out")
	ErrJobFailed   = errors.New("render: remote job failed")
)

// APIError is a provider envelope with a non-zero code.
type APIError struct {
	Endpoint   string
	HTTPStatus int
	Code       int
	Msg        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("render: %s: code %d: %s", e.Endpoint, e.Code, e.Msg)
}
