// Package domain holds the records, predictions and error types shared by
// the pipeline, the models and the HTTP server.
package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the category reported to clients in the error envelope.
type ErrorType string

const (
	// ErrorTypeDecode indicates the request body is not a single JSON object.
	ErrorTypeDecode ErrorType = "decode_error"

	// ErrorTypeStage indicates a pre- or post-processing stage failed.
	ErrorTypeStage ErrorType = "stage_error"

	// ErrorTypeModel indicates the model failed to produce a prediction.
	ErrorTypeModel ErrorType = "model_error"

	// ErrorTypeTimeout indicates the request deadline passed during inference.
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeCanceled indicates the client went away.
	ErrorTypeCanceled ErrorType = "canceled"

	// ErrorTypeRateLimit indicates the request was rejected by the rate limiter.
	ErrorTypeRateLimit ErrorType = "rate_limited"

	// ErrorTypeServer indicates an unexpected internal failure.
	ErrorTypeServer ErrorType = "server_error"
)

// StatusClientClosedRequest is the non-standard status recorded when the
// client cancels before a response is written.
const StatusClientClosedRequest = 499

// APIError is the error returned to HTTP clients.
type APIError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Stage names the failing stage for stage errors
	Stage string `json:"stage,omitempty"`

	// StatusCode overrides the status derived from Type
	StatusCode int `json:"-"`
}

func (e *APIError) Error() string {
	if e.Stage != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the status to answer with.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeDecode:
		return http.StatusBadRequest
	case ErrorTypeStage:
		return http.StatusUnprocessableEntity
	case ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case ErrorTypeCanceled:
		return StatusClientClosedRequest
	case ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// NewAPIError creates a new API error.
func NewAPIError(errType ErrorType, message string) *APIError {
	return &APIError{Type: errType, Message: message}
}

// WithStage records the failing stage name.
func (e *APIError) WithStage(stage string) *APIError {
	e.Stage = stage
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *APIError) WithStatusCode(code int) *APIError {
	e.StatusCode = code
	return e
}

// ErrDecode creates a decode error.
func ErrDecode(message string) *APIError {
	return NewAPIError(ErrorTypeDecode, message)
}

// ErrRateLimit creates a rate limit error.
func ErrRateLimit(message string) *APIError {
	return NewAPIError(ErrorTypeRateLimit, message)
}

// ErrServer creates a server error.
func ErrServer(message string) *APIError {
	return NewAPIError(ErrorTypeServer, message)
}

// DecodeError reports a request body that could not be read as one record.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode request: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Phase identifies where in the pipeline a stage runs.
type Phase string

const (
	PhasePre  Phase = "pre"
	PhasePost Phase = "post"
)

// StageError reports a failing pre- or post-processing stage.
type StageError struct {
	Phase Phase
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e.Phase == "" {
		return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s stage %s: %v", e.Phase, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ModelError reports a failing model prediction.
type ModelError struct {
	Model string
	Err   error
}

func (e *ModelError) Error() string {
	if e.Model == "" {
		return "model: " + e.Err.Error()
	}
	return fmt.Sprintf("model %s: %v", e.Model, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// ToAPIError maps any error to the envelope sent to clients. Deadline and
// cancellation win over the error's origin so that a slow model reports a
// timeout rather than a model failure.
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewAPIError(ErrorTypeTimeout, "prediction did not finish before the request deadline")
	case errors.Is(err, context.Canceled):
		return NewAPIError(ErrorTypeCanceled, "request canceled")
	}

	var decErr *DecodeError
	if errors.As(err, &decErr) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return ErrDecode(decErr.Error()).WithStatusCode(http.StatusRequestEntityTooLarge)
		}
		return ErrDecode(decErr.Error())
	}

	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return NewAPIError(ErrorTypeStage, stageErr.Err.Error()).WithStage(stageErr.Stage)
	}

	var modelErr *ModelError
	if errors.As(err, &modelErr) {
		return NewAPIError(ErrorTypeModel, modelErr.Error())
	}

	return ErrServer(err.Error())
}
