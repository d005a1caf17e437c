package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{
			name:     "type and message",
			err:      &APIError{Type: ErrorTypeDecode, Message: "bad body"},
			expected: "decode_error: bad body",
		},
		{
			name:     "with stage",
			err:      &APIError{Type: ErrorTypeStage, Message: "missing field", Stage: "select"},
			expected: "stage_error (select): missing field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAPIError_HTTPStatusCode(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected int
	}{
		{"decode", &APIError{Type: ErrorTypeDecode}, http.StatusBadRequest},
		{"stage", &APIError{Type: ErrorTypeStage}, http.StatusUnprocessableEntity},
		{"model", &APIError{Type: ErrorTypeModel}, http.StatusInternalServerError},
		{"timeout", &APIError{Type: ErrorTypeTimeout}, http.StatusGatewayTimeout},
		{"canceled", &APIError{Type: ErrorTypeCanceled}, StatusClientClosedRequest},
		{"rate limit", &APIError{Type: ErrorTypeRateLimit}, http.StatusTooManyRequests},
		{"server", &APIError{Type: ErrorTypeServer}, http.StatusInternalServerError},
		{"unknown", &APIError{Type: "mystery"}, http.StatusInternalServerError},
		{"override", &APIError{Type: ErrorTypeDecode, StatusCode: http.StatusRequestEntityTooLarge}, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.HTTPStatusCode(); got != tt.expected {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestToAPIError(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		wantStage string
		wantCode  int
	}{
		{
			name:     "decode error",
			err:      &DecodeError{Err: boom},
			wantType: ErrorTypeDecode,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "oversized body",
			err:      &DecodeError{Err: &http.MaxBytesError{Limit: 10}},
			wantType: ErrorTypeDecode,
			wantCode: http.StatusRequestEntityTooLarge,
		},
		{
			name:      "stage error",
			err:       &StageError{Phase: PhasePre, Stage: "scale", Err: boom},
			wantType:  ErrorTypeStage,
			wantStage: "scale",
			wantCode:  http.StatusUnprocessableEntity,
		},
		{
			name:     "wrapped model error",
			err:      fmt.Errorf("run: %w", &ModelError{Model: "iris", Err: boom}),
			wantType: ErrorTypeModel,
			wantCode: http.StatusInternalServerError,
		},
		{
			name:     "model deadline becomes timeout",
			err:      &ModelError{Model: "iris", Err: context.DeadlineExceeded},
			wantType: ErrorTypeTimeout,
			wantCode: http.StatusGatewayTimeout,
		},
		{
			name:     "canceled",
			err:      &StageError{Stage: "cel", Err: context.Canceled},
			wantType: ErrorTypeCanceled,
			wantCode: StatusClientClosedRequest,
		},
		{
			name:     "api error passes through",
			err:      ErrRateLimit("slow down"),
			wantType: ErrorTypeRateLimit,
			wantCode: http.StatusTooManyRequests,
		},
		{
			name:     "unknown error",
			err:      boom,
			wantType: ErrorTypeServer,
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToAPIError(tt.err)
			if got.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", got.Type, tt.wantType)
			}
			if got.Stage != tt.wantStage {
				t.Errorf("Stage = %q, want %q", got.Stage, tt.wantStage)
			}
			if code := got.HTTPStatusCode(); code != tt.wantCode {
				t.Errorf("HTTPStatusCode() = %d, want %d", code, tt.wantCode)
			}
		})
	}
}

func TestStageError_Unwrap(t *testing.T) {
	cause := errors.New("type mismatch")
	err := fmt.Errorf("outer: %w", &StageError{Phase: PhasePost, Stage: "labels", Err: cause})

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
	if got := err.Error(); got != "outer: post stage labels: type mismatch" {
		t.Errorf("Error() = %q", got)
	}
}
