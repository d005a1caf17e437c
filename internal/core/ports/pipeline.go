// Package ports defines the core interfaces for the model server.
// This file contains the stage and model interfaces the inference pipeline
// composes.
package ports

import (
	"context"

	"github.com/tjfontaine/modelserver/internal/core/domain"
)

// Stage transforms a value into another value of the same type.
// Implementations must not mutate their input and may be called
// concurrently.
type Stage[T any] interface {
	// Name returns the identifier used in errors and traces.
	Name() string
	// Transform executes the stage logic.
	Transform(ctx context.Context, in T) (T, error)
}

// PreStage runs on the decoded request record before inference.
type PreStage = Stage[*domain.Record]

// PostStage runs on the model's raw prediction before encoding.
type PostStage = Stage[domain.Prediction]

// Model produces a prediction for one record. The record is passed as-is;
// shaping it is the job of the pre stage.
type Model interface {
	Predict(ctx context.Context, in *domain.Record) (domain.Prediction, error)
}

// Runner executes the full request-to-prediction pipeline.
type Runner interface {
	Run(ctx context.Context, in *domain.Record) (domain.Prediction, error)
}
