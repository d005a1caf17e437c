// Package modelserver provides the public API for embedding the model server.
// This is the stable API for external consumers.
package modelserver

import (
	"github.com/tjfontaine/modelserver/internal/config"
	"github.com/tjfontaine/modelserver/internal/core/domain"
	"github.com/tjfontaine/modelserver/internal/core/ports"
	"github.com/tjfontaine/modelserver/internal/pipeline"
	"github.com/tjfontaine/modelserver/internal/runtime"
)

// Server hosts one model behind GET / and POST /predict.
// See internal/runtime.ModelServer for full documentation.
type Server = runtime.ModelServer

// Option is a functional option for configuring a Server.
type Option = runtime.Option

// Config is the full server configuration.
type Config = config.Config

// Core types for custom models and stages.
type (
	Record     = domain.Record
	Prediction = domain.Prediction
	Model      = ports.Model
	PreStage   = ports.PreStage
	PostStage  = ports.PostStage
)

// New creates a new Server with the given options.
// Example:
//
//	srv, err := modelserver.New(
//	    modelserver.WithConfigFile("config.yaml"),
//	    modelserver.WithModel(myModel),
//	)
var New = runtime.New

// Configuration options
var (
	WithConfigFile = runtime.WithConfigFile
	WithConfig     = runtime.WithConfig
	WithModel      = runtime.WithModel
	WithPreStage   = runtime.WithPreStage
	WithPostStage  = runtime.WithPostStage
	WithLogger     = runtime.WithLogger
	WithListener   = runtime.WithListener
)

// Helpers for building records, predictions and stages.
var (
	LoadConfig      = config.Load
	NewRecord       = domain.NewRecord
	NewPrediction   = domain.NewPrediction
	NewPreStage     = pipeline.NewStageFunc[*domain.Record]
	NewPostStage    = pipeline.NewStageFunc[domain.Prediction]
	ChainPreStages  = pipeline.Chain[*domain.Record]
	ChainPostStages = pipeline.Chain[domain.Prediction]
)
