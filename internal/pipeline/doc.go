// Package pipeline provides the inference pipeline that sits between the
// HTTP handlers and the model.
//
// A Pipeline composes exactly one pre stage, one model and one post stage
// and runs them in a fixed order for every request:
//
//	record -> pre.Transform -> model.Predict -> post.Transform -> prediction
//
// Both stages default to the identity transform. Several stages can be
// combined into one with Chain, so configuration can list any number of
// built-in stages while the pipeline shape stays the same.
//
// # Errors
//
// Failures are tagged with their origin before they reach the caller:
//   - pre/post failures become *domain.StageError (phase and stage name)
//   - model failures become *domain.ModelError (model name)
//
// Errors that already carry that type are passed through unchanged.
// Nothing is retried and no partial result is returned.
//
// # Built-in stages
//
// NewPreStage and NewPostStage build stages from config.StageConfig:
//
//	pre:  cel, scale, select, drop, tokens, webhook
//	post: labels, wrap, round, cel
package pipeline
