package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/modelserver/internal/core/domain"
	"github.com/tjfontaine/modelserver/internal/core/ports"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	defaultBackoffBase = 100 * time.Millisecond

	// maxResponseBytes caps how much of an upstream reply is read.
	maxResponseBytes = 8 << 20
)

// HTTPConfig configures an HTTPModel.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration
	Retries int
	Headers map[string]string
}

// HTTPModel forwards each record to a remote inference endpoint as
// {"instances": [record]} and returns the "predictions" list it replies with.
type HTTPModel struct {
	url         string
	retries     int
	headers     map[string]string
	client      *http.Client
	backoffBase time.Duration
	logger      *slog.Logger
}

var _ ports.Model = (*HTTPModel)(nil)

// HTTPOption customizes an HTTPModel.
type HTTPOption func(*HTTPModel)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(m *HTTPModel) {
		if c != nil {
			m.client = c
		}
	}
}

// WithBackoff sets the base delay of the exponential retry backoff.
func WithBackoff(base time.Duration) HTTPOption {
	return func(m *HTTPModel) {
		if base > 0 {
			m.backoffBase = base
		}
	}
}

// WithHTTPLogger sets the logger used for retry diagnostics.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(m *HTTPModel) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewHTTP creates a remote model client.
func NewHTTP(cfg HTTPConfig, opts ...HTTPOption) (*HTTPModel, error) {
	if cfg.URL == "" {
		return nil, errors.New("http model: url is required")
	}
	if cfg.Retries < 0 {
		return nil, errors.New("http model: retries must not be negative")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultHTTPTimeout
	}

	m := &HTTPModel{
		url:     cfg.URL,
		retries: cfg.Retries,
		headers: cfg.Headers,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		backoffBase: defaultBackoffBase,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

type predictRequest struct {
	Instances []*domain.Record `json:"instances"`
}

type predictResponse struct {
	Predictions []any `json:"predictions"`
}

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference endpoint returned status %d: %s", e.StatusCode, e.Body)
}

// Predict posts in to the endpoint. Transport errors and 5xx replies are
// retried with exponential backoff; 4xx replies fail immediately.
func (m *HTTPModel) Predict(ctx context.Context, in *domain.Record) (domain.Prediction, error) {
	body, err := json.Marshal(predictRequest{Instances: []*domain.Record{in}})
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("marshal instances: %w", err)
	}

	attempt := 0
	backoff := retry.WithMaxRetries(uint64(m.retries), retry.NewExponential(m.backoffBase))
	out, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (predictResponse, error) {
		attempt++
		resp, err := m.doRequest(ctx, body)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return predictResponse{}, ctx.Err()
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError {
			return predictResponse{}, err
		}
		m.logger.Debug("inference request failed", "attempt", attempt, "error", err)
		return predictResponse{}, retry.RetryableError(err)
	})
	if err != nil {
		return domain.Prediction{}, err
	}

	if len(out.Predictions) != 1 {
		return domain.Prediction{}, fmt.Errorf("expected 1 prediction, got %d", len(out.Predictions))
	}
	return domain.NewPrediction(out.Predictions), nil
}

func (m *HTTPModel) doRequest(ctx context.Context, body []byte) (predictResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return predictResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range m.headers {
		req.Header.Set(k, v)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return predictResponse{}, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return predictResponse{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return predictResponse{}, &StatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var out predictResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return predictResponse{}, fmt.Errorf("unmarshal predictions: %w", err)
	}
	if out.Predictions == nil {
		return predictResponse{}, errors.New(`response has no "predictions"`)
	}
	return out, nil
}
