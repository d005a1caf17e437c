package pipeline

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
	"github.com/tjfontaine/modelserver/internal/pkg/safehttp"
)

// Webhook error handling modes.
const (
	OnErrorFail = "fail"
	OnErrorPass = "pass"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	webhookBackoffBase    = 50 * time.Millisecond
	maxWebhookReplyBytes  = 4 << 20
)

// WebhookStage posts the record to an external HTTP endpoint and continues
// with the JSON object it replies with.
type WebhookStage struct {
	name    string
	url     string
	retries int
	onError string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

// WebhookStageConfig configures a webhook stage.
type WebhookStageConfig struct {
	Name    string
	URL     string
	Timeout time.Duration
	Retries int
	OnError string // "fail" (default) or "pass"
	Headers map[string]string

	// DenyPrivate refuses connections to loopback and private addresses.
	DenyPrivate bool
	Logger      *slog.Logger
}

// NewWebhookStage creates a new webhook stage.
func NewWebhookStage(cfg WebhookStageConfig) (*WebhookStage, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook stage %s: url is required", cfg.Name)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("webhook stage %s: retries must not be negative", cfg.Name)
	}

	onError := cfg.OnError
	switch onError {
	case "":
		onError = OnErrorFail
	case OnErrorFail, OnErrorPass:
	default:
		return nil, fmt.Errorf("webhook stage %s: on_error %q (must be 'fail' or 'pass')", cfg.Name, cfg.OnError)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultWebhookTimeout
	}
	var base http.RoundTripper = http.DefaultTransport
	if cfg.DenyPrivate {
		base = safehttp.NewTransport()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookStage{
		name:    cfg.Name,
		url:     cfg.URL,
		retries: cfg.Retries,
		onError: onError,
		headers: cfg.Headers,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(base),
		},
		logger: logger,
	}, nil
}

func (s *WebhookStage) Name() string { return s.name }

// Transform calls the webhook, retrying transport failures and 5xx replies.
// When every attempt fails the stage either returns the error or, with
// on_error "pass", the input unchanged.
func (s *WebhookStage) Transform(ctx context.Context, in *domain.Record) (*domain.Record, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}

	backoff := retry.WithMaxRetries(uint64(s.retries), retry.NewExponential(webhookBackoffBase))
	out, err := retry.DoValue(ctx, backoff, func(ctx context.Context) (*domain.Record, error) {
		rec, retryable, err := s.doRequest(ctx, body)
		switch {
		case err == nil:
			return rec, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case retryable:
			return nil, retry.RetryableError(err)
		}
		return nil, err
	})
	if err == nil {
		return out, nil
	}

	// Deadlines belong to the request, not the webhook.
	if ctx.Err() != nil || s.onError == OnErrorFail {
		return nil, err
	}
	s.logger.WarnContext(ctx, "webhook stage failed, passing record through",
		slog.String("stage", s.name),
		slog.String("error", err.Error()))
	return in, nil
}

func (s *WebhookStage) doRequest(ctx context.Context, body []byte) (*domain.Record, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxWebhookReplyBytes))
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
		return nil, resp.StatusCode >= http.StatusInternalServerError, err
	}

	rec, err := domain.ParseRecord(respBody)
	if err != nil {
		var decErr *domain.DecodeError
		if errors.As(err, &decErr) {
			err = decErr.Err
		}
		return nil, false, fmt.Errorf("webhook reply: %w", err)
	}
	return rec, false, nil
}
