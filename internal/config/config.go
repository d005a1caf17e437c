package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override, e.g. MODELSERVER_SERVER__PORT.
	EnvPrefix = "MODELSERVER_"

	// DefaultPath is read when no explicit path is given.
	DefaultPath = "config.yaml"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Model     ModelConfig     `koanf:"model"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
}

type ServerConfig struct {
	Port            int             `koanf:"port"`
	RequestTimeout  string          `koanf:"request_timeout"`  // Duration string like "30s"
	ShutdownTimeout string          `koanf:"shutdown_timeout"` // Duration string like "30s"
	MaxBodyBytes    int64           `koanf:"max_body_bytes"`
	Compress        bool            `koanf:"compress"`
	RateLimit       RateLimitConfig `koanf:"rate_limit"`
}

// RateLimitConfig throttles the prediction route. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	Burst             int     `koanf:"burst"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

type ModelConfig struct {
	Type     string `koanf:"type"` // linear, http
	Name     string `koanf:"name"`
	Artifact string `koanf:"artifact"` // file path (optionally .gz/.zst) or s3://bucket/key
	// MaxConcurrency bounds concurrent Predict calls. 0 is unlimited, 1 serializes.
	MaxConcurrency int             `koanf:"max_concurrency"`
	S3             S3Config        `koanf:"s3"`
	HTTP           HTTPModelConfig `koanf:"http"`
}

// S3Config locates artifacts in S3-compatible object storage.
type S3Config struct {
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
	UseSSL    bool   `koanf:"use_ssl"`
}

// HTTPModelConfig configures a remote inference endpoint.
type HTTPModelConfig struct {
	URL     string            `koanf:"url"`
	Timeout string            `koanf:"timeout"`
	Retries int               `koanf:"retries"`
	Headers map[string]string `koanf:"headers"`
}

type PipelineConfig struct {
	Pre  []StageConfig `koanf:"pre"`
	Post []StageConfig `koanf:"post"`
}

// StageConfig configures one built-in stage. Which fields apply depends on Type.
type StageConfig struct {
	Name       string            `koanf:"name"`
	Type       string            `koanf:"type"`
	Fields     map[string]string `koanf:"fields"`     // cel (pre): output field -> expression
	Expression string            `koanf:"expression"` // cel (post)
	Columns    []string          `koanf:"columns"`    // scale, select, drop, tokens
	Factor     float64           `koanf:"factor"`     // scale
	Labels     []string          `koanf:"labels"`     // labels
	Digits     int               `koanf:"digits"`     // round
	Encoding   string            `koanf:"encoding"`   // tokens

	// webhook
	URL     string            `koanf:"url"`
	Timeout string            `koanf:"timeout"`
	Retries int               `koanf:"retries"`
	Headers map[string]string `koanf:"headers"`
	OnError string            `koanf:"on_error"` // fail (default) or pass

	DenyPrivate bool `koanf:"deny_private"`
}

// TimeoutDuration returns the parsed webhook call timeout.
func (s StageConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration("", s.Timeout)
	return d
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads path (if it exists) and then applies MODELSERVER_* environment
// overrides. An empty path falls back to $MODELSERVER_CONFIG, then config.yaml.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path == "" {
		path = DefaultPath
	}

	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Model.S3.AccessKey = substituteEnvVars(cfg.Model.S3.AccessKey)
	cfg.Model.S3.SecretKey = substituteEnvVars(cfg.Model.S3.SecretKey)
	cfg.Model.HTTP.URL = substituteEnvVars(cfg.Model.HTTP.URL)
	for h, v := range cfg.Model.HTTP.Headers {
		cfg.Model.HTTP.Headers[h] = substituteEnvVars(v)
	}
	for i := range cfg.Pipeline.Pre {
		st := &cfg.Pipeline.Pre[i]
		st.URL = substituteEnvVars(st.URL)
		for h, v := range st.Headers {
			st.Headers[h] = substituteEnvVars(v)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":             8080,
		"server.request_timeout":  "30s",
		"server.shutdown_timeout": "30s",
		"server.max_body_bytes":   int64(1 << 20),
		"server.compress":         true,
		"logging.level":           "info",
		"logging.format":          "json",
		"telemetry.service_name":  "modelserver",
		"model.type":              "linear",
		"model.name":              "model",
		"model.http.timeout":      "10s",
	}
	for key, v := range defaults {
		if !k.Exists(key) {
			k.Set(key, v)
		}
	}
}

// Validate checks values that cannot be enforced by the schema.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if _, err := parseDuration("server.request_timeout", c.Server.RequestTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseDuration("server.shutdown_timeout", c.Server.ShutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes must be positive"))
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 || c.Server.RateLimit.Burst < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit values must not be negative"))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q (must be 'json' or 'text')", c.Logging.Format))
	}

	if c.Model.MaxConcurrency < 0 {
		errs = append(errs, fmt.Errorf("model.max_concurrency must not be negative"))
	}
	switch c.Model.Type {
	case "linear":
		if c.Model.Artifact == "" {
			errs = append(errs, fmt.Errorf("model.artifact is required for linear models"))
		}
	case "http":
		if c.Model.HTTP.URL == "" {
			errs = append(errs, fmt.Errorf("model.http.url is required for http models"))
		}
		if _, err := parseDuration("model.http.timeout", c.Model.HTTP.Timeout); err != nil {
			errs = append(errs, err)
		}
		if c.Model.HTTP.Retries < 0 {
			errs = append(errs, fmt.Errorf("model.http.retries must not be negative"))
		}
	default:
		errs = append(errs, fmt.Errorf("model.type %q (must be 'linear' or 'http')", c.Model.Type))
	}

	for i, st := range c.Pipeline.Pre {
		if _, err := parseDuration(fmt.Sprintf("pipeline.pre[%d].timeout", i), st.Timeout); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// RequestTimeoutDuration returns the parsed per-request deadline.
func (s ServerConfig) RequestTimeoutDuration() time.Duration {
	d, _ := parseDuration("", s.RequestTimeout)
	return d
}

// ShutdownTimeoutDuration returns the parsed graceful shutdown budget.
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration {
	d, _ := parseDuration("", s.ShutdownTimeout)
	return d
}

// TimeoutDuration returns the parsed upstream call timeout.
func (h HTTPModelConfig) TimeoutDuration() time.Duration {
	d, _ := parseDuration("", h.Timeout)
	return d
}

func parseDuration(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", key, s)
	}
	return d, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
