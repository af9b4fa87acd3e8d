// Package config loads replica daemon configuration from a YAML file overlaid with
// SUBCHAIN_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-subchain/pkg/artifact"
	"github.com/dd0wney/cluso-subchain/pkg/logging"
	"github.com/dd0wney/cluso-subchain/pkg/stream"
	"github.com/dd0wney/cluso-subchain/pkg/tracing"
	"github.com/dd0wney/cluso-subchain/pkg/validation"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "SUBCHAIN_"

// Transports lists the accepted transport names
var Transports = []string{"websocket", "nng", "zmq"}

// ClientConfig configures one replica daemon
type ClientConfig struct {
	ModuleURL   string `yaml:"module_url" env:"MODULE_URL" validate:"required"`
	SnapshotURL string `yaml:"snapshot_url" env:"SNAPSHOT_URL" validate:"required"`
	BlocksURL   string `yaml:"blocks_url" env:"BLOCKS_URL" validate:"required"`
	Transport   string `yaml:"transport" env:"TRANSPORT" validate:"oneof=websocket nng zmq"`

	// Accounts are handed to the transition module as params
	Accounts AccountsConfig `yaml:"accounts" envPrefix:"ACCOUNT_"`

	Slowmo      bool          `yaml:"slowmo" env:"SLOWMO"`
	SlowmoDelay time.Duration `yaml:"slowmo_delay" env:"SLOWMO_DELAY"`

	Reconnect        ReconnectConfig `yaml:"reconnect" envPrefix:"RECONNECT_"`
	ConnectTimeout   time.Duration   `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	HandshakeTimeout time.Duration   `yaml:"handshake_timeout" env:"HANDSHAKE_TIMEOUT"`
	IdleTimeout      time.Duration   `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	FetchTimeout     time.Duration   `yaml:"fetch_timeout" env:"FETCH_TIMEOUT"`

	HTTP    HTTPConfig    `yaml:"http" envPrefix:"HTTP_"`
	Tracing TracingConfig `yaml:"tracing" envPrefix:"TRACING_"`
	S3      S3Config      `yaml:"s3" envPrefix:"S3_"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" validate:"oneof=debug info warn error"`
}

// AccountsConfig holds the chain accounts the module reads
type AccountsConfig struct {
	Eden         string `yaml:"eden" env:"EDEN"`
	Token        string `yaml:"token" env:"TOKEN"`
	Atomic       string `yaml:"atomic" env:"ATOMIC"`
	AtomicMarket string `yaml:"atomicmarket" env:"ATOMICMARKET"`
}

// ReconnectConfig holds the reconnect schedule
type ReconnectConfig struct {
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER"`
	MaxAttempts  int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
}

// HTTPConfig configures the consumer surface
type HTTPConfig struct {
	Addr           string `yaml:"addr" env:"ADDR" validate:"required"`
	MetricsEnabled bool   `yaml:"metrics_enabled" env:"METRICS_ENABLED"`
}

// TracingConfig configures span export
type TracingConfig struct {
	Stdout      bool   `yaml:"stdout" env:"STDOUT"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

// S3Config configures s3:// artifact URLs
type S3Config struct {
	Region          string `yaml:"region" env:"REGION"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `yaml:"use_path_style" env:"USE_PATH_STYLE"`
}

// Default returns a configuration with every optional field set
func Default() ClientConfig {
	ingest := stream.DefaultIngestConfig()
	return ClientConfig{
		Transport:   "websocket",
		SlowmoDelay: ingest.SlowmoDelay,
		Reconnect: ReconnectConfig{
			InitialDelay: ingest.InitialReconnectDelay,
			MaxDelay:     ingest.MaxReconnectDelay,
			Multiplier:   ingest.ReconnectMultiplier,
			MaxAttempts:  ingest.MaxReconnectAttempts,
		},
		ConnectTimeout:   ingest.ConnectTimeout,
		HandshakeTimeout: ingest.HandshakeTimeout,
		IdleTimeout:      ingest.IdleTimeout,
		FetchTimeout:     2 * time.Minute,
		HTTP:             HTTPConfig{Addr: ":8080", MetricsEnabled: true},
		Tracing:          TracingConfig{ServiceName: "subchain"},
		LogLevel:         "info",
	}
}

// Load reads path (skipped when empty), overlays the process environment, applies defaults
// and validates.
func Load(path string) (*ClientConfig, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		data = b
	}
	return parse(data, nil)
}

// parse decodes YAML data and overlays environ (the process environment when nil)
func parse(data []byte, environ map[string]string) (*ClientConfig, error) {
	cfg := Default()

	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults applies default values to zero-valued fields
func (c *ClientConfig) ApplyDefaults() {
	d := Default()

	c.Transport = validation.DefaultOrString(c.Transport, d.Transport)
	c.SlowmoDelay = validation.DefaultOrDuration(c.SlowmoDelay, d.SlowmoDelay)
	c.Reconnect.InitialDelay = validation.DefaultOrDuration(c.Reconnect.InitialDelay, d.Reconnect.InitialDelay)
	c.Reconnect.MaxDelay = validation.DefaultOrDuration(c.Reconnect.MaxDelay, d.Reconnect.MaxDelay)
	c.Reconnect.Multiplier = validation.DefaultOrFloat(c.Reconnect.Multiplier, d.Reconnect.Multiplier)
	c.Reconnect.MaxAttempts = validation.DefaultOrInt(c.Reconnect.MaxAttempts, d.Reconnect.MaxAttempts)
	c.ConnectTimeout = validation.DefaultOrDuration(c.ConnectTimeout, d.ConnectTimeout)
	c.HandshakeTimeout = validation.DefaultOrDuration(c.HandshakeTimeout, d.HandshakeTimeout)
	c.FetchTimeout = validation.DefaultOrDuration(c.FetchTimeout, d.FetchTimeout)
	c.HTTP.Addr = validation.DefaultOrString(c.HTTP.Addr, d.HTTP.Addr)
	c.Tracing.ServiceName = validation.DefaultOrString(c.Tracing.ServiceName, d.Tracing.ServiceName)
	c.LogLevel = validation.DefaultOrString(c.LogLevel, d.LogLevel)
}

// Validate checks struct tags, URL schemes and the derived ingest configuration
func (c *ClientConfig) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	v := validation.NewConfigValidator("ClientConfig")
	v.URL("BlocksURL", c.BlocksURL, blockSchemes(c.Transport)...).
		MinDuration("FetchTimeout", c.FetchTimeout, time.Second).
		Custom("Ingest", func() error {
			ingest := c.Ingest()
			return ingest.Validate()
		})
	v.When(c.S3.AccessKeyID != "", func(cv *validation.ConfigValidator) {
		cv.Required("S3.SecretAccessKey", c.S3.SecretAccessKey)
	})
	return v.Validate()
}

func blockSchemes(transport string) []string {
	switch transport {
	case "nng":
		return []string{"tcp", "ipc", "inproc", "ws"}
	case "zmq":
		return []string{"tcp", "ipc", "inproc"}
	default:
		return []string{"ws", "wss"}
	}
}

// Ingest derives the stream ingest configuration
func (c *ClientConfig) Ingest() stream.IngestConfig {
	return stream.IngestConfig{
		InitialReconnectDelay: c.Reconnect.InitialDelay,
		MaxReconnectDelay:     c.Reconnect.MaxDelay,
		ReconnectMultiplier:   c.Reconnect.Multiplier,
		MaxReconnectAttempts:  c.Reconnect.MaxAttempts,
		ConnectTimeout:        c.ConnectTimeout,
		HandshakeTimeout:      c.HandshakeTimeout,
		IdleTimeout:           c.IdleTimeout,
		Slowmo:                c.Slowmo,
		SlowmoDelay:           c.SlowmoDelay,
	}
}

// Params returns the non-empty accounts keyed the way the module reads them
func (c *ClientConfig) Params() map[string]string {
	params := make(map[string]string, 4)
	for key, value := range map[string]string{
		"eden":         c.Accounts.Eden,
		"token":        c.Accounts.Token,
		"atomic":       c.Accounts.Atomic,
		"atomicmarket": c.Accounts.AtomicMarket,
	} {
		if value != "" {
			params[key] = value
		}
	}
	return params
}

// ArtifactOptions builds fetch options for module and snapshot URLs
func (c *ClientConfig) ArtifactOptions(logger logging.Logger) artifact.Options {
	return artifact.Options{
		S3: artifact.S3Options{
			Region:          c.S3.Region,
			Endpoint:        c.S3.Endpoint,
			AccessKeyID:     c.S3.AccessKeyID,
			SecretAccessKey: c.S3.SecretAccessKey,
			UsePathStyle:    c.S3.UsePathStyle,
		},
		Logger: logger,
	}
}

// TracingOptions builds the tracer provider configuration
func (c *ClientConfig) TracingOptions() tracing.Config {
	return tracing.Config{ServiceName: c.Tracing.ServiceName, UseStdout: c.Tracing.Stdout}
}

// Level returns the configured log level
func (c *ClientConfig) Level() logging.Level {
	return logging.ParseLevel(c.LogLevel)
}
