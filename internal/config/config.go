package config

import (
	"time"

	"github.com/vyrodovalexey/authgate/internal/authrequest"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultMetricsListen     = ":9090"
	DefaultMetricsPath       = "/metrics"
	DefaultServiceName       = "authgate"
	DefaultUpstreamTimeout   = 30 * time.Second
	DefaultBreakerThreshold  = 5
	DefaultBreakerTimeout    = 30 * time.Second
	DefaultShutdownTimeout   = 15 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultAuditFormat       = "json"
)

// Match kinds accepted for a location.
const (
	MatchPrefix = "prefix"
	MatchExact  = "exact"
	MatchRegex  = "regex"
)

// Config is the root of the configuration file.
type Config struct {
	// AuthRequest is the directive at the outermost scope.
	AuthRequest *string `yaml:"authRequest,omitempty"`

	Servers   []ServerConfig   `yaml:"servers" validate:"required,min=1,dive"`
	Upstreams []UpstreamConfig `yaml:"upstreams,omitempty" validate:"dive"`

	ShutdownTimeout Duration `yaml:"shutdownTimeout,omitempty"`

	Logging LoggingConfig `yaml:"logging,omitempty"`
	Tracing TracingConfig `yaml:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
	Audit   AuditConfig   `yaml:"audit,omitempty"`
}

// ServerConfig is one listening server.
type ServerConfig struct {
	Name        string           `yaml:"name" validate:"required"`
	Listen      string           `yaml:"listen" validate:"required"`
	AuthRequest *string          `yaml:"authRequest,omitempty"`
	RateLimit   *RateLimitConfig `yaml:"rateLimit,omitempty"`
	Locations   []LocationConfig `yaml:"locations" validate:"required,min=1,dive"`
}

// LocationConfig is a location of a server.
type LocationConfig struct {
	// Name labels metrics and logs. Defaults to Path.
	Name        string        `yaml:"name,omitempty"`
	Path        string        `yaml:"path" validate:"required"`
	Match       string        `yaml:"match,omitempty" validate:"omitempty,oneof=prefix exact regex"`
	Internal    bool          `yaml:"internal,omitempty"`
	AuthRequest *string       `yaml:"authRequest,omitempty"`
	ProxyPass   string        `yaml:"proxyPass,omitempty"`
	Return      *ReturnConfig `yaml:"return,omitempty"`
}

// ReturnConfig is a fixed response.
type ReturnConfig struct {
	Status  int               `yaml:"status,omitempty" validate:"omitempty,min=100,max=599"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Body    string            `yaml:"body,omitempty"`
}

// UpstreamConfig is an HTTP upstream locations can proxy to.
type UpstreamConfig struct {
	Name           string               `yaml:"name" validate:"required"`
	URL            string               `yaml:"url" validate:"required,url"`
	Timeout        Duration             `yaml:"timeout,omitempty"`
	HideHeaders    []string             `yaml:"hideHeaders,omitempty"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker,omitempty"`
}

// CircuitBreakerConfig configures the breaker of an upstream.
type CircuitBreakerConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Threshold int      `yaml:"threshold,omitempty" validate:"omitempty,min=1"`
	Timeout   Duration `yaml:"timeout,omitempty"`
}

// RateLimitConfig configures inbound rate limiting of a server.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerSecond int  `yaml:"requestsPerSecond" validate:"omitempty,min=1"`
	Burst             int  `yaml:"burst" validate:"omitempty,min=1"`
	PerClient         bool `yaml:"perClient,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=json console"`
	Output string `yaml:"output,omitempty" validate:"omitempty,oneof=stdout stderr"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName,omitempty"`
	Exporter     string  `yaml:"exporter,omitempty" validate:"omitempty,oneof=otlp stdout"`
	Endpoint     string  `yaml:"endpoint,omitempty"`
	SamplingRate float64 `yaml:"samplingRate,omitempty" validate:"min=0,max=1"`
}

// MetricsConfig configures the side server exposing metrics and health endpoints.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen,omitempty"`
	Path    string `yaml:"path,omitempty" validate:"omitempty,startswith=/"`
}

// AuditConfig configures the audit log of authorization decisions.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`

	// Output is stdout, stderr or a file path.
	Output string `yaml:"output,omitempty"`
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=json text"`

	// Events selects the audited event types. Unset audits all of them.
	Events *AuditEventsConfig `yaml:"events,omitempty"`

	// Headers lists the request headers recorded on each event.
	Headers []string `yaml:"headers,omitempty"`

	// SubjectHeader names the authorization response header carrying the
	// authenticated identity.
	SubjectHeader string `yaml:"subjectHeader,omitempty"`

	// RedactFields lists substrings of header names whose values are
	// redacted. Unset uses a built-in list covering credentials.
	RedactFields []string `yaml:"redactFields,omitempty"`

	SkipPaths []string `yaml:"skipPaths,omitempty"`
}

// AuditEventsConfig selects audited event types.
type AuditEventsConfig struct {
	Authorization bool `yaml:"authorization"`
	Configuration bool `yaml:"configuration"`
}

// ApplyDefaults fills unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = DefaultMetricsListen
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.Format == "" {
		c.Audit.Format = DefaultAuditFormat
	}

	for i := range c.Servers {
		for j := range c.Servers[i].Locations {
			loc := &c.Servers[i].Locations[j]
			if loc.Match == "" {
				loc.Match = MatchPrefix
			}
			if loc.Name == "" {
				loc.Name = loc.Path
			}
		}
	}

	for i := range c.Upstreams {
		u := &c.Upstreams[i]
		if u.Timeout == 0 {
			u.Timeout = Duration(DefaultUpstreamTimeout)
		}
		if u.CircuitBreaker.Enabled {
			if u.CircuitBreaker.Threshold == 0 {
				u.CircuitBreaker.Threshold = DefaultBreakerThreshold
			}
			if u.CircuitBreaker.Timeout == 0 {
				u.CircuitBreaker.Timeout = Duration(DefaultBreakerTimeout)
			}
		}
	}
}

// Upstream returns the upstream with the given name.
func (c *Config) Upstream(name string) (*UpstreamConfig, bool) {
	for i := range c.Upstreams {
		if c.Upstreams[i].Name == name {
			return &c.Upstreams[i], true
		}
	}
	return nil, false
}

// LocationAuthConf returns the effective directive of loc in srv, merged
// top level → server → location.
func (c *Config) LocationAuthConf(srv *ServerConfig, loc *LocationConfig) (*authrequest.Conf, error) {
	global, err := authrequest.ParseConf(c.AuthRequest)
	if err != nil {
		return nil, err
	}
	server, err := authrequest.ParseConf(srv.AuthRequest)
	if err != nil {
		return nil, err
	}
	location, err := authrequest.ParseConf(loc.AuthRequest)
	if err != nil {
		return nil, err
	}
	return authrequest.Merge(authrequest.Merge(global, server), location), nil
}
