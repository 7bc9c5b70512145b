package audit

import (
	"errors"
	"fmt"
	"strings"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config represents the audit logging configuration.
type Config struct {
	// Enabled enables audit logging.
	Enabled bool

	// Output is stdout, stderr or a file path.
	Output string

	// Format is json or text.
	Format string

	// Events selects the audited event types. Nil audits all of them.
	Events *EventsConfig

	// Headers lists the request headers recorded on the subject.
	Headers []string

	// SubjectHeader names the authorization response header carrying
	// the subject identity.
	SubjectHeader string

	// RedactFields lists case-insensitive substrings of header and
	// metadata names whose values are redacted.
	RedactFields []string

	// SkipPaths lists resource paths that are not audited. A trailing
	// '*' matches any suffix.
	SkipPaths []string
}

// EventsConfig configures which events to audit.
type EventsConfig struct {
	Authorization bool
	Configuration bool
}

// DefaultConfig returns a default audit configuration.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Output:  "stdout",
		Format:  FormatJSON,
		RedactFields: []string{
			"authorization",
			"cookie",
			"token",
			"secret",
			"password",
			"api_key",
			"apikey",
		},
	}
}

// Validate validates the audit configuration.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	if c.Format != "" && c.Format != FormatJSON && c.Format != FormatText {
		return fmt.Errorf("invalid audit format: %s (must be 'json' or 'text')", c.Format)
	}
	for _, h := range c.Headers {
		if strings.TrimSpace(h) == "" {
			return errors.New("empty audit header name")
		}
	}
	return nil
}

// GetEffectiveFormat returns the effective output format.
func (c *Config) GetEffectiveFormat() string {
	if c.Format != "" {
		return c.Format
	}
	return FormatJSON
}

// GetEffectiveOutput returns the effective output destination.
func (c *Config) GetEffectiveOutput() string {
	if c.Output != "" {
		return c.Output
	}
	return "stdout"
}

// ShouldAudit reports whether events of type t are audited.
func (c *Config) ShouldAudit(t EventType) bool {
	if c == nil || !c.Enabled {
		return false
	}
	if c.Events == nil {
		return true
	}
	switch t {
	case EventTypeAuthorization:
		return c.Events.Authorization
	case EventTypeConfiguration:
		return c.Events.Configuration
	default:
		return true
	}
}

// ShouldSkipPath returns true if the path should be skipped from auditing.
func (c *Config) ShouldSkipPath(path string) bool {
	for _, pattern := range c.SkipPaths {
		if matchPath(pattern, path) {
			return true
		}
	}
	return false
}

func matchPath(pattern, path string) bool {
	if pattern == path {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(path, prefix)
	}
	return false
}
