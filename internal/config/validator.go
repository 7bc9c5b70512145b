package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/vyrodovalexey/authgate/internal/router"
	"github.com/vyrodovalexey/authgate/internal/util"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Is matches util.ErrConfigInvalid.
func (e ValidationErrors) Is(target error) bool {
	return target == util.ErrConfigInvalid
}

// HasErrors returns true if there are validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates a configuration.
type Validator struct {
	structs *validator.Validate
	errors  ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		structs: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Validate validates cfg with a new Validator.
func Validate(cfg *Config) error {
	return NewValidator().Validate(cfg)
}

// Validate checks struct tags first, then the references between
// servers, locations and upstreams. All problems are returned together.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	if cfg == nil {
		v.addError("", "config is nil")
		return v.errors
	}

	if err := v.structs.Struct(cfg); err != nil {
		var fieldErrors validator.ValidationErrors
		if !errors.As(err, &fieldErrors) {
			return err
		}
		for _, fe := range fieldErrors {
			v.addError(fe.Namespace(), formatFieldError(fe))
		}
		return v.errors
	}

	v.validateUpstreams(cfg)
	v.validateServers(cfg)
	v.validateMetrics(cfg)
	v.validateAudit(cfg)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateUpstreams(cfg *Config) {
	seen := make(map[string]bool, len(cfg.Upstreams))
	for i, u := range cfg.Upstreams {
		path := fmt.Sprintf("upstreams[%d]", i)

		if seen[u.Name] {
			v.addError(path+".name", fmt.Sprintf("duplicate upstream name %q", u.Name))
		}
		seen[u.Name] = true

		if err := util.ValidateURL(u.URL); err != nil {
			v.addError(path+".url", err.Error())
		}
		for j, h := range u.HideHeaders {
			if err := util.ValidateHeaderName(h); err != nil {
				v.addError(fmt.Sprintf("%s.hideHeaders[%d]", path, j), err.Error())
			}
		}
		if u.Timeout < 0 {
			v.addError(path+".timeout", "must not be negative")
		}
	}
}

func (v *Validator) validateAudit(cfg *Config) {
	for i, h := range cfg.Audit.Headers {
		if err := util.ValidateHeaderName(h); err != nil {
			v.addError(fmt.Sprintf("audit.headers[%d]", i), err.Error())
		}
	}
	if h := cfg.Audit.SubjectHeader; h != "" {
		if err := util.ValidateHeaderName(h); err != nil {
			v.addError("audit.subjectHeader", err.Error())
		}
	}
}

func (v *Validator) validateServers(cfg *Config) {
	names := make(map[string]bool, len(cfg.Servers))
	listens := make(map[string]bool, len(cfg.Servers))

	for i := range cfg.Servers {
		srv := &cfg.Servers[i]
		path := fmt.Sprintf("servers[%d]", i)

		if names[srv.Name] {
			v.addError(path+".name", fmt.Sprintf("duplicate server name %q", srv.Name))
		}
		names[srv.Name] = true

		if listens[srv.Listen] && !ephemeral(srv.Listen) {
			v.addError(path+".listen", fmt.Sprintf("address %q is used by another server", srv.Listen))
		}
		listens[srv.Listen] = true
		v.validateListen(path+".listen", srv.Listen)

		if rl := srv.RateLimit; rl != nil && rl.Enabled && (rl.RequestsPerSecond == 0 || rl.Burst == 0) {
			v.addError(path+".rateLimit", "requestsPerSecond and burst are required when enabled")
		}

		table := v.validateLocations(cfg, srv, path)
		v.validateAuthTargets(cfg, srv, path, table)
	}
}

// validateLocations checks each location and returns the server's
// location table for reference checks.
func (v *Validator) validateLocations(cfg *Config, srv *ServerConfig, path string) *router.Table[*LocationConfig] {
	table := router.NewTable[*LocationConfig]()
	names := make(map[string]bool, len(srv.Locations))

	for j := range srv.Locations {
		loc := &srv.Locations[j]
		locPath := fmt.Sprintf("%s.locations[%d]", path, j)

		if names[loc.Name] {
			v.addError(locPath+".name", fmt.Sprintf("duplicate location name %q", loc.Name))
		}
		names[loc.Name] = true

		if loc.Match != MatchRegex && !strings.HasPrefix(loc.Path, "/") {
			v.addError(locPath+".path", "must start with \"/\"")
		}
		if loc.Match == MatchRegex {
			if err := util.ValidateRegex(loc.Path); err != nil {
				v.addError(locPath+".path", err.Error())
				continue
			}
		}
		if err := table.Add(loc.Path, router.MatchKind(loc.Match), loc); err != nil {
			v.addError(locPath+".path", err.Error())
		}

		switch {
		case loc.ProxyPass != "" && loc.Return != nil:
			v.addError(locPath, "proxyPass and return are mutually exclusive")
		case loc.ProxyPass == "" && loc.Return == nil:
			v.addError(locPath, "one of proxyPass or return is required")
		case loc.ProxyPass != "":
			if _, ok := cfg.Upstream(loc.ProxyPass); !ok {
				v.addError(locPath+".proxyPass", fmt.Sprintf("unknown upstream %q", loc.ProxyPass))
			}
		default:
			for name := range loc.Return.Headers {
				if err := util.ValidateHeaderName(name); err != nil {
					v.addError(locPath+".return.headers", err.Error())
				}
			}
		}
	}

	return table
}

// validateAuthTargets checks that every effective auth request URI of the
// server's locations is served by one of its locations.
func (v *Validator) validateAuthTargets(cfg *Config, srv *ServerConfig, path string, table *router.Table[*LocationConfig]) {
	for j := range srv.Locations {
		loc := &srv.Locations[j]
		locPath := fmt.Sprintf("%s.locations[%d]", path, j)

		conf, err := cfg.LocationAuthConf(srv, loc)
		if err != nil {
			v.addError(locPath+".authRequest", err.Error())
			continue
		}
		if !conf.Enabled() {
			continue
		}

		u, err := url.ParseRequestURI(conf.URI)
		if err != nil {
			v.addError(locPath+".authRequest", fmt.Sprintf("invalid uri %q: %v", conf.URI, err))
			continue
		}
		if _, ok := table.Match(u.Path); !ok {
			v.addError(locPath+".authRequest",
				fmt.Sprintf("uri %q matches no location of server %q", conf.URI, srv.Name))
		}
	}
}

func (v *Validator) validateMetrics(cfg *Config) {
	if !cfg.Metrics.Enabled {
		return
	}
	v.validateListen("metrics.listen", cfg.Metrics.Listen)
	for _, srv := range cfg.Servers {
		if srv.Listen == cfg.Metrics.Listen && !ephemeral(srv.Listen) {
			v.addError("metrics.listen", fmt.Sprintf("address %q is used by server %q", srv.Listen, srv.Name))
		}
	}
}

func (v *Validator) validateListen(path, addr string) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		v.addError(path, fmt.Sprintf("invalid listen address %q: %v", addr, err))
	}
}

// ephemeral reports whether addr asks the kernel for a free port.
func ephemeral(addr string) bool {
	_, port, err := net.SplitHostPort(addr)
	return err == nil && port == "0"
}

// addError adds a validation error.
func (v *Validator) addError(path, message string) {
	v.errors = append(v.errors, ValidationError{Path: path, Message: message})
}

// formatFieldError creates a readable message for a struct tag failure.
func formatFieldError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		if e.Kind().String() == "slice" {
			return fmt.Sprintf("must have at least %s items", e.Param())
		}
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "startswith":
		return fmt.Sprintf("must start with %q", e.Param())
	case "url":
		return "must be a valid URL"
	default:
		return fmt.Sprintf("failed validation: %s", e.Tag())
	}
}
