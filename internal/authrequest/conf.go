package authrequest

import (
	"fmt"
	"strings"

	"github.com/vyrodovalexey/authgate/internal/pipeline"
)

// DirectiveName is the configuration key of the directive.
const DirectiveName = "authRequest"

// directiveOff disables the gate and stops inheritance from outer scopes.
const directiveOff = "off"

// Conf is the directive value at one configuration scope.
type Conf struct {
	// URI of the check location. Empty means the gate is disabled.
	URI string

	set bool
}

// Set applies a directive value to the scope.
func (c *Conf) Set(value string) error {
	if c.set {
		return fmt.Errorf("%q directive %w", DirectiveName, ErrDuplicateDirective)
	}

	if value == directiveOff {
		c.URI = ""
		c.set = true
		return nil
	}

	if !strings.HasPrefix(value, "/") {
		return fmt.Errorf("%w: %q must be %q or start with \"/\"", ErrInvalidDirective, value, directiveOff)
	}

	c.URI = value
	c.set = true
	return nil
}

// IsSet reports whether the directive appeared at this scope.
func (c *Conf) IsSet() bool {
	return c != nil && c.set
}

// Enabled reports whether the gate runs for the scope.
func (c *Conf) Enabled() bool {
	return c != nil && c.URI != ""
}

// Merge returns the effective configuration of child nested in parent.
// An unset child inherits parent; "off" in the child wins over anything
// inherited.
func Merge(parent, child *Conf) *Conf {
	switch {
	case child.IsSet():
		return &Conf{URI: child.URI, set: true}
	case parent.IsSet():
		return &Conf{URI: parent.URI, set: true}
	default:
		return &Conf{}
	}
}

// ParseConf builds a Conf from an optional directive value, as found in
// configuration files where a missing key is nil.
func ParseConf(value *string) (*Conf, error) {
	c := &Conf{}
	if value == nil {
		return c, nil
	}
	if err := c.Set(*value); err != nil {
		return nil, err
	}
	return c, nil
}

// confKey keys the merged Conf in a location's module configuration.
type confKey struct{}

// SetLocationConf attaches the merged configuration to loc.
func SetLocationConf(loc *pipeline.Location, c *Conf) {
	loc.SetConf(confKey{}, c)
}

// LocationConf returns the configuration of the location r is served by.
func LocationConf(r *pipeline.Request) *Conf {
	c, _ := r.Location().Conf(confKey{}).(*Conf)
	return c
}
