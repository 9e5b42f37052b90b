package config

import (
	"maps"
	"reflect"
	"slices"
	"sort"
)

// Values is a raw configuration mapping as decoded from the envelope.
type Values map[string]any

// FieldIssue describes a field that was dropped because it could not be
// coerced to its declared kind. Issues are reported, not raised.
type FieldIssue struct {
	// Origin is "source" or "params".
	Origin string `json:"origin"`

	// Field is the field name.
	Field string `json:"field"`

	// Kind is the declared kind.
	Kind Kind `json:"kind"`

	// Err is the coercion failure.
	Err error `json:"-"`
}

// Error renders the issue.
func (i FieldIssue) Error() string {
	return "cannot get config param '" + i.Field + "' from " + i.Origin + ": " + i.Err.Error()
}

// Canonical is a coerced configuration. Every field it holds has exactly
// the kind declared for it; absent fields are simply not there. A Canonical
// is never mutated after construction.
type Canonical struct {
	values map[string]any
	kinds  map[string]Kind
}

func newCanonical() *Canonical {
	return &Canonical{
		values: make(map[string]any),
		kinds:  make(map[string]Kind),
	}
}

func (c *Canonical) set(name string, kind Kind, value any) {
	c.values[name] = value
	c.kinds[name] = kind
}

// Has reports whether the field is present.
func (c *Canonical) Has(name string) bool {
	_, ok := c.values[name]
	return ok
}

// Kind returns the kind of a present field.
func (c *Canonical) Kind(name string) (Kind, bool) {
	k, ok := c.kinds[name]
	return k, ok
}

// Fields returns the present field names, sorted.
func (c *Canonical) Fields() []string {
	names := slices.Collect(maps.Keys(c.values))
	sort.Strings(names)
	return names
}

// Len returns the number of present fields.
func (c *Canonical) Len() int {
	return len(c.values)
}

// String returns a string field.
func (c *Canonical) String(name string) (string, bool) {
	v, ok := c.values[name].(string)
	return v, ok
}

// StringOr returns a string field or def when absent.
func (c *Canonical) StringOr(name, def string) string {
	if v, ok := c.String(name); ok {
		return v
	}
	return def
}

// Bool returns a boolean field.
func (c *Canonical) Bool(name string) (bool, bool) {
	v, ok := c.values[name].(bool)
	return v, ok
}

// Int returns an integer field.
func (c *Canonical) Int(name string) (int, bool) {
	v, ok := c.values[name].(int)
	return v, ok
}

// Map returns a mapping field.
func (c *Canonical) Map(name string) (map[string]any, bool) {
	v, ok := c.values[name].(map[string]any)
	return v, ok
}

// Strings returns a string sequence field.
func (c *Canonical) Strings(name string) ([]string, bool) {
	v, ok := c.values[name].([]string)
	return v, ok
}

// ExtraVars returns the list-wrapped extra variables.
func (c *Canonical) ExtraVars() []map[string]any {
	v, _ := c.values[ExtraVarsField].([]map[string]any)
	return v
}

// Equal reports whether both configurations hold the same fields and values.
func (c *Canonical) Equal(other *Canonical) bool {
	if other == nil {
		return false
	}
	return reflect.DeepEqual(c.values, other.values) && reflect.DeepEqual(c.kinds, other.kinds)
}

// Redacted returns the configuration as a plain map with secret fields
// masked, suitable for logging.
func (c *Canonical) Redacted() map[string]any {
	out := make(map[string]any, len(c.values))
	for name, v := range c.values {
		if secretFields[name] {
			out[name] = "********"
			continue
		}
		out[name] = v
	}
	return out
}

// ExtraVarsField is the only field merged by key union instead of override.
const ExtraVarsField = "extra_vars"

var secretFields = map[string]bool{
	"remote_pass":     true,
	"become_pass":     true,
	"vault_password":  true,
	"private_key":     true,
	"src_private_key": true,
}
