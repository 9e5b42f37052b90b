package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the semantic type a configuration field is coerced to.
type Kind int

const (
	// KindString is a plain string.
	KindString Kind = iota
	// KindBool is a boolean parsed from "true", "1", "yes" or "y".
	KindBool
	// KindInt is an integer.
	KindInt
	// KindMap is a mapping passed through unchanged.
	KindMap
	// KindStrings is an ordered sequence of strings.
	KindStrings
	// KindMapList is a list of mappings. It is never read from the
	// envelope; only the merged extra_vars field carries it.
	KindMapList
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindMap:
		return "map"
	case KindStrings:
		return "[]string"
	case KindMapList:
		return "[]map"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrCoercion is wrapped by every coercion failure.
var ErrCoercion = errors.New("cannot coerce value")

// Coerce converts a raw envelope value to the kind. It never panics on an
// unexpected shape; mismatches come back as an error wrapping ErrCoercion.
func (k Kind) Coerce(raw any) (any, error) {
	switch k {
	case KindString:
		return coerceString(raw)
	case KindBool:
		return coerceBool(raw), nil
	case KindInt:
		return coerceInt(raw)
	case KindMap:
		return coerceMap(raw)
	case KindStrings:
		return coerceStrings(raw)
	default:
		return nil, fmt.Errorf("%w: unknown kind %s", ErrCoercion, k)
	}
}

// FieldSchema maps recognised field names to their kind. Fields that are not
// in the schema are ignored.
type FieldSchema map[string]Kind

// SourceSchema is the schema of the resource's source configuration.
var SourceSchema = FieldSchema{
	"private_key_file": KindString,
	"remote_user":      KindString,
	"remote_pass":      KindString,
	"vault_password":   KindString,
	"extra_vars":       KindMap,
	"inventory":        KindMap,
	"become":           KindBool,
	"become_method":    KindString,
	"become_user":      KindString,
	"become_pass":      KindString,
	"ssh_common_args":  KindString,
	"forks":            KindInt,
	"tags":             KindStrings,
	"skip_tags":        KindStrings,
}

// ParamsSchema is the schema of the put step params.
var ParamsSchema = FieldSchema{
	"src":             KindString,
	"playbook":        KindString,
	"extra_vars":      KindMap,
	"inventory":       KindMap,
	"become":          KindBool,
	"become_method":   KindString,
	"become_user":     KindString,
	"connection":      KindString,
	"timeout":         KindInt,
	"ssh_common_args": KindString,
	"ssh_extra_args":  KindString,
	"verbosity":       KindInt,
	"force_handlers":  KindBool,
	"flush_cache":     KindBool,
	"check":           KindBool,
	"diff":            KindBool,
	"limit":           KindString,
	"start_at_task":   KindString,
	"forks":           KindInt,
	"tags":            KindStrings,
	"skip_tags":       KindStrings,
}

var truthyStrings = map[string]bool{"true": true, "1": true, "yes": true, "y": true}

func coerceBool(raw any) bool {
	return truthyStrings[strings.ToLower(scalarString(raw))]
}

func coerceString(raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		return v, nil
	case map[string]any, []any:
		return nil, fmt.Errorf("%w: %T is not a string", ErrCoercion, raw)
	default:
		return scalarString(raw), nil
	}
}

func coerceInt(raw any) (any, error) {
	switch v := raw.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %v is not an integer", ErrCoercion, v)
		}
		return int(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCoercion, err)
		}
		return coerceInt(f)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid literal for int: %q", ErrCoercion, v)
		}
		return i, nil
	default:
		return nil, fmt.Errorf("%w: %T is not an integer", ErrCoercion, raw)
	}
}

func coerceMap(raw any) (any, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a mapping", ErrCoercion, raw)
	}
	return m, nil
}

func coerceStrings(raw any) (any, error) {
	switch v := raw.(type) {
	case []string:
		return v, nil
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			switch item.(type) {
			case map[string]any, []any, nil:
				return nil, fmt.Errorf("%w: element %d is %T, not a string", ErrCoercion, i, item)
			}
			out = append(out, scalarString(item))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %T is not a sequence", ErrCoercion, raw)
	}
}

// scalarString renders a scalar envelope value as text.
func scalarString(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprint(v)
	}
}

// truthy reports whether an envelope value counts as set: nil, false, zero,
// empty strings and empty collections do not.
func truthy(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case json.Number:
		f, err := v.Float64()
		return err != nil || f != 0
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	case []string:
		return len(v) > 0
	default:
		return true
	}
}
