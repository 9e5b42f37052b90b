package inventory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// ErrInvalidSpec is returned when a hosts specification has the wrong shape.
var ErrInvalidSpec = errors.New("invalid inventory specification")

// shapeSchema is the accepted shape of the hosts value.
const shapeSchema = `
#Token: string | number | bool
#Host:  #Token | [...#Token]
#Hosts: [...#Host]
#Group: string | #Hosts | {
	hosts?:    #Hosts
	vars?:     _
	children?: [...string]
	...
}
#Spec: string | #Hosts | {[string]: #Group}
`

// Kind tells which of the three shapes a Spec has.
type Kind int

const (
	// KindLeaf is a single literal line, such as "localhost".
	KindLeaf Kind = iota
	// KindHostList is a flat list of hosts without a group header.
	KindHostList
	// KindGroups is a mapping of group names to groups.
	KindGroups
)

func (k Kind) String() string {
	switch k {
	case KindLeaf:
		return "leaf"
	case KindHostList:
		return "hosts"
	case KindGroups:
		return "groups"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Host is one inventory host line. Extra tokens carry inline host variables.
type Host []string

// Line renders the host as a single space-joined line.
func (h Host) Line() string {
	return strings.Join(h, " ")
}

// Var is one group variable.
type Var struct {
	Key   string
	Value any
}

// Group is one inventory group in declaration order.
type Group struct {
	Name     string
	Hosts    []Host
	Vars     []Var
	Children []string

	// DeclaresVars and DeclaresChildren are set when the keys are present,
	// even if empty.
	DeclaresVars     bool
	DeclaresChildren bool

	// VarsErr is set when vars is not a mapping. Render logs it and emits
	// an empty vars section.
	VarsErr error
}

// Spec is a parsed hosts specification.
type Spec struct {
	Kind   Kind
	Leaf   string
	Hosts  []Host
	Groups []Group
}

// Parse validates the shape of a JSON hosts value and converts it into a
// Spec, keeping the order of groups and variables.
func Parse(raw json.RawMessage) (*Spec, error) {
	if err := validateShape(raw); err != nil {
		return nil, err
	}
	doc, err := decodeOrdered(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSpec, err)
	}

	switch v := doc.(type) {
	case []any:
		hosts, err := parseHosts(v)
		if err != nil {
			return nil, err
		}
		return &Spec{Kind: KindHostList, Hosts: hosts}, nil
	case *object:
		groups := make([]Group, 0, len(v.keys))
		for _, name := range v.keys {
			g, err := parseGroup(name, v.values[name])
			if err != nil {
				return nil, err
			}
			groups = append(groups, g)
		}
		return &Spec{Kind: KindGroups, Groups: groups}, nil
	default:
		return &Spec{Kind: KindLeaf, Leaf: token(v)}, nil
	}
}

// Leaf returns a single-line spec.
func Leaf(line string) *Spec {
	return &Spec{Kind: KindLeaf, Leaf: line}
}

func parseGroup(name string, raw any) (Group, error) {
	g := Group{Name: name}
	switch v := raw.(type) {
	case []any:
		hosts, err := parseHosts(v)
		if err != nil {
			return g, err
		}
		g.Hosts = hosts
	case *object:
		if hosts, ok := v.get("hosts"); ok {
			list, _ := hosts.([]any)
			parsed, err := parseHosts(list)
			if err != nil {
				return g, err
			}
			g.Hosts = parsed
		}
		if vars, ok := v.get("vars"); ok {
			g.DeclaresVars = true
			if obj, ok := vars.(*object); ok {
				for _, k := range obj.keys {
					g.Vars = append(g.Vars, Var{Key: k, Value: obj.values[k]})
				}
			} else {
				g.VarsErr = fmt.Errorf("vars of group %q is not a mapping", name)
			}
		}
		if children, ok := v.get("children"); ok {
			g.DeclaresChildren = true
			list, _ := children.([]any)
			for _, c := range list {
				g.Children = append(g.Children, token(c))
			}
		}
	default:
		g.Hosts = []Host{{token(v)}}
	}
	return g, nil
}

func parseHosts(list []any) ([]Host, error) {
	hosts := make([]Host, 0, len(list))
	for i, item := range list {
		switch v := item.(type) {
		case []any:
			h := make(Host, 0, len(v))
			for _, t := range v {
				h = append(h, token(t))
			}
			hosts = append(hosts, h)
		case *object:
			return nil, fmt.Errorf("%w: host #%d is a mapping", ErrInvalidSpec, i)
		default:
			hosts = append(hosts, Host{token(v)})
		}
	}
	return hosts, nil
}

// token renders a JSON scalar as inventory text.
func token(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func validateShape(raw json.RawMessage) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(shapeSchema, cue.Filename("inventory.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("inventory schema: %w", err)
	}

	val := ctx.CompileBytes(raw, cue.Filename("hosts.json"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSpec, cueerrors.Details(err, nil))
	}

	unified := schema.LookupPath(cue.ParsePath("#Spec")).Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidSpec, cueerrors.Details(err, nil))
	}
	return nil
}
