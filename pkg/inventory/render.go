package inventory

import (
	"bytes"
	"fmt"
	"strings"
)

// renderVar renders one group variable as key='value'. A value holding a
// single quote is double quoted instead. Line breaks cannot be expressed
// in an INI line and are refused.
func renderVar(v Var) (string, error) {
	var value string
	switch t := v.Value.(type) {
	case *object, []any:
		var buf bytes.Buffer
		if err := encodeOrdered(&buf, t); err != nil {
			return "", err
		}
		value = buf.String()
	default:
		value = token(t)
	}
	if strings.ContainsAny(v.Key, "= \t\n") || v.Key == "" {
		return "", fmt.Errorf("invalid variable name %q", v.Key)
	}
	if strings.ContainsAny(value, "\n\r") {
		return "", fmt.Errorf("value of %q spans several lines", v.Key)
	}
	if !strings.Contains(value, "'") {
		return fmt.Sprintf("%s='%s'", v.Key, value), nil
	}
	return fmt.Sprintf("%s=\"%s\"", v.Key, doubleQuoteEscaper.Replace(value)), nil
}

var doubleQuoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// orderGroups puts groups declaring children ahead of the others, keeping
// declaration order within both partitions.
func orderGroups(groups []Group) []Group {
	out := make([]Group, 0, len(groups))
	for _, g := range groups {
		if g.DeclaresChildren {
			out = append(out, g)
		}
	}
	for _, g := range groups {
		if !g.DeclaresChildren {
			out = append(out, g)
		}
	}
	return out
}

// Render produces the inventory text for spec. Sections are separated by
// one blank line. A variable that cannot be rendered is logged and ends its
// group's vars section early; rendering goes on with the next section.
func (b *Builder) Render(spec *Spec) string {
	var sections [][]string

	switch spec.Kind {
	case KindLeaf:
		sections = append(sections, []string{spec.Leaf})

	case KindHostList:
		sections = append(sections, hostLines(nil, spec.Hosts))

	case KindGroups:
		for _, g := range orderGroups(spec.Groups) {
			sections = append(sections, hostLines([]string{"[" + g.Name + "]"}, g.Hosts))

			if g.DeclaresVars {
				lines := []string{"[" + g.Name + ":vars]"}
				if g.VarsErr != nil {
					b.logger.WithField("group", g.Name).WithError(g.VarsErr).Error("inventory vars exception")
				}
				for _, v := range g.Vars {
					line, err := renderVar(v)
					if err != nil {
						b.logger.WithField("group", g.Name).WithError(err).Error("inventory vars exception")
						break
					}
					lines = append(lines, line)
				}
				sections = append(sections, lines)
			}

			if g.DeclaresChildren {
				lines := []string{"[" + g.Name + ":children]"}
				lines = append(lines, g.Children...)
				sections = append(sections, lines)
			}
		}
	}

	var sb strings.Builder
	for i, section := range sections {
		if i > 0 {
			sb.WriteByte('\n')
		}
		for _, line := range section {
			sb.WriteString(line)
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func hostLines(lines []string, hosts []Host) []string {
	for _, h := range hosts {
		lines = append(lines, h.Line())
	}
	return lines
}
