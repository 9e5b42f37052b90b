package config

import (
	"maps"
	"slices"
	"strings"

	"github.com/openfroyo/playbook-resource/pkg/telemetry"
)

// Result is the outcome of resolving source and params.
type Result struct {
	// Config is the merged configuration handed to the engine.
	Config *Canonical

	// Source and Params are the coerced inputs before merging.
	Source *Canonical
	Params *Canonical

	// Issues lists the fields dropped during coercion.
	Issues []FieldIssue
}

// Resolver merges source and params into one canonical configuration.
type Resolver struct {
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
}

// NewResolver creates a resolver.
func NewResolver(logger *telemetry.Logger, metrics *telemetry.Metrics) *Resolver {
	return &Resolver{
		logger:  logger.NewComponentLogger("resolver"),
		metrics: metrics,
	}
}

// Resolve coerces source against sourceSchema and params against
// paramsSchema, then overlays params on source field by field. extra_vars is
// the exception: both mappings are unioned, params keys winning, and the
// result is wrapped in a one-element list.
//
// Coercion failures drop the affected field and are returned as issues;
// Resolve itself never fails.
func (r *Resolver) Resolve(source, params Values, sourceSchema, paramsSchema FieldSchema) *Result {
	src, srcIssues := r.coerce("source", source, sourceSchema)
	prm, prmIssues := r.coerce("params", params, paramsSchema)

	merged := newCanonical()
	for name, v := range src.values {
		merged.set(name, src.kinds[name], v)
	}
	for name, v := range prm.values {
		merged.set(name, prm.kinds[name], v)
	}

	extra := make(map[string]any)
	if m, ok := src.Map(ExtraVarsField); ok {
		maps.Copy(extra, m)
	}
	if m, ok := prm.Map(ExtraVarsField); ok {
		maps.Copy(extra, m)
	}
	merged.set(ExtraVarsField, KindMapList, []map[string]any{extra})

	issues := append(srcIssues, prmIssues...)
	r.logger.Zerolog().Debug().
		Interface("config", merged.Redacted()).
		Int("issues", len(issues)).
		Msg("configuration resolved")

	return &Result{
		Config: merged,
		Source: src,
		Params: prm,
		Issues: issues,
	}
}

// coerce applies a schema to raw values. Only truthy values are considered.
func (r *Resolver) coerce(origin string, raw Values, schema FieldSchema) (*Canonical, []FieldIssue) {
	out := newCanonical()
	var issues []FieldIssue
	for name, kind := range schema {
		value, ok := raw[name]
		if !ok || !truthy(value) {
			continue
		}
		coerced, err := kind.Coerce(value)
		if err != nil {
			issue := FieldIssue{Origin: origin, Field: name, Kind: kind, Err: err}
			r.logger.WithField("field", name).Error(issue.Error())
			if r.metrics != nil {
				r.metrics.RecordFieldIssue(name)
			}
			issues = append(issues, issue)
			continue
		}
		out.set(name, kind, coerced)
	}
	slices.SortFunc(issues, func(a, b FieldIssue) int {
		return strings.Compare(a.Field, b.Field)
	})
	return out, issues
}
