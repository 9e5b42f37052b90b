package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/playbook-resource/pkg/telemetry"
)

func newTestResolver() *Resolver {
	return NewResolver(telemetry.NopLogger(), nil)
}

func TestBoolCoercion(t *testing.T) {
	tests := []struct {
		raw  any
		want bool
	}{
		{"Yes", true},
		{"yes", true},
		{"Y", true},
		{"1", true},
		{"true", true},
		{"TRUE", true},
		{true, true},
		{1, true},
		{"no", false},
		{"on", false},
		{"enabled", false},
		{"2", false},
		{"tru", false},
	}

	for _, tt := range tests {
		got, err := KindBool.Coerce(tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "Coerce(%#v)", tt.raw)
	}
}

func TestIntCoercion(t *testing.T) {
	got, err := KindInt.Coerce("12")
	require.NoError(t, err)
	assert.Equal(t, 12, got)

	got, err = KindInt.Coerce(float64(7))
	require.NoError(t, err)
	assert.Equal(t, 7, got)

	_, err = KindInt.Coerce("ten")
	assert.ErrorIs(t, err, ErrCoercion)

	_, err = KindInt.Coerce(map[string]any{"a": 1})
	assert.ErrorIs(t, err, ErrCoercion)
}

func TestStringsCoercion(t *testing.T) {
	got, err := KindStrings.Coerce([]any{"web", 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"web", "2"}, got)

	got, err = KindStrings.Coerce("deploy")
	require.NoError(t, err)
	assert.Equal(t, []string{"deploy"}, got)

	_, err = KindStrings.Coerce([]any{map[string]any{}})
	assert.ErrorIs(t, err, ErrCoercion)
}

func TestResolveParamsOverrideSource(t *testing.T) {
	source := Values{
		"remote_user": "deploy",
		"forks":       "10",
		"become":      "yes",
		"tags":        []any{"base"},
	}
	params := Values{
		"remote_user": "admin",
		"playbook":    "site.yml",
		"become":      "no",
	}

	res := newTestResolver().Resolve(source, params, SourceSchema, ParamsSchema)
	require.Empty(t, res.Issues)

	assert.Equal(t, "admin", res.Config.StringOr("remote_user", ""))
	assert.Equal(t, "site.yml", res.Config.StringOr("playbook", ""))

	forks, ok := res.Config.Int("forks")
	require.True(t, ok)
	assert.Equal(t, 10, forks)

	become, ok := res.Config.Bool("become")
	require.True(t, ok)
	assert.False(t, become)

	tags, ok := res.Config.Strings("tags")
	require.True(t, ok)
	assert.Equal(t, []string{"base"}, tags)
}

func TestResolveExtraVarsUnion(t *testing.T) {
	source := Values{"extra_vars": map[string]any{"a": 1, "b": 2}}
	params := Values{"extra_vars": map[string]any{"b": 3, "c": 4}}

	res := newTestResolver().Resolve(source, params, SourceSchema, ParamsSchema)

	assert.Equal(t, []map[string]any{{"a": 1, "b": 3, "c": 4}}, res.Config.ExtraVars())

	// Inputs are left untouched.
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, source["extra_vars"])
	assert.Equal(t, map[string]any{"b": 3, "c": 4}, params["extra_vars"])
}

func TestResolveExtraVarsAlwaysWrapped(t *testing.T) {
	res := newTestResolver().Resolve(Values{}, Values{}, SourceSchema, ParamsSchema)

	kind, ok := res.Config.Kind(ExtraVarsField)
	require.True(t, ok)
	assert.Equal(t, KindMapList, kind)
	assert.Equal(t, []map[string]any{{}}, res.Config.ExtraVars())
}

func TestResolveIsIdempotent(t *testing.T) {
	source := Values{
		"remote_user": "deploy",
		"extra_vars":  map[string]any{"env": "prod"},
		"inventory":   map[string]any{"hosts": "localhost"},
		"skip_tags":   []any{"slow"},
	}
	params := Values{
		"forks":      3,
		"extra_vars": map[string]any{"release": "v2"},
	}

	r := newTestResolver()
	first := r.Resolve(source, params, SourceSchema, ParamsSchema)
	second := r.Resolve(source, params, SourceSchema, ParamsSchema)

	assert.True(t, first.Config.Equal(second.Config))
	assert.Equal(t, first.Config.Fields(), second.Config.Fields())
}

func TestResolveDropsUncoercibleField(t *testing.T) {
	source := Values{"forks": "many", "remote_user": "deploy"}
	params := Values{"timeout": []any{1}}

	res := newTestResolver().Resolve(source, params, SourceSchema, ParamsSchema)

	require.Len(t, res.Issues, 2)
	assert.Equal(t, "forks", res.Issues[0].Field)
	assert.Equal(t, "source", res.Issues[0].Origin)
	assert.Equal(t, "timeout", res.Issues[1].Field)
	assert.Equal(t, "params", res.Issues[1].Origin)
	assert.ErrorIs(t, res.Issues[0].Err, ErrCoercion)

	assert.False(t, res.Config.Has("forks"))
	assert.False(t, res.Config.Has("timeout"))
	assert.True(t, res.Config.Has("remote_user"))
}

func TestResolveSkipsFalsyAndUnknownFields(t *testing.T) {
	source := Values{"remote_user": "", "forks": 0, "unknown": "x"}

	res := newTestResolver().Resolve(source, Values{}, SourceSchema, ParamsSchema)

	assert.False(t, res.Config.Has("remote_user"))
	assert.False(t, res.Config.Has("forks"))
	assert.False(t, res.Config.Has("unknown"))
}

func TestRedactedMasksSecrets(t *testing.T) {
	source := Values{"vault_password": "s3cret", "remote_user": "deploy"}

	res := newTestResolver().Resolve(source, Values{}, SourceSchema, ParamsSchema)
	red := res.Config.Redacted()

	assert.NotEqual(t, "s3cret", red["vault_password"])
	assert.Equal(t, "deploy", red["remote_user"])
}
