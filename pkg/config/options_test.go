package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOptionsDefaults(t *testing.T) {
	res := newTestResolver().Resolve(Values{}, Values{}, SourceSchema, ParamsSchema)

	o, err := NewOptions(res.Config, "/w/src/playbook.yml", "/w/src/inventory", "")
	require.NoError(t, err)

	assert.Equal(t, 5, o.Forks)
	assert.Equal(t, "smart", o.Connection)
	assert.Equal(t, "root", o.RemoteUser)
	assert.Equal(t, 10, o.Timeout)
	assert.Equal(t, []string{"all"}, o.Tags)
	assert.Equal(t, "sudo", o.BecomeMethod)
	assert.False(t, o.Become)
}

func TestNewOptionsOverlay(t *testing.T) {
	source := Values{"remote_user": "deploy", "become": "y", "become_pass": "pw"}
	params := Values{"forks": "20", "connection": "ssh", "check": "true", "tags": []any{"web"}}
	res := newTestResolver().Resolve(source, params, SourceSchema, ParamsSchema)

	o, err := NewOptions(res.Config, "site.yml", "inv", "/tmp/k.key")
	require.NoError(t, err)

	assert.Equal(t, "deploy", o.RemoteUser)
	assert.Equal(t, 20, o.Forks)
	assert.Equal(t, "ssh", o.Connection)
	assert.True(t, o.Become)
	assert.True(t, o.Check)
	assert.Equal(t, []string{"web"}, o.Tags)
	assert.Equal(t, "/tmp/k.key", o.PrivateKeyFile)
	assert.NotContains(t, o.String(), "pw")
}

func TestNewOptionsRejectsInvalid(t *testing.T) {
	res := newTestResolver().Resolve(Values{}, Values{"connection": "ssh -o ProxyCommand=x"}, SourceSchema, ParamsSchema)

	_, err := NewOptions(res.Config, "site.yml", "inv", "")
	assert.Error(t, err)

	res = newTestResolver().Resolve(Values{}, Values{"verbosity": 9}, SourceSchema, ParamsSchema)
	_, err = NewOptions(res.Config, "site.yml", "inv", "")
	assert.Error(t, err)
}

func TestNewOptionsAcceptsConnectionPlugins(t *testing.T) {
	for _, plugin := range []string{"network_cli", "httpapi", "kubectl", "community.docker.docker", "ansible.netcommon.network_cli"} {
		t.Run(plugin, func(t *testing.T) {
			res := newTestResolver().Resolve(Values{}, Values{"connection": plugin}, SourceSchema, ParamsSchema)

			o, err := NewOptions(res.Config, "site.yml", "inv", "")
			require.NoError(t, err)
			assert.Equal(t, plugin, o.Connection)
		})
	}
}
