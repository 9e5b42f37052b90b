package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig("git.example.com", "deploy")

	assert.Equal(t, "git.example.com:22", c.Address())
	assert.Equal(t, AuthMethodKey, c.AuthMethod)
	assert.True(t, c.StrictHostKeyChecking)
	assert.Equal(t, defaultTimeout, c.ConnectionTimeout)
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]struct {
		mutate  func(*Config)
		wantErr string
	}{
		"password":            {mutate: func(c *Config) { c.AuthMethod, c.Password = AuthMethodPassword, "pw" }},
		"inline key":          {mutate: func(c *Config) { c.PrivateKey = []byte("k") }},
		"no host":             {mutate: func(c *Config) { c.Host = "" }, wantErr: "host is required"},
		"port out of range":   {mutate: func(c *Config) { c.Port = 70000 }, wantErr: "invalid port"},
		"no user":             {mutate: func(c *Config) { c.User = "" }, wantErr: "user is required"},
		"empty password":      {mutate: func(c *Config) { c.AuthMethod = AuthMethodPassword }, wantErr: "password is required"},
		"no key at all":       {mutate: func(c *Config) {}, wantErr: "private key is required"},
		"key file missing":    {mutate: func(c *Config) { c.PrivateKeyPath = "/nonexistent/id" }, wantErr: "private key file not found"},
		"agent auth":          {mutate: func(c *Config) { c.AuthMethod = "agent" }, wantErr: "unsupported auth method"},
		"zero timeout":        {mutate: func(c *Config) { c.PrivateKey, c.ConnectionTimeout = []byte("k"), 0 }, wantErr: "timeout must be positive"},
		"strict without file": {mutate: func(c *Config) { c.PrivateKey, c.KnownHostsPath = []byte("k"), "" }, wantErr: "known_hosts path is required"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig("git.example.com", "deploy")
			tc.mutate(c)
			err := c.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestAddressIPv6(t *testing.T) {
	c := DefaultConfig("::1", "deploy")
	c.Port = 2222
	assert.Equal(t, "[::1]:2222", c.Address())
}

func TestBuildSSHClientConfig(t *testing.T) {
	insecure := func(mutate func(*Config)) *Config {
		c := DefaultConfig("git.example.com", "deploy")
		c.StrictHostKeyChecking = false
		mutate(c)
		return c
	}

	t.Run("password adds keyboard-interactive", func(t *testing.T) {
		cc, err := insecure(func(c *Config) { c.AuthMethod, c.Password = AuthMethodPassword, "pw" }).BuildSSHClientConfig()
		require.NoError(t, err)
		assert.Equal(t, "deploy", cc.User)
		assert.Len(t, cc.Auth, 2)
	})

	t.Run("key file", func(t *testing.T) {
		keyPath := filepath.Join(t.TempDir(), "id_ed25519")
		require.NoError(t, os.WriteFile(keyPath, testKeyPEM(t), 0o600))

		cc, err := insecure(func(c *Config) { c.PrivateKeyPath = keyPath }).BuildSSHClientConfig()
		require.NoError(t, err)
		assert.Len(t, cc.Auth, 1)
	})

	t.Run("inline key wins over path", func(t *testing.T) {
		_, err := insecure(func(c *Config) {
			c.PrivateKey = testKeyPEM(t)
			c.PrivateKeyPath = "/nonexistent/id"
		}).BuildSSHClientConfig()
		assert.NoError(t, err)
	})

	t.Run("unparsable key", func(t *testing.T) {
		_, err := insecure(func(c *Config) { c.PrivateKey = []byte("not a key") }).BuildSSHClientConfig()
		assert.ErrorContains(t, err, "parse private key")
	})

	t.Run("known_hosts missing", func(t *testing.T) {
		c := DefaultConfig("git.example.com", "deploy")
		c.PrivateKey = testKeyPEM(t)
		c.KnownHostsPath = filepath.Join(t.TempDir(), "known_hosts")
		_, err := c.BuildSSHClientConfig()
		assert.ErrorContains(t, err, "load known_hosts")
	})
}

func testKeyPEM(t *testing.T) []byte {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(key, "")
	require.NoError(t, err)
	return pem.EncodeToMemory(block)
}
