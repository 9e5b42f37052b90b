package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/playbook-resource/pkg/telemetry"
)

// startSFTPServer serves the sftp subsystem on a loopback port. It accepts
// deploy/hunter2 and any public key.
func startSFTPServer(t *testing.T) (string, int) {
	t.Helper()

	_, hostKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(hostKey)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "deploy" && string(pass) == "hunter2" {
				return nil, nil
			}
			return nil, errors.New("denied")
		},
		PublicKeyCallback: func(ssh.ConnMetadata, ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveConn(conn, cfg)
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func serveConn(conn net.Conn, cfg *ssh.ServerConfig) {
	defer conn.Close()
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	defer sconn.Close()
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			continue
		}
		go serveSFTP(ch, requests)
	}
}

func serveSFTP(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
		if req.WantReply {
			_ = req.Reply(ok, nil)
		}
		if !ok {
			continue
		}
		srv, err := sftp.NewServer(ch)
		if err != nil {
			return
		}
		_ = srv.Serve()
		_ = srv.Close()
		return
	}
}

func newTestClient(t *testing.T, mutate func(*Config)) *SSHClient {
	t.Helper()
	host, port := startSFTPServer(t)

	cfg := DefaultConfig(host, "deploy")
	cfg.Port = port
	cfg.AuthMethod = AuthMethodPassword
	cfg.Password = "hunter2"
	cfg.StrictHostKeyChecking = false
	cfg.ConnectionTimeout = 5 * time.Second
	if mutate != nil {
		mutate(cfg)
	}

	client, err := NewSSHClient(cfg, telemetry.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect() })
	return client
}

func TestConnectIsIdempotent(t *testing.T) {
	client := newTestClient(t, nil)

	require.NoError(t, client.Connect(context.Background()))
	assert.True(t, client.IsConnected())
	require.NoError(t, client.Connect(context.Background()))
}

func TestConnectRejectedPassword(t *testing.T) {
	client := newTestClient(t, func(c *Config) { c.Password = "wrong" })

	err := client.Connect(context.Background())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.True(t, terr.IsAuth())
	assert.False(t, terr.Temporary())
	assert.False(t, client.IsConnected())
}

func TestConnectWithInlineKey(t *testing.T) {
	client := newTestClient(t, func(c *Config) {
		c.AuthMethod = AuthMethodKey
		c.PrivateKey = testKeyPEM(t)
	})

	require.NoError(t, client.Connect(context.Background()))
	assert.True(t, client.IsConnected())
}

func TestConnectUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	cfg := DefaultConfig("127.0.0.1", "deploy")
	cfg.Port = port
	cfg.AuthMethod, cfg.Password = AuthMethodPassword, "hunter2"
	cfg.StrictHostKeyChecking = false
	client, err := NewSSHClient(cfg, telemetry.NopLogger())
	require.NoError(t, err)

	err = client.Connect(context.Background())
	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.True(t, terr.Temporary())
}

func TestDisconnectTwice(t *testing.T) {
	client := newTestClient(t, nil)
	require.NoError(t, client.Connect(context.Background()))

	require.NoError(t, client.Disconnect())
	assert.False(t, client.IsConnected())
	assert.NoError(t, client.Disconnect())
}

func TestDownloadRequiresConnection(t *testing.T) {
	client := newTestClient(t, nil)

	err := client.DownloadFile(context.Background(), "/etc/hostname", filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, errNotConnected)
}

func TestDownloadDirectoryMirrorsTree(t *testing.T) {
	client := newTestClient(t, nil)

	remote := t.TempDir()
	tree := map[string]string{
		"site.yml":                 "- hosts: all\n",
		"roles/web/tasks/main.yml": "- ping:\n",
		"inventory/ec2.py":         "#!/usr/bin/env python\n",
	}
	for name, body := range tree {
		p := filepath.Join(remote, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	require.NoError(t, os.Chmod(filepath.Join(remote, "inventory", "ec2.py"), 0o755))

	require.NoError(t, client.Connect(context.Background()))

	local := filepath.Join(t.TempDir(), "src")
	require.NoError(t, client.DownloadDirectory(context.Background(), filepath.ToSlash(remote), local))

	for name, body := range tree {
		got, err := os.ReadFile(filepath.Join(local, filepath.FromSlash(name)))
		require.NoError(t, err, name)
		assert.Equal(t, body, string(got), name)
	}
	info, err := os.Stat(filepath.Join(local, "inventory", "ec2.py"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100, "dynamic inventory must stay executable")
}

func TestDownloadDirectoryCancelled(t *testing.T) {
	client := newTestClient(t, nil)
	remote := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(remote, "site.yml"), []byte("-"), 0o644))
	require.NoError(t, client.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, client.DownloadDirectory(ctx, remote, t.TempDir()), context.Canceled)
}

func TestRelativePath(t *testing.T) {
	cases := []struct {
		base, target, want string
		wantErr            bool
	}{
		{"/srv/repo", "/srv/repo", ".", false},
		{"/srv/repo", "/srv/repo/roles/a.yml", "roles/a.yml", false},
		{"/srv/repo/", "/srv/repo/a", "a", false},
		{"/", "/a/b", "a/b", false},
		{"/srv/repo", "/srv/repository/a", "", true},
	}
	for _, tc := range cases {
		got, err := relativePath(tc.base, tc.target)
		if tc.wantErr {
			assert.Error(t, err, tc.target)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}
