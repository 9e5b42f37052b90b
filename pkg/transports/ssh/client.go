package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/playbook-resource/pkg/telemetry"
)

var errNotConnected = errors.New("not connected")

// SSHClient is a Transport over one SSH connection with a lazily opened
// SFTP session.
type SSHClient struct {
	config *Config
	logger *telemetry.Logger

	mu   sync.Mutex
	conn *ssh.Client
	sftp *sftp.Client
}

var _ Transport = (*SSHClient)(nil)

// NewSSHClient validates config and returns an unconnected client.
func NewSSHClient(config *Config, logger *telemetry.Logger) (*SSHClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &SSHClient{
		config: config,
		logger: logger.NewComponentLogger("ssh").WithField("host", config.Address()),
	}, nil
}

// Connect dials and authenticates. It is a no-op when already connected.
func (c *SSHClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return opError("connect", KindAuth, err)
	}

	addr := c.config.Address()
	c.logger.Debug("dialing source host")

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return opError("connect", KindNetwork, err)
	}

	// the handshake does not watch ctx
	stop := context.AfterFunc(ctx, func() { _ = netConn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, clientConfig)
	if err != nil {
		_ = netConn.Close()
		return opError("connect", handshakeKind(ctx, err), firstErr(ctx.Err(), err))
	}

	c.conn = ssh.NewClient(sshConn, chans, reqs)
	c.logger.Info("connected to source host")
	return nil
}

// handshakeKind separates rejected credentials from broken connections.
// x/crypto reports client auth failure as a plain error.
func handshakeKind(ctx context.Context, err error) ErrorKind {
	if ctx.Err() != nil {
		return KindNetwork
	}
	var authErr *ssh.ServerAuthError
	if errors.As(err, &authErr) || strings.Contains(err.Error(), "unable to authenticate") {
		return KindAuth
	}
	return KindNetwork
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Disconnect closes the SFTP session and the connection. Calling it twice
// is harmless.
func (c *SSHClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	var errs []error
	if c.sftp != nil {
		errs = append(errs, c.sftp.Close())
	}
	errs = append(errs, c.conn.Close())
	c.sftp, c.conn = nil, nil
	c.logger.Debug("disconnected from source host")

	if err := errors.Join(errs...); err != nil {
		return opError("disconnect", KindNetwork, err)
	}
	return nil
}

func (c *SSHClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *SSHClient) session() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, opError("sftp-init", KindLocal, errNotConnected)
	}
	if c.sftp == nil {
		s, err := sftp.NewClient(c.conn)
		if err != nil {
			return nil, opError("sftp-init", KindNetwork, err)
		}
		c.sftp = s
	}
	return c.sftp, nil
}
