// Package ssh fetches playbook trees from remote hosts over SSH and SFTP.
package ssh

import (
	"context"
)

// Transport is the remote side of an sftp:// playbook source.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool

	// DownloadFile copies one remote file, keeping its permission bits.
	DownloadFile(ctx context.Context, remotePath, localPath string) error

	// DownloadDirectory mirrors remotePath below localPath.
	DownloadDirectory(ctx context.Context, remotePath, localPath string) error
}

// ErrorKind classifies a TransportError.
type ErrorKind int

const (
	// KindLocal covers failures on this side: bad config, disk writes.
	KindLocal ErrorKind = iota
	// KindAuth means the server rejected our credentials or key.
	KindAuth
	// KindNetwork covers dial, handshake and transfer failures.
	KindNetwork
)

// TransportError reports which step of a fetch failed.
type TransportError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func opError(op string, kind ErrorKind, err error) *TransportError {
	return &TransportError{Op: op, Kind: kind, Err: err}
}

func (e *TransportError) Error() string {
	return "sftp " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the fetch may succeed.
func (e *TransportError) Temporary() bool {
	return e.Kind == KindNetwork
}

// IsAuth reports whether credentials were rejected.
func (e *TransportError) IsAuth() bool {
	return e.Kind == KindAuth
}
