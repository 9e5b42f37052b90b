// Package secrets writes key material to disk for the duration of a run and
// removes it afterwards.
//
// Every file is owned by a Set. Release undoes what the Set wrote: temporary
// keys are removed and a deploy key that replaced an existing file gets the
// previous content back. Callers defer Release right after NewSet so the
// files never outlive the invocation, whatever the outcome.
package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/playbook-resource/pkg/config"
	"github.com/openfroyo/playbook-resource/pkg/telemetry"
)

// keyFileMode restricts key files to the owner.
const keyFileMode fs.FileMode = 0o600

// entry is one file written by a Set.
type entry struct {
	path     string
	previous []byte
	existed  bool
	mode     fs.FileMode
}

// Set tracks the secret files written during one invocation.
type Set struct {
	mu      sync.Mutex
	entries []entry
	logger  *telemetry.Logger
}

// NewSet creates an empty set.
func NewSet(logger *telemetry.Logger) *Set {
	return &Set{logger: logger.NewComponentLogger("secrets")}
}

// Materialize returns the private key path the engine should use.
//
// An inline privateKey is written to a new temporary "*.key" file with
// owner-only permissions; failing to write it is fatal. Otherwise a
// privateKeyPath is resolved against workDir. With neither, it returns "".
func (s *Set) Materialize(privateKey, privateKeyPath, workDir string) (string, error) {
	switch {
	case privateKey != "":
		path, err := s.writeTemp(normalizeKey(privateKey))
		if err != nil {
			s.logger.WithError(err).Error("cannot create private key file")
			return "", fmt.Errorf("cannot create private key file: %w", err)
		}
		s.inspect(path, privateKey)
		return path, nil
	case privateKeyPath != "":
		return config.JoinPath(workDir, privateKeyPath), nil
	default:
		return "", nil
	}
}

// WriteDeployKey writes the git deploy key to path, expanding a leading
// "~/". An existing file at path is saved and put back by Release.
func (s *Set) WriteDeployKey(path, key string) (string, error) {
	path, err := ExpandHome(path)
	if err != nil {
		return "", err
	}

	e := entry{path: path}
	if info, err := os.Stat(path); err == nil {
		prev, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("cannot save existing deploy key '%s': %w", path, err)
		}
		e.existed, e.previous, e.mode = true, prev, info.Mode().Perm()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("cannot create deploy key folder '%s': %w", filepath.Dir(path), err)
	}
	s.track(e)

	if err := writeKey(path, normalizeKey(key)); err != nil {
		s.logger.WithPath(path).WithError(err).Error("cannot write deploy key")
		return "", fmt.Errorf("cannot write deploy key '%s': %w", path, err)
	}
	s.inspect(path, key)
	return path, nil
}

// Paths returns the files currently held by the set.
func (s *Set) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.path)
	}
	return out
}

// Release removes or restores every file in reverse order of creation. All
// files are attempted; the errors are joined. Release is safe to call twice.
func (s *Set) Release() error {
	s.mu.Lock()
	entries := s.entries
	s.entries = nil
	s.mu.Unlock()

	var errs []error
	for _, e := range slices.Backward(entries) {
		var err error
		if e.existed {
			err = writeKey(e.path, e.previous)
			if err == nil {
				err = os.Chmod(e.path, e.mode)
			}
		} else {
			err = os.Remove(e.path)
			if errors.Is(err, fs.ErrNotExist) {
				err = nil
			}
		}
		if err != nil {
			s.logger.WithPath(e.path).WithError(err).Warn("cannot release secret file")
			errs = append(errs, fmt.Errorf("release '%s': %w", e.path, err))
			continue
		}
		s.logger.WithPath(e.path).Debug("secret file released")
	}
	return errors.Join(errs...)
}

func (s *Set) track(e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *Set) writeTemp(data []byte) (string, error) {
	f, err := os.CreateTemp("", "*.key")
	if err != nil {
		return "", err
	}
	s.track(entry{path: f.Name()})

	if err := f.Chmod(keyFileMode); err != nil {
		f.Close()
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", err
	}
	return f.Name(), f.Close()
}

// inspect logs the key fingerprint. Keys that do not parse are still used;
// the engine reports the real error if it cannot load them.
func (s *Set) inspect(path, key string) {
	logger := s.logger.WithPath(path)
	fp, err := Fingerprint([]byte(key))
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			logger.Debug("private key is passphrase protected")
			return
		}
		logger.WithError(err).Warn("private key does not parse")
		return
	}
	logger.WithField("fingerprint", fp).Info("private key materialized")
}

// Fingerprint returns the SHA256 fingerprint of a PEM private key.
func Fingerprint(key []byte) (string, error) {
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return "", err
	}
	return ssh.FingerprintSHA256(signer.PublicKey()), nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot expand '%s': %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func writeKey(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, keyFileMode)
	if err != nil {
		return err
	}
	if err := f.Chmod(keyFileMode); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// normalizeKey ensures the trailing newline OpenSSH requires.
func normalizeKey(key string) []byte {
	if !strings.HasSuffix(key, "\n") {
		key += "\n"
	}
	return []byte(key)
}
