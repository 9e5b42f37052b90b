// Package source fetches the playbook repository into the build path when
// the put step does not point at an input folder.
//
// The fetcher is picked from the scheme of src_uri: s3:// objects are read
// with the S3 API, sftp:// trees are copied over SSH, and everything else
// git understands (ssh://, https://, git@host:repo, local paths) is cloned.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/openfroyo/playbook-resource/pkg/config"
	"github.com/openfroyo/playbook-resource/pkg/secrets"
	"github.com/openfroyo/playbook-resource/pkg/telemetry"
)

// DefaultBranch is cloned when src_branch is not set.
const DefaultBranch = "master"

var (
	// ErrUnsupportedScheme is returned for src_uri schemes no fetcher serves.
	ErrUnsupportedScheme = errors.New("unsupported source scheme")

	// ErrMissingURI is returned when a fetch is needed but src_uri is empty.
	ErrMissingURI = errors.New("src_uri is required when params carry no src")
)

// Request describes one fetch.
type Request struct {
	// URI is the repository location (src_uri).
	URI string

	// Branch is the git branch (src_branch).
	Branch string

	// PrivateKey is the deploy key (src_private_key).
	PrivateKey string

	// Dest is the folder the tree is written to.
	Dest string
}

// Fetcher retrieves a playbook tree.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) error
}

// Kind names a fetcher.
type Kind string

const (
	KindGit  Kind = "git"
	KindSFTP Kind = "sftp"
	KindS3   Kind = "s3"
)

// scpLike matches git's user@host:path shorthand.
var scpLike = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9.-]+:[^/]`)

// Detect returns the fetcher kind serving uri.
func Detect(uri string) (Kind, error) {
	if uri == "" {
		return "", ErrMissingURI
	}
	if scpLike.MatchString(uri) || !strings.Contains(uri, "://") {
		return KindGit, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid src_uri '%s': %w", uri, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "s3":
		return KindS3, nil
	case "sftp":
		return KindSFTP, nil
	case "git", "ssh", "http", "https", "file", "git+ssh", "ssh+git":
		return KindGit, nil
	default:
		return "", fmt.Errorf("%w '%s'", ErrUnsupportedScheme, u.Scheme)
	}
}

// Dispatcher routes a request to the fetcher serving its URI.
type Dispatcher struct {
	fetchers map[Kind]Fetcher
	logger   *telemetry.Logger
}

// NewDispatcher wires the git, sftp and s3 fetchers. Keys written for the
// fetch are owned by keys.
func NewDispatcher(settings config.FetchSettings, keys *secrets.Set, display io.Writer, logger *telemetry.Logger) *Dispatcher {
	logger = logger.NewComponentLogger("source")
	return &Dispatcher{
		fetchers: map[Kind]Fetcher{
			KindGit:  NewGitFetcher(settings, keys, display, logger),
			KindSFTP: NewSFTPFetcher(settings, logger),
			KindS3:   NewS3Fetcher(settings, logger),
		},
		logger: logger,
	}
}

// Register replaces the fetcher for kind.
func (d *Dispatcher) Register(kind Kind, f Fetcher) {
	d.fetchers[kind] = f
}

// Fetch implements Fetcher.
func (d *Dispatcher) Fetch(ctx context.Context, req Request) error {
	kind, err := Detect(req.URI)
	if err != nil {
		d.logger.WithError(err).Error("cannot fetch playbook source")
		return err
	}
	f, ok := d.fetchers[kind]
	if !ok {
		return fmt.Errorf("%w '%s'", ErrUnsupportedScheme, kind)
	}
	if req.Branch == "" {
		req.Branch = DefaultBranch
	}

	d.logger.Zerolog().Info().
		Str("uri", redactURI(req.URI)).
		Str("fetcher", string(kind)).
		Str("dest", req.Dest).
		Msg("fetching playbook source")

	if err := f.Fetch(ctx, req); err != nil {
		return fmt.Errorf("cannot fetch '%s': %w", redactURI(req.URI), err)
	}
	return nil
}

// redactURI hides a password embedded in the URI.
func redactURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.User == nil {
		return uri
	}
	return u.Redacted()
}
