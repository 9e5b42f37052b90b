package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/openfroyo/playbook-resource/pkg/config"
	"github.com/openfroyo/playbook-resource/pkg/telemetry"
)

// S3Fetcher downloads every object under a prefix.
//
// URIs look like s3://bucket/prefix. Credentials come from the standard
// AWS_* or MINIO_* environment variables.
type S3Fetcher struct {
	endpoint string
	region   string
	secure   bool
	logger   *telemetry.Logger
}

// NewS3Fetcher creates an s3 fetcher for the configured endpoint.
func NewS3Fetcher(settings config.FetchSettings, logger *telemetry.Logger) *S3Fetcher {
	return &S3Fetcher{
		endpoint: settings.S3Endpoint,
		region:   settings.S3Region,
		secure:   !settings.S3Insecure,
		logger:   logger.WithField("fetcher", string(KindS3)),
	}
}

// Fetch implements Fetcher.
func (f *S3Fetcher) Fetch(ctx context.Context, req Request) error {
	bucket, prefix, err := parseS3URI(req.URI)
	if err != nil {
		return err
	}

	client, err := minio.New(f.endpoint, &minio.Options{
		Creds: credentials.NewChainCredentials([]credentials.Provider{
			&credentials.EnvAWS{},
			&credentials.EnvMinio{},
		}),
		Secure: f.secure,
		Region: f.region,
	})
	if err != nil {
		return fmt.Errorf("init s3 client: %w", err)
	}

	count := 0
	for obj := range client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("list s3://%s/%s: %w", bucket, prefix, obj.Err)
		}
		local, ok, err := objectPath(req.Dest, prefix, obj.Key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := f.download(ctx, client, bucket, obj.Key, local); err != nil {
			return err
		}
		count++
	}

	if count == 0 {
		return fmt.Errorf("no objects under s3://%s/%s", bucket, prefix)
	}
	f.logger.Zerolog().Info().
		Str("bucket", bucket).
		Str("prefix", prefix).
		Int("objects", count).
		Msg("objects downloaded")
	return nil
}

func (f *S3Fetcher) download(ctx context.Context, client *minio.Client, bucket, key, local string) error {
	obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(local), err)
	}
	out, err := os.Create(local)
	if err != nil {
		return fmt.Errorf("create %s: %w", local, err)
	}
	if _, err := io.Copy(out, obj); err != nil {
		out.Close()
		return fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
	}
	return out.Close()
}

// parseS3URI splits s3://bucket/prefix. A non-empty prefix always ends
// with a slash so sibling keys sharing the prefix are not matched.
func parseS3URI(uri string) (string, string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("invalid src_uri: %w", err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("src_uri has no bucket")
	}
	prefix := strings.TrimPrefix(u.Path, "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return u.Host, prefix, nil
}

// objectPath maps an object key to a local file under dest. Folder markers
// are skipped; keys escaping dest are refused.
func objectPath(dest, prefix, key string) (string, bool, error) {
	rel := strings.TrimPrefix(key, prefix)
	if rel == "" || strings.HasSuffix(rel, "/") {
		return "", false, nil
	}
	clean := path.Clean("/" + rel)
	if clean != "/"+rel {
		return "", false, fmt.Errorf("refusing object key %q", key)
	}
	return filepath.Join(dest, filepath.FromSlash(clean[1:])), true, nil
}
