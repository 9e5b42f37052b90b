package ssh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// DownloadFile copies remotePath to localPath. The remote permission bits
// are kept so executable dynamic inventories still run.
func (c *SSHClient) DownloadFile(ctx context.Context, remotePath, localPath string) error {
	s, err := c.session()
	if err != nil {
		return err
	}

	started := time.Now()
	src, err := s.Open(remotePath)
	if err != nil {
		return opError("download", KindNetwork, fmt.Errorf("open %s: %w", remotePath, err))
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return opError("download", KindNetwork, fmt.Errorf("stat %s: %w", remotePath, err))
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return opError("download", KindLocal, err)
	}
	dst, err := os.OpenFile(localPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm()|0o600)
	if err != nil {
		return opError("download", KindLocal, err)
	}
	defer dst.Close()

	digest := sha256.New()
	n, err := io.Copy(io.MultiWriter(dst, digest), ctxReader{ctx: ctx, r: src})
	if err != nil {
		return opError("download", KindNetwork, fmt.Errorf("copy %s: %w", remotePath, err))
	}

	c.logger.Zerolog().Debug().
		Str("remote", remotePath).
		Int64("bytes", n).
		Str("sha256", hex.EncodeToString(digest.Sum(nil))).
		Dur("took", time.Since(started)).
		Msg("source file copied")
	return nil
}

// DownloadDirectory walks remotePath and mirrors every entry below
// localPath.
func (c *SSHClient) DownloadDirectory(ctx context.Context, remotePath, localPath string) error {
	s, err := c.session()
	if err != nil {
		return err
	}

	count := 0
	walker := s.Walk(remotePath)
	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := walker.Err(); err != nil {
			return opError("download-dir", KindNetwork, err)
		}

		rel, err := relativePath(remotePath, walker.Path())
		if err != nil {
			return opError("download-dir", KindLocal, err)
		}
		target := filepath.Join(localPath, filepath.FromSlash(rel))

		if walker.Stat().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return opError("download-dir", KindLocal, err)
			}
			continue
		}
		if err := c.DownloadFile(ctx, walker.Path(), target); err != nil {
			return err
		}
		count++
	}

	c.logger.Zerolog().Info().Str("remote", remotePath).Int("files", count).Msg("source tree copied")
	return nil
}

// relativePath is target relative to base; remote paths are always
// slash separated.
func relativePath(base, target string) (string, error) {
	base, target = path.Clean(base), path.Clean(target)
	if base == target {
		return ".", nil
	}
	prefix := strings.TrimSuffix(base, "/") + "/"
	rel, ok := strings.CutPrefix(target, prefix)
	if !ok || rel == "" {
		return "", fmt.Errorf("%s is outside %s", target, base)
	}
	return rel, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
