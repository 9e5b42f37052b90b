package source

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/openfroyo/playbook-resource/pkg/config"
	"github.com/openfroyo/playbook-resource/pkg/secrets"
	"github.com/openfroyo/playbook-resource/pkg/telemetry"
)

// GitFetcher clones a branch with the git command line.
type GitFetcher struct {
	binary    string
	deployKey string
	keys      *secrets.Set
	display   io.Writer
	logger    *telemetry.Logger
}

// NewGitFetcher creates a git fetcher. Git progress goes to display.
func NewGitFetcher(settings config.FetchSettings, keys *secrets.Set, display io.Writer, logger *telemetry.Logger) *GitFetcher {
	return &GitFetcher{
		binary:    settings.GitBinary,
		deployKey: settings.DeployKeyPath,
		keys:      keys,
		display:   display,
		logger:    logger.WithField("fetcher", string(KindGit)),
	}
}

// Fetch implements Fetcher. A deploy key is written to the well-known
// location first and handed to ssh explicitly.
func (g *GitFetcher) Fetch(ctx context.Context, req Request) error {
	binary, err := exec.LookPath(g.binary)
	if err != nil {
		return fmt.Errorf("cannot find git: %w", err)
	}

	env := os.Environ()
	if req.PrivateKey != "" {
		keyPath, err := g.keys.WriteDeployKey(g.deployKey, req.PrivateKey)
		if err != nil {
			return err
		}
		env = append(env, "GIT_SSH_COMMAND="+sshCommand(keyPath))
	}

	cmd := exec.CommandContext(ctx, binary, "clone", "--branch", req.Branch, "--", req.URI, req.Dest)
	cmd.Env = append(env, "GIT_TERMINAL_PROMPT=0")
	cmd.Stdout = g.display
	cmd.Stderr = g.display

	if err := cmd.Run(); err != nil {
		g.logger.WithError(err).Error("git clone failed")
		return fmt.Errorf("git clone: %w", err)
	}
	g.logger.WithPath(req.Dest).WithField("branch", req.Branch).Info("repository cloned")
	return nil
}

func sshCommand(keyPath string) string {
	return fmt.Sprintf("ssh -i '%s' -o IdentitiesOnly=yes -o StrictHostKeyChecking=accept-new", keyPath)
}
