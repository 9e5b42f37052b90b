package engine

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/openfroyo/playbook-resource/pkg/config"
)

// Environment variables the engine reads secrets from. The values are
// referenced through env lookups in extra vars so they never appear on
// the command line.
const (
	EnvBecomePassword = "PLAYBOOK_RESOURCE_BECOME_PASSWORD"
	EnvRemotePassword = "PLAYBOOK_RESOURCE_REMOTE_PASSWORD"
)

// Command is a prepared engine invocation.
type Command struct {
	// Args are the ansible-playbook arguments, playbook last.
	Args []string

	// Env holds the variables added to the engine environment.
	Env map[string]string

	// Stdin is fed to the engine. It carries the vault password.
	Stdin string
}

// BuildCommand translates options into an ansible-playbook invocation.
// vaultCommand is the executable handed to --vault-password-file; it must
// echo its stdin.
func BuildCommand(opts *config.Options, vaultCommand string) (*Command, error) {
	c := &Command{Env: make(map[string]string)}
	args := []string{
		"-i", opts.Inventory,
		"-u", opts.RemoteUser,
		"-c", opts.Connection,
		"-T", strconv.Itoa(opts.Timeout),
		"-f", strconv.Itoa(opts.Forks),
	}

	if opts.PrivateKeyFile != "" {
		args = append(args, "--private-key", opts.PrivateKeyFile)
	}
	if opts.Verbosity > 0 {
		args = append(args, "-"+strings.Repeat("v", opts.Verbosity))
	}
	if opts.Become {
		args = append(args, "--become",
			"--become-method", opts.BecomeMethod,
			"--become-user", opts.BecomeUser)
	}
	if opts.SSHCommonArgs != "" {
		args = append(args, "--ssh-common-args", opts.SSHCommonArgs)
	}
	if opts.SSHExtraArgs != "" {
		args = append(args, "--ssh-extra-args", opts.SSHExtraArgs)
	}
	if len(opts.Tags) > 0 {
		args = append(args, "--tags", strings.Join(opts.Tags, ","))
	}
	if len(opts.SkipTags) > 0 {
		args = append(args, "--skip-tags", strings.Join(opts.SkipTags, ","))
	}
	if opts.Limit != "" {
		args = append(args, "--limit", opts.Limit)
	}
	if opts.StartAtTask != "" {
		args = append(args, "--start-at-task", opts.StartAtTask)
	}

	flags := []struct {
		set  bool
		flag string
	}{
		{opts.Check, "--check"},
		{opts.Diff, "--diff"},
		{opts.FlushCache, "--flush-cache"},
		{opts.ForceHandlers, "--force-handlers"},
	}
	for _, f := range flags {
		if f.set {
			args = append(args, f.flag)
		}
	}

	for i, vars := range opts.ExtraVars {
		if len(vars) == 0 {
			continue
		}
		data, err := json.Marshal(vars)
		if err != nil {
			return nil, fmt.Errorf("cannot encode extra vars #%d: %w", i, err)
		}
		args = append(args, "-e", string(data))
	}

	secrets := make(map[string]any)
	if opts.BecomePass != "" {
		c.Env[EnvBecomePassword] = opts.BecomePass
		secrets["ansible_become_password"] = envLookup(EnvBecomePassword)
	}
	if opts.RemotePass != "" {
		c.Env[EnvRemotePassword] = opts.RemotePass
		secrets["ansible_password"] = envLookup(EnvRemotePassword)
	}
	if len(secrets) > 0 {
		data, err := json.Marshal(secrets)
		if err != nil {
			return nil, fmt.Errorf("cannot encode connection passwords: %w", err)
		}
		args = append(args, "-e", string(data))
	}

	if opts.VaultPassword != "" {
		args = append(args, "--vault-password-file", vaultCommand)
		c.Stdin = opts.VaultPassword + "\n"
	}

	c.Args = append(args, opts.Playbook)
	return c, nil
}

// Environ returns the engine environment: base plus the command variables.
func (c *Command) Environ(base []string) []string {
	env := slices.Clone(base)
	for _, k := range slices.Sorted(maps.Keys(c.Env)) {
		env = append(env, k+"="+c.Env[k])
	}
	return env
}

// Redacted returns the arguments suitable for logging.
func (c *Command) Redacted() string {
	return strings.Join(c.Args, " ")
}

func envLookup(name string) string {
	return fmt.Sprintf("{{ lookup('env', '%s') }}", name)
}
