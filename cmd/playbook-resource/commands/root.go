// Package commands implements the playbook-resource command line.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/openfroyo/playbook-resource/pkg/config"
	"github.com/openfroyo/playbook-resource/pkg/telemetry"
)

// IO holds the process streams. Out carries the JSON response only.
type IO struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// BuildInfo describes the binary.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// ExitError carries a nonzero status code out of a command that otherwise
// succeeded.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// app is the state shared by the subcommands of one invocation.
type app struct {
	info       BuildInfo
	configPath string

	settings *config.Settings
	tel      *telemetry.Telemetry
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, streams IO, info BuildInfo) int {
	a := &app{info: info}
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetIn(streams.In)
	root.SetOut(streams.Out)
	root.SetErr(streams.Err)

	err := root.ExecuteContext(ctx)
	if a.tel != nil {
		if shutdownErr := a.tel.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
			a.tel.Logger.WithError(shutdownErr).Warn("cannot flush telemetry")
		}
	}

	var exitErr *ExitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exitErr):
		return exitErr.Code
	default:
		if a.tel != nil {
			a.tel.Logger.WithError(err).Error("command failed")
		} else {
			fmt.Fprintln(streams.Err, "error:", err)
		}
		return 1
	}
}

func newRootCommand(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "playbook-resource",
		Short: "Pipeline resource running Ansible playbooks",
		Long: `playbook-resource runs ansible-playbook on put.

The source configuration carries the repository location, credentials and
default options; put params choose the playbook, inventory and flags of one
run. The response metadata summarizes the play recap per host.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", a.info.Version, a.info.Commit, a.info.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "settings file path")

	rootCmd.AddCommand(newOutCommand(a))
	rootCmd.AddCommand(newInCommand(a))
	rootCmd.AddCommand(newCheckCommand(a))
	rootCmd.AddCommand(newVersionCommand(a))

	return rootCmd
}

// setup loads the settings and telemetry once per invocation.
func (a *app) setup() error {
	if a.tel != nil {
		return nil
	}
	settings, err := config.LoadSettings(a.configPath)
	if err != nil {
		return err
	}
	settings.Telemetry.ServiceVersion = a.info.Version

	tel, err := telemetry.NewTelemetry(&settings.Telemetry)
	if err != nil {
		return fmt.Errorf("cannot initialize telemetry: %w", err)
	}
	a.settings = settings
	a.tel = tel
	return nil
}
