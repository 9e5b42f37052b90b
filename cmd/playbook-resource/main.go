// Command playbook-resource is a pipeline resource that runs an Ansible
// playbook on put.
//
// The binary is installed once and linked as /opt/resource/check, in and
// out; the name it is invoked under selects the verb.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/openfroyo/playbook-resource/cmd/playbook-resource/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := verbArgs(filepath.Base(os.Args[0]), os.Args[1:])
	code := commands.Execute(ctx, args, commands.IO{
		In:  os.Stdin,
		Out: os.Stdout,
		Err: os.Stderr,
	}, commands.BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})

	stop()
	os.Exit(code)
}

// verbArgs turns an invocation through a check, in or out link into the
// matching subcommand.
func verbArgs(name string, args []string) []string {
	switch name {
	case "check", "in", "out":
		return append([]string{name}, args...)
	default:
		return args
	}
}
