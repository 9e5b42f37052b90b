package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/openfroyo/playbook-resource/pkg/config"
	"github.com/openfroyo/playbook-resource/pkg/telemetry"
)

// maxLineSize bounds a single line of engine output.
const maxLineSize = 1 << 20

// Result is the outcome of one engine run.
type Result struct {
	// ExitCode is 0 for a completed run, whatever the host verdicts,
	// and 1 when the engine reported a structured error.
	ExitCode int

	// EngineExitCode is the raw ansible-playbook exit status.
	EngineExitCode ExitCode

	// Stats holds the per-host counters. It is empty, never nil, when the
	// run produced no recap.
	Stats *RunStats

	// Err is the structured engine error behind ExitCode 1. It has
	// already been logged.
	Err *EngineError

	// Duration is the wall time of the run.
	Duration time.Duration
}

// Executor runs ansible-playbook as a child process.
type Executor struct {
	binary       string
	vaultCommand string
	env          map[string]string
	display      io.Writer
	logger       *telemetry.Logger
}

// NewExecutor creates an executor. Engine output is copied to display,
// which must not be stdout since stdout carries the protocol response.
func NewExecutor(settings config.EngineSettings, display io.Writer, logger *telemetry.Logger) *Executor {
	return &Executor{
		binary:       settings.Binary,
		vaultCommand: settings.VaultPasswordCommand,
		env:          settings.Env,
		display:      &lockedWriter{w: display},
		logger:       logger.NewComponentLogger("engine"),
	}
}

// Execute runs the playbook described by opts and blocks until the engine
// exits. Structured engine errors are logged and mapped to ExitCode 1 in the
// returned Result. Anything else, including a missing binary, comes back as a
// fatal *EngineError.
func (e *Executor) Execute(ctx context.Context, opts *config.Options) (*Result, error) {
	binary, err := exec.LookPath(e.binary)
	if err != nil {
		return nil, NewFatalError("cannot find engine binary", err).
			WithCode(ErrCodeEngineMissing).WithPlaybook(opts.Playbook)
	}

	vault := e.vaultCommand
	if opts.VaultPassword != "" {
		if vault, err = exec.LookPath(e.vaultCommand); err != nil {
			return nil, NewFatalError("cannot find vault password command", err).
				WithPlaybook(opts.Playbook)
		}
	}

	command, err := BuildCommand(opts, vault)
	if err != nil {
		return nil, NewFatalError("cannot build engine command", err).WithPlaybook(opts.Playbook)
	}
	for k, v := range e.env {
		if _, ok := command.Env[k]; !ok {
			command.Env[k] = v
		}
	}

	e.logger.Zerolog().Info().
		Str("playbook", opts.Playbook).
		Str("options", opts.String()).
		Msg("running playbook")

	cmd := exec.CommandContext(ctx, binary, command.Args...)
	cmd.Env = command.Environ(os.Environ())
	cmd.Stderr = e.display
	if command.Stdin != "" {
		cmd.Stdin = strings.NewReader(command.Stdin)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, NewFatalError("cannot attach to engine output", err).WithPlaybook(opts.Playbook)
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, NewFatalError("cannot start engine", err).WithPlaybook(opts.Playbook)
	}

	// Output must be drained before Wait closes the pipe.
	parser := newRecapParser()
	scanErr := e.stream(stdout, parser)

	waitErr := cmd.Wait()
	duration := time.Since(start)
	fmt.Fprintf(e.display, "Runtime: %s\n", humanRuntime(duration))

	if scanErr != nil {
		e.logger.WithError(scanErr).Warn("engine output was truncated")
	}

	code, err := exitCode(waitErr)
	if err != nil {
		return nil, NewFatalError("engine did not exit cleanly", err).WithPlaybook(opts.Playbook)
	}

	res := &Result{
		EngineExitCode: code,
		Stats:          parser.stats,
		Duration:       duration,
	}

	switch {
	case code.CompletedRun() && parser.Seen():
		e.logger.Zerolog().Info().
			Str("playbook", opts.Playbook).
			Int("engine_exit_code", int(code)).
			Int("hosts", parser.stats.Len()).
			Msg("playbook done")
		return res, nil

	case code.CompletedRun(), code.Structured():
		engErr := NewExecutionError(
			fmt.Sprintf("error running playbook '%s'", opts.Playbook), int(code), waitErr,
		).WithPlaybook(opts.Playbook).WithCode(code.Code())
		if !code.Structured() {
			engErr.WithCode(ErrCodeNoRecap)
			engErr.Message = fmt.Sprintf("engine exited with %d but printed no recap for '%s'", code, opts.Playbook)
		}
		e.logger.WithError(engErr).Error(engErr.Message)
		res.ExitCode = int(ExitError)
		res.Err = engErr
		return res, nil

	default:
		return nil, &EngineError{
			Class:    ErrorClassFatal,
			Code:     code.Code(),
			Message:  fmt.Sprintf("engine exited with %d", code),
			Playbook: opts.Playbook,
			ExitCode: int(code),
			Err:      waitErr,
		}
	}
}

// stream copies engine output to the display line by line and feeds the
// recap parser.
func (e *Executor) stream(r io.Reader, parser *recapParser) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(e.display, line)
		parser.Feed(line)
	}
	if err := scanner.Err(); err != nil {
		// Keep draining so the engine never blocks on a full pipe.
		_, _ = io.Copy(e.display, r)
		return err
	}
	return nil
}

// exitCode extracts the process exit status. A nil error is ExitOK; an
// error without an exit status is returned as is.
func exitCode(err error) (ExitCode, error) {
	if err == nil {
		return ExitOK, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return ExitCode(exitErr.ExitCode()), nil
	}
	return 0, err
}

// lockedWriter serializes writes from the engine's stdout and stderr.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// humanRuntime formats d as "d days, h hours, m minutes, s seconds".
func humanRuntime(d time.Duration) string {
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%d days, %d hours, %d minutes, %d seconds", days, hours, minutes, seconds)
}
