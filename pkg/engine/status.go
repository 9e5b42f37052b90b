package engine

import (
	"fmt"
	"sort"
)

// ExitCode is an ansible-playbook process exit code.
type ExitCode int

const (
	// ExitOK indicates the run completed and no host failed.
	ExitOK ExitCode = 0

	// ExitError indicates a generic engine error.
	ExitError ExitCode = 1

	// ExitHostFailed indicates one or more hosts failed a task.
	ExitHostFailed ExitCode = 2

	// ExitHostUnreachable indicates one or more hosts were unreachable.
	ExitHostUnreachable ExitCode = 3

	// ExitParserError indicates the playbook or inventory could not be
	// parsed. The task queue returns the same value when hosts were
	// unreachable; only the recap tells the two apart.
	ExitParserError ExitCode = 4

	// ExitUnreachableHosts is the task queue's code for unreachable hosts.
	ExitUnreachableHosts = ExitParserError

	// ExitFailedAndUnreachable combines failed and unreachable hosts.
	ExitFailedAndUnreachable ExitCode = ExitHostFailed | ExitUnreachableHosts

	// ExitBadOptions indicates bad or incomplete command line options.
	ExitBadOptions ExitCode = 5

	// ExitInterrupted indicates the run was interrupted by the user.
	ExitInterrupted ExitCode = 99

	// ExitUnexpected indicates an unexpected engine crash.
	ExitUnexpected ExitCode = 250
)

// CompletedRun returns true if the engine may have run the playbook to
// the end and left its verdict in the per-host stats. It only holds when a
// recap was printed as well.
func (c ExitCode) CompletedRun() bool {
	switch c {
	case ExitOK, ExitHostFailed, ExitHostUnreachable, ExitUnreachableHosts, ExitFailedAndUnreachable:
		return true
	}
	return false
}

// Structured returns true if the engine reported the failure itself.
func (c ExitCode) Structured() bool {
	return c == ExitError || c == ExitParserError || c == ExitBadOptions
}

// Code returns the error code that describes a structured failure.
func (c ExitCode) Code() string {
	switch c {
	case ExitParserError:
		return ErrCodeParse
	case ExitBadOptions:
		return ErrCodeOptions
	case ExitInterrupted:
		return ErrCodeInterrupted
	case ExitUnexpected:
		return ErrCodeUnexpected
	default:
		return ErrCodePlaybookFailed
	}
}

// HostStats holds the run counters of a single host.
type HostStats struct {
	OK          int `json:"ok"`
	Changed     int `json:"changed"`
	Unreachable int `json:"unreachable"`
	Failures    int `json:"failures"`
	Skipped     int `json:"skipped"`
	Rescued     int `json:"rescued"`
	Ignored     int `json:"ignored"`
}

// String renders the counters the way the engine prints its recap.
func (h HostStats) String() string {
	return fmt.Sprintf("ok=%d changed=%d unreachable=%d failed=%d skipped=%d rescued=%d ignored=%d",
		h.OK, h.Changed, h.Unreachable, h.Failures, h.Skipped, h.Rescued, h.Ignored)
}

// Stats is the engine's per-host statistics object.
type Stats interface {
	// Processed returns every host name the engine processed, sorted.
	Processed() []string

	// Summarize returns the counters of one host.
	Summarize(host string) HostStats
}

// RunStats is the Stats implementation filled from the engine output.
type RunStats struct {
	hosts map[string]HostStats
}

// NewRunStats creates an empty stats object.
func NewRunStats() *RunStats {
	return &RunStats{hosts: make(map[string]HostStats)}
}

// Record stores the counters of a host, replacing earlier ones.
func (s *RunStats) Record(host string, stats HostStats) {
	s.hosts[host] = stats
}

// Processed implements Stats.
func (s *RunStats) Processed() []string {
	names := make([]string, 0, len(s.hosts))
	for name := range s.hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summarize implements Stats. Unknown hosts have zero counters.
func (s *RunStats) Summarize(host string) HostStats {
	return s.hosts[host]
}

// Len returns the number of processed hosts.
func (s *RunStats) Len() int {
	return len(s.hosts)
}
