package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/openfroyo/playbook-resource/pkg/engine"
)

// RunStatus represents the state of a recorded run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"

	// RunStatusCompleted means the engine ran to the end, whatever the
	// per-host verdict.
	RunStatusCompleted RunStatus = "completed"

	// RunStatusFailed means the engine or a stage before it failed.
	RunStatusFailed RunStatus = "failed"
)

// Run is one put invocation.
type Run struct {
	ID             string     `json:"id"`
	Playbook       string     `json:"playbook"`
	Inventory      string     `json:"inventory"`
	BuildPath      string     `json:"build_path"`
	Status         RunStatus  `json:"status"`
	EngineExitCode *int       `json:"engine_exit_code,omitempty"`
	ExitCode       *int       `json:"exit_code,omitempty"`
	StatusCode     *int       `json:"status_code,omitempty"`
	Error          *string    `json:"error,omitempty"`
	Metadata       string     `json:"metadata"` // JSON array of name/value pairs
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// Outcome is what a finished run leaves behind.
type Outcome struct {
	Status RunStatus

	// Inventory is the path handed to the engine. Empty keeps the value
	// recorded at start.
	Inventory      string
	EngineExitCode int
	ExitCode       int
	StatusCode     int
	Error          *string
	Metadata       string
}

// HostStat holds the recap counters of a host within a run.
type HostStat struct {
	RunID       string `json:"run_id"`
	Host        string `json:"host"`
	OK          int    `json:"ok"`
	Changed     int    `json:"changed"`
	Unreachable int    `json:"unreachable"`
	Failures    int    `json:"failures"`
	Skipped     int    `json:"skipped"`
	Rescued     int    `json:"rescued"`
	Ignored     int    `json:"ignored"`
}

// HostStatsFrom converts engine stats into rows for runID.
func HostStatsFrom(runID string, stats engine.Stats) []*HostStat {
	hosts := stats.Processed()
	rows := make([]*HostStat, 0, len(hosts))
	for _, host := range hosts {
		s := stats.Summarize(host)
		rows = append(rows, &HostStat{
			RunID:       runID,
			Host:        host,
			OK:          s.OK,
			Changed:     s.Changed,
			Unreachable: s.Unreachable,
			Failures:    s.Failures,
			Skipped:     s.Skipped,
			Rescued:     s.Rescued,
			Ignored:     s.Ignored,
		})
	}
	return rows
}

// Store defines the run history persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	FinishRun(ctx context.Context, id string, outcome Outcome, hosts []*HostStat) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Host statistics
	ListHostStats(ctx context.Context, runID string) ([]*HostStat, error)
	HostHistory(ctx context.Context, host string, limit int) ([]*HostStat, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
