package policy

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/openfroyo/playbook-resource/pkg/config"
)

// ErrDenied is returned when a blocking policy violation is found.
var ErrDenied = errors.New("run denied by policy")

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block the run.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity stop the run.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// ParseSeverity returns the severity called s, or false.
func ParseSeverity(s string) (Severity, bool) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return sev, true
	default:
		return "", false
	}
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was read from; empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is a single deny entry.
type Violation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s [%s]: %s", v.Policy, v.Severity, v.Message)
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists the blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking violations.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Err returns ErrDenied with the blocking messages, or nil.
func (r *Result) Err() error {
	if r.Allowed {
		return nil
	}
	msgs := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		msgs = append(msgs, v.String())
	}
	return fmt.Errorf("%w: %s", ErrDenied, strings.Join(msgs, "; "))
}

// Input is the document policies are evaluated against.
type Input struct {
	Playbook  string         `json:"playbook"`
	BuildPath string         `json:"build_path"`
	Inventory InventoryInput `json:"inventory"`
	Source    SourceInput    `json:"source"`
	Options   OptionsInput   `json:"options"`
	Context   Context        `json:"context"`
}

// InventoryInput describes the inventory handed to the engine.
type InventoryInput struct {
	Path    string `json:"path"`
	Dynamic bool   `json:"dynamic"`
}

// SourceInput describes where the playbook came from.
type SourceInput struct {
	Fetched bool   `json:"fetched"`
	URI     string `json:"uri,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

// OptionsInput is the engine options with secrets reduced to flags.
type OptionsInput struct {
	RemoteUser       string   `json:"remote_user"`
	Connection       string   `json:"connection"`
	Timeout          int      `json:"timeout"`
	Forks            int      `json:"forks"`
	Verbosity        int      `json:"verbosity"`
	Become           bool     `json:"become"`
	BecomeMethod     string   `json:"become_method"`
	BecomeUser       string   `json:"become_user"`
	Tags             []string `json:"tags"`
	SkipTags         []string `json:"skip_tags"`
	Limit            string   `json:"limit"`
	StartAtTask      string   `json:"start_at_task"`
	Check            bool     `json:"check"`
	Diff             bool     `json:"diff"`
	FlushCache       bool     `json:"flush_cache"`
	ForceHandlers    bool     `json:"force_handlers"`
	ExtraVarKeys     []string `json:"extra_var_keys"`
	HasPrivateKey    bool     `json:"has_private_key"`
	HasRemotePass    bool     `json:"has_remote_pass"`
	HasBecomePass    bool     `json:"has_become_pass"`
	HasVaultPassword bool     `json:"has_vault_password"`
}

// Context carries facts about the invocation itself.
type Context struct {
	RunID       string    `json:"run_id"`
	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewOptionsInput strips the secrets from opts.
func NewOptionsInput(opts *config.Options) OptionsInput {
	keys := []string{}
	for _, vars := range opts.ExtraVars {
		keys = append(keys, slices.Collect(maps.Keys(vars))...)
	}
	sort.Strings(keys)
	keys = slices.Compact(keys)

	return OptionsInput{
		RemoteUser:       opts.RemoteUser,
		Connection:       opts.Connection,
		Timeout:          opts.Timeout,
		Forks:            opts.Forks,
		Verbosity:        opts.Verbosity,
		Become:           opts.Become,
		BecomeMethod:     opts.BecomeMethod,
		BecomeUser:       opts.BecomeUser,
		Tags:             nonNil(opts.Tags),
		SkipTags:         nonNil(opts.SkipTags),
		Limit:            opts.Limit,
		StartAtTask:      opts.StartAtTask,
		Check:            opts.Check,
		Diff:             opts.Diff,
		FlushCache:       opts.FlushCache,
		ForceHandlers:    opts.ForceHandlers,
		ExtraVarKeys:     keys,
		HasPrivateKey:    opts.PrivateKeyFile != "",
		HasRemotePass:    opts.RemotePass != "",
		HasBecomePass:    opts.BecomePass != "",
		HasVaultPassword: opts.VaultPassword != "",
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return slices.Clone(s)
}
