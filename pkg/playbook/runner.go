package playbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/playbook-resource/pkg/config"
	"github.com/openfroyo/playbook-resource/pkg/engine"
	"github.com/openfroyo/playbook-resource/pkg/inventory"
	"github.com/openfroyo/playbook-resource/pkg/policy"
	"github.com/openfroyo/playbook-resource/pkg/report"
	"github.com/openfroyo/playbook-resource/pkg/resource"
	"github.com/openfroyo/playbook-resource/pkg/secrets"
	"github.com/openfroyo/playbook-resource/pkg/source"
	"github.com/openfroyo/playbook-resource/pkg/stores"
	"github.com/openfroyo/playbook-resource/pkg/telemetry"
)

// Stage names, used for spans, stage loggers and the stage duration metric.
const (
	StageResolve   = "resolve"
	StageSecrets   = "secrets"
	StageFetch     = "fetch"
	StageInventory = "inventory"
	StagePlaybook  = "playbook"
	StageOptions   = "options"
	StagePolicy    = "policy"
	StageExecute   = "execute"
	StageSummarize = "summarize"
)

// Envelope-only source fields, read raw rather than through the schema.
const (
	fieldPrivateKey    = "private_key"
	fieldSrcURI        = "src_uri"
	fieldSrcBranch     = "src_branch"
	fieldSrcPrivateKey = "src_private_key"
)

// Engine runs a playbook.
type Engine interface {
	Execute(ctx context.Context, opts *config.Options) (*engine.Result, error)
}

// History records runs. It is optional.
type History interface {
	CreateRun(ctx context.Context, run *stores.Run) error
	FinishRun(ctx context.Context, id string, outcome stores.Outcome, hosts []*stores.HostStat) error
}

// Guard decides whether a run may start.
type Guard interface {
	Evaluate(ctx context.Context, input *policy.Input) (*policy.Result, error)
}

// FetcherFactory builds the source fetcher of one run. Deploy keys it writes
// belong to keys.
type FetcherFactory func(keys *secrets.Set, logger *telemetry.Logger) source.Fetcher

// Runner executes put requests.
type Runner struct {
	settings *config.Settings
	tel      *telemetry.Telemetry
	engine   Engine
	fetchers FetcherFactory
	history  History
	guard    Guard
	display  io.Writer

	now   func() time.Time
	newID func() string
}

// Option customizes a Runner.
type Option func(*Runner)

// WithEngine replaces the ansible-playbook executor.
func WithEngine(e Engine) Option {
	return func(r *Runner) { r.engine = e }
}

// WithFetchers replaces the source fetchers.
func WithFetchers(f FetcherFactory) Option {
	return func(r *Runner) { r.fetchers = f }
}

// WithHistory records every run in h.
func WithHistory(h History) Option {
	return func(r *Runner) { r.history = h }
}

// WithPolicy evaluates g before the engine starts.
func WithPolicy(g Guard) Option {
	return func(r *Runner) { r.guard = g }
}

// WithClock replaces the clock used for version stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// NewRunner creates a runner. display receives the engine and git output;
// it must not be the stream the response is written to.
func NewRunner(settings *config.Settings, tel *telemetry.Telemetry, display io.Writer, opts ...Option) *Runner {
	r := &Runner{
		settings: settings,
		tel:      tel,
		display:  display,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	r.engine = engine.NewExecutor(settings.Engine, display, tel.Logger)
	r.fetchers = func(keys *secrets.Set, logger *telemetry.Logger) source.Fetcher {
		return source.NewDispatcher(settings.Fetch, keys, display, logger)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run is the state of one invocation.
type run struct {
	id      string
	logger  *telemetry.Logger
	tel     *telemetry.Telemetry
	started time.Time

	raw    config.Values
	cfg    *config.Canonical
	paths  config.Paths
	invCfg inventory.Config

	privateKey string
	inventory  *inventory.Output
	options    *config.Options
	result     *engine.Result
}

// Out runs the put step for workDir. It returns the response and the status
// code the process should exit with. An error means the invocation aborted
// before a status code could be derived.
func (r *Runner) Out(ctx context.Context, workDir string, req *resource.OutRequest) (*resource.Response, int, error) {
	st := &run{
		id:      r.newID(),
		started: r.now(),
	}
	st.tel = r.tel.ForRun(st.id)
	st.logger = st.tel.Logger

	ctx, span := r.tel.Tracer.StartRunSpan(ctx, st.id, "out")
	defer span.End()

	keys := secrets.NewSet(st.logger)
	defer func() {
		if err := keys.Release(); err != nil {
			st.logger.WithError(err).Error("cannot release secret files")
		}
	}()

	resp, code, err := r.out(ctx, st, workDir, req, keys)
	if err != nil {
		telemetry.RecordError(span, err)
		st.logger.WithError(err).Error("put failed")
		r.tel.Metrics.RecordError(errorCode(err))
		r.finish(ctx, st, 1, nil, err)
		return nil, 1, err
	}

	telemetry.RecordSuccess(span)
	r.tel.Metrics.RecordRunCompleted(code, r.now().Sub(st.started))
	r.finish(ctx, st, code, resp.Metadata, nil)
	return resp, code, nil
}

func (r *Runner) out(ctx context.Context, st *run, workDir string, req *resource.OutRequest, keys *secrets.Set) (*resource.Response, int, error) {
	if err := r.stage(ctx, st, StageResolve, func(s *telemetry.Stage) error {
		return r.resolve(s, st, workDir, req)
	}); err != nil {
		return nil, 0, err
	}
	r.start(ctx, st)

	if err := r.stage(ctx, st, StageSecrets, func(s *telemetry.Stage) error {
		path, err := keys.Materialize(rawString(st.raw, fieldPrivateKey), st.cfg.StringOr("private_key_file", ""), st.paths.BuildPath)
		st.privateKey = path
		return err
	}); err != nil {
		return nil, 0, err
	}

	if st.paths.Fetch {
		if err := r.stage(ctx, st, StageFetch, func(s *telemetry.Stage) error {
			return r.fetchers(keys, s.Logger).Fetch(s.Ctx, source.Request{
				URI:        rawString(st.raw, fieldSrcURI),
				Branch:     rawString(st.raw, fieldSrcBranch),
				PrivateKey: rawString(st.raw, fieldSrcPrivateKey),
				Dest:       st.paths.BuildPath,
			})
		}); err != nil {
			return nil, 0, err
		}
	}

	if err := r.stage(ctx, st, StageInventory, func(s *telemetry.Stage) error {
		out, err := inventory.NewBuilder(s.Logger).BuildConfig(st.invCfg, st.paths.BuildPath)
		st.inventory = out
		return err
	}); err != nil {
		return nil, 0, err
	}

	if err := r.stage(ctx, st, StagePlaybook, func(s *telemetry.Stage) error {
		return st.paths.CheckPlaybook()
	}); err != nil {
		return nil, 0, err
	}

	if err := r.stage(ctx, st, StageOptions, func(s *telemetry.Stage) error {
		opts, err := config.NewOptions(st.cfg, st.paths.Playbook, st.inventory.Path, st.privateKey)
		if err == nil {
			s.Logger.Zerolog().Debug().Stringer("options", opts).Msg("engine options ready")
		}
		st.options = opts
		return err
	}); err != nil {
		return nil, 0, err
	}

	if r.guard != nil {
		if err := r.stage(ctx, st, StagePolicy, func(s *telemetry.Stage) error {
			return r.checkPolicy(s, st)
		}); err != nil {
			return nil, 0, err
		}
	}

	if err := r.stage(ctx, st, StageExecute, func(s *telemetry.Stage) error {
		res, err := r.engine.Execute(s.Ctx, st.options)
		st.result = res
		return err
	}); err != nil {
		return nil, 0, err
	}

	// summarize cannot fail: every engine result has a status code
	s := st.tel.StartStage(ctx, StageSummarize)
	code, metadata := r.summarize(s, st)
	s.End(nil)

	return &resource.Response{
		Version:  resource.NewVersion(r.now()),
		Metadata: metadata,
	}, code, nil
}

// stage runs fn as an instrumented stage.
func (r *Runner) summarize(s *telemetry.Stage, st *run) (int, resource.Metadata) {
	stats := st.result.Stats
	if stats == nil {
		stats = engine.NewRunStats()
	}
	summary := report.Summarize(stats)
	code, metadata := report.Encode(st.result.ExitCode, summary)
	r.observe(summary)
	if st.result.Err != nil {
		r.tel.Metrics.RecordError(st.result.Err.Code)
	}
	s.Logger.Zerolog().Info().
		Int("status_code", code).
		Int("exit_code", st.result.ExitCode).
		Strs("hosts_failed", summary.HostsFailed).
		Strs("hosts_unreachable", summary.HostsUnreachable).
		Msg("run summarized")
	return code, metadata
}

func (r *Runner) stage(ctx context.Context, st *run, name string, fn func(*telemetry.Stage) error) error {
	s := st.tel.StartStage(ctx, name)
	err := fn(s)
	s.End(err)
	if err != nil {
		return &StageError{Stage: name, Err: err}
	}
	return nil
}

func (r *Runner) resolve(s *telemetry.Stage, st *run, workDir string, req *resource.OutRequest) error {
	raw, err := resource.Values(req.Source)
	if err != nil {
		return fmt.Errorf("invalid source: %w", err)
	}
	params, err := resource.Values(req.Params)
	if err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}

	result := config.NewResolver(s.Logger, r.tel.Metrics).Resolve(raw, params, config.SourceSchema, config.ParamsSchema)
	for _, issue := range result.Issues {
		s.Logger.WithError(issue).Warn("configuration field dropped")
	}

	srcInv, err := resource.Section(req.Source, "inventory")
	if err != nil {
		return fmt.Errorf("invalid source inventory: %w", err)
	}
	prmInv, err := resource.Section(req.Params, "inventory")
	if err != nil {
		return fmt.Errorf("invalid params inventory: %w", err)
	}
	invCfg, err := inventory.MergeConfig(srcInv, prmInv)
	if err != nil {
		return err
	}

	st.raw = raw
	st.cfg = result.Config
	st.paths = config.ResolvePaths(workDir, result.Config)
	st.invCfg = invCfg

	s.Logger.Zerolog().Info().
		Str("build_path", st.paths.BuildPath).
		Str("playbook", st.paths.Playbook).
		Bool("fetch", st.paths.Fetch).
		Msg("paths resolved")
	return nil
}

// checkPolicy evaluates the guard against the run about to start.
func (r *Runner) checkPolicy(s *telemetry.Stage, st *run) error {
	input := &policy.Input{
		Playbook:  st.paths.Playbook,
		BuildPath: st.paths.BuildPath,
		Inventory: policy.InventoryInput{
			Path:    st.inventory.Path,
			Dynamic: st.inventory.Dynamic,
		},
		Options: policy.NewOptionsInput(st.options),
		Context: policy.Context{
			RunID:       st.id,
			Environment: st.tel.Config.Environment,
			Timestamp:   st.started,
		},
	}
	if st.paths.Fetch {
		input.Source = policy.SourceInput{
			Fetched: true,
			URI:     rawString(st.raw, fieldSrcURI),
			Branch:  rawString(st.raw, fieldSrcBranch),
		}
	}

	result, err := r.guard.Evaluate(s.Ctx, input)
	if err != nil {
		return err
	}
	for _, w := range result.Warnings {
		s.Logger.WithField("policy", w.Policy).WithField("severity", string(w.Severity)).Warn(w.Message)
	}
	return result.Err()
}

// observe publishes the host and task gauges.
func (r *Runner) observe(s report.Summary) {
	m := r.tel.Metrics
	m.SetHosts("all", len(s.HostsAll))
	m.SetHosts("failed", len(s.HostsFailed))
	m.SetHosts("unreachable", len(s.HostsUnreachable))
	m.SetTaskResults("ok", total(s.OK))
	m.SetTaskResults("changed", total(s.Changed))
	m.SetTaskResults("failures", total(s.Failures))
	m.SetTaskResults("dark", total(s.Dark))
	m.SetTaskResults("skipped", total(s.Skipped))
}

// start opens the history record once the playbook is known.
func (r *Runner) start(ctx context.Context, st *run) {
	if r.history == nil {
		return
	}
	err := r.history.CreateRun(ctx, &stores.Run{
		ID:        st.id,
		Playbook:  st.paths.Playbook,
		BuildPath: st.paths.BuildPath,
		StartedAt: st.started,
	})
	if err != nil {
		st.logger.WithError(err).Warn("cannot record run start")
		r.history = nil
	}
}

// finish closes the history record. History failures never change the
// outcome of the put.
func (r *Runner) finish(ctx context.Context, st *run, code int, metadata resource.Metadata, runErr error) {
	if r.history == nil || st.cfg == nil {
		return
	}

	outcome := stores.Outcome{
		Status:     stores.RunStatusCompleted,
		StatusCode: code,
		ExitCode:   code,
	}
	if st.inventory != nil {
		outcome.Inventory = st.inventory.Path
	}
	var hosts []*stores.HostStat
	if st.result != nil {
		outcome.ExitCode = st.result.ExitCode
		outcome.EngineExitCode = int(st.result.EngineExitCode)
		if st.result.Stats != nil {
			hosts = stores.HostStatsFrom(st.id, st.result.Stats)
		}
		if st.result.Err != nil {
			msg := st.result.Err.Error()
			outcome.Error = &msg
			outcome.Status = stores.RunStatusFailed
		}
	}
	if runErr != nil {
		msg := runErr.Error()
		outcome.Error = &msg
		outcome.Status = stores.RunStatusFailed
	}
	if metadata != nil {
		if b, err := json.Marshal(metadata); err == nil {
			outcome.Metadata = string(b)
		}
	}

	if err := r.history.FinishRun(ctx, st.id, outcome, hosts); err != nil {
		st.logger.WithError(err).Warn("cannot record run outcome")
	}
}

// StageError is a fatal failure of one pipeline stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// errorCode names err for the error counter.
func errorCode(err error) string {
	var engErr *engine.EngineError
	if errors.As(err, &engErr) && engErr.Code != "" {
		return engErr.Code
	}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage + "_failed"
	}
	return "unknown"
}

func rawString(v config.Values, key string) string {
	s, _ := v[key].(string)
	return s
}

func total(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
