package playbook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/playbook-resource/pkg/config"
	"github.com/openfroyo/playbook-resource/pkg/engine"
	"github.com/openfroyo/playbook-resource/pkg/policy"
	"github.com/openfroyo/playbook-resource/pkg/report"
	"github.com/openfroyo/playbook-resource/pkg/resource"
	"github.com/openfroyo/playbook-resource/pkg/secrets"
	"github.com/openfroyo/playbook-resource/pkg/source"
	"github.com/openfroyo/playbook-resource/pkg/stores"
	"github.com/openfroyo/playbook-resource/pkg/telemetry"
)

// fakeEngine records the options it was given and returns a canned result.
type fakeEngine struct {
	opts   *config.Options
	result *engine.Result
	err    error

	// keyContent is the private key file content seen during the run.
	keyContent string
}

func (f *fakeEngine) Execute(_ context.Context, opts *config.Options) (*engine.Result, error) {
	f.opts = opts
	if opts.PrivateKeyFile != "" {
		if b, err := os.ReadFile(opts.PrivateKeyFile); err == nil {
			f.keyContent = string(b)
		}
	}
	return f.result, f.err
}

func completed(hosts map[string]engine.HostStats) *engine.Result {
	stats := engine.NewRunStats()
	for name, s := range hosts {
		stats.Record(name, s)
	}
	return &engine.Result{Stats: stats}
}

// fakeFetcher writes a playbook into the destination.
type fakeFetcher struct {
	got source.Request
	err error
}

func (f *fakeFetcher) Fetch(_ context.Context, req source.Request) error {
	f.got = req
	if f.err != nil {
		return f.err
	}
	if err := os.MkdirAll(req.Dest, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(req.Dest, config.DefaultPlaybook), []byte("- hosts: all\n"), 0o644)
}

func newWorkDir(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	if src != "" {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, src), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, src, "site.yml"), []byte("- hosts: all\n"), 0o644))
	}
	return dir
}

func newTestRunner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	fixed := time.Unix(1700000000, 500000000)
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	return NewRunner(config.DefaultSettings(), telemetry.Nop(), &bytes.Buffer{}, opts...)
}

func request(t *testing.T, source, params any) *resource.OutRequest {
	t.Helper()
	s, err := json.Marshal(source)
	require.NoError(t, err)
	p, err := json.Marshal(params)
	require.NoError(t, err)
	return &resource.OutRequest{Source: s, Params: p}
}

func TestOutWithLocalSource(t *testing.T) {
	workDir := newWorkDir(t, "repo")
	eng := &fakeEngine{result: completed(map[string]engine.HostStats{
		"web1": {OK: 2, Changed: 1},
		"web2": {Failures: 1},
	})}
	r := newTestRunner(t, WithEngine(eng))

	req := request(t,
		map[string]any{"remote_user": "deploy", "extra_vars": map[string]any{"a": 1, "b": 2}, "forks": "10"},
		map[string]any{
			"src":        "repo",
			"playbook":   "site.yml",
			"extra_vars": map[string]any{"b": 3},
			"inventory":  map[string]any{"hosts": map[string]any{"web": map[string]any{"hosts": []string{"web1", "web2"}}}},
			"become":     "yes",
		},
	)

	resp, code, err := r.Out(context.Background(), workDir, req)
	require.NoError(t, err)

	assert.Equal(t, report.StatusFailed, code)
	assert.Equal(t, "1700000000.500000", resp.Version.Timestamp)
	status, ok := resp.Metadata.Get("statuscode")
	require.True(t, ok)
	assert.Equal(t, "2", status)
	assert.Equal(t, "statuscode", resp.Metadata[len(resp.Metadata)-1].Name)
	failed, _ := resp.Metadata.Get("hosts_failed")
	assert.Equal(t, `["web2"]`, failed)

	require.NotNil(t, eng.opts)
	assert.Equal(t, filepath.Join(workDir, "repo", "site.yml"), eng.opts.Playbook)
	assert.Equal(t, filepath.Join(workDir, "repo", "inventory"), eng.opts.Inventory)
	assert.Equal(t, "deploy", eng.opts.RemoteUser)
	assert.Equal(t, 10, eng.opts.Forks)
	assert.True(t, eng.opts.Become)
	assert.Equal(t, []map[string]any{{"a": json.Number("1"), "b": json.Number("3")}}, eng.opts.ExtraVars)

	text, err := os.ReadFile(filepath.Join(workDir, "repo", "inventory", "inventory.ini"))
	require.NoError(t, err)
	assert.Equal(t, "[web]\nweb1\nweb2\n", string(text))
}

func TestOutStructuredEngineError(t *testing.T) {
	workDir := newWorkDir(t, "repo")
	engErr := engine.NewExecutionError("error running playbook", 4, nil).WithCode(engine.ErrCodeParse)
	eng := &fakeEngine{result: &engine.Result{
		ExitCode:       1,
		EngineExitCode: engine.ExitParserError,
		Stats:          engine.NewRunStats(),
		Err:            engErr,
	}}
	r := newTestRunner(t, WithEngine(eng))

	resp, code, err := r.Out(context.Background(), workDir, request(t, map[string]any{}, map[string]any{"src": "repo", "playbook": "site.yml"}))
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	status, _ := resp.Metadata.Get("statuscode")
	assert.Equal(t, "1", status)
}

func TestOutFatalEngineError(t *testing.T) {
	workDir := newWorkDir(t, "repo")
	eng := &fakeEngine{err: engine.NewFatalError("engine did not exit cleanly", errors.New("signal: killed"))}
	r := newTestRunner(t, WithEngine(eng))

	resp, _, err := r.Out(context.Background(), workDir, request(t, map[string]any{}, map[string]any{"src": "repo", "playbook": "site.yml"}))
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.True(t, engine.IsFatal(err))

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageExecute, stageErr.Stage)
}

func TestOutMissingPlaybook(t *testing.T) {
	workDir := newWorkDir(t, "repo")
	eng := &fakeEngine{result: completed(nil)}
	r := newTestRunner(t, WithEngine(eng))

	_, _, err := r.Out(context.Background(), workDir, request(t, map[string]any{}, map[string]any{"src": "repo"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrPlaybookNotFound)
	assert.Contains(t, err.Error(), filepath.Join(workDir, "repo", config.DefaultPlaybook))
	assert.Nil(t, eng.opts, "engine must not run")
}

func TestOutFetchesWithoutSrc(t *testing.T) {
	workDir := newWorkDir(t, "")
	eng := &fakeEngine{result: completed(map[string]engine.HostStats{"h1": {OK: 1}})}
	fetcher := &fakeFetcher{}
	r := newTestRunner(t,
		WithEngine(eng),
		WithFetchers(func(*secrets.Set, *telemetry.Logger) source.Fetcher { return fetcher }),
	)

	req := request(t,
		map[string]any{"src_uri": "git@example.com:org/playbooks.git", "src_branch": "main", "src_private_key": "KEY"},
		map[string]any{},
	)
	_, code, err := r.Out(context.Background(), workDir, req)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	assert.Equal(t, "git@example.com:org/playbooks.git", fetcher.got.URI)
	assert.Equal(t, "main", fetcher.got.Branch)
	assert.Equal(t, "KEY", fetcher.got.PrivateKey)
	assert.Equal(t, filepath.Join(workDir, config.DefaultSourceDir), fetcher.got.Dest)
	assert.Equal(t, filepath.Join(workDir, config.DefaultSourceDir, config.DefaultPlaybook), eng.opts.Playbook)
}

func TestOutFetchFailureIsFatal(t *testing.T) {
	eng := &fakeEngine{result: completed(nil)}
	fetcher := &fakeFetcher{err: errors.New("clone failed")}
	r := newTestRunner(t,
		WithEngine(eng),
		WithFetchers(func(*secrets.Set, *telemetry.Logger) source.Fetcher { return fetcher }),
	)

	_, _, err := r.Out(context.Background(), t.TempDir(), request(t, map[string]any{"src_uri": "/srv/repo"}, nil))
	require.Error(t, err)
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageFetch, stageErr.Stage)
	assert.Nil(t, eng.opts)
}

func TestOutReleasesInlinePrivateKey(t *testing.T) {
	workDir := newWorkDir(t, "repo")
	eng := &fakeEngine{result: completed(nil)}
	r := newTestRunner(t, WithEngine(eng))

	req := request(t,
		map[string]any{"private_key": "-----BEGIN KEY-----\nabc\n-----END KEY-----"},
		map[string]any{"src": "repo", "playbook": "site.yml"},
	)
	_, _, err := r.Out(context.Background(), workDir, req)
	require.NoError(t, err)

	require.NotEmpty(t, eng.opts.PrivateKeyFile)
	assert.Contains(t, eng.keyContent, "abc")
	assert.NoFileExists(t, eng.opts.PrivateKeyFile, "key file must be removed after the run")
}

func TestOutRecordsHistory(t *testing.T) {
	store, err := stores.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer store.Close()

	workDir := newWorkDir(t, "repo")
	eng := &fakeEngine{result: completed(map[string]engine.HostStats{
		"web1": {OK: 1},
		"db1":  {Unreachable: 1},
	})}
	r := newTestRunner(t, WithEngine(eng), WithHistory(store))
	r.newID = func() string { return "run-1" }

	_, code, err := r.Out(context.Background(), workDir, request(t, nil, map[string]any{"src": "repo", "playbook": "site.yml"}))
	require.NoError(t, err)
	assert.Equal(t, 3, code)

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, stores.RunStatusCompleted, run.Status)
	require.NotNil(t, run.StatusCode)
	assert.Equal(t, 3, *run.StatusCode)
	assert.Contains(t, run.Metadata, `"statuscode"`)
	assert.Equal(t, filepath.Join(workDir, "repo", "inventory"), run.Inventory)

	hosts, err := store.ListHostStats(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "db1", hosts[0].Host)
	assert.Equal(t, 1, hosts[0].Unreachable)
}

func TestOutRecordsFailedHistory(t *testing.T) {
	store, err := stores.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer store.Close()

	r := newTestRunner(t, WithEngine(&fakeEngine{}), WithHistory(store))
	r.newID = func() string { return "run-1" }

	_, _, err = r.Out(context.Background(), newWorkDir(t, "repo"), request(t, nil, map[string]any{"src": "repo"}))
	require.Error(t, err)

	run, err := store.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, stores.RunStatusFailed, run.Status)
	require.NotNil(t, run.Error)
	assert.Contains(t, *run.Error, "cannot find playbook file")
}

func TestInAndCheck(t *testing.T) {
	assert.Empty(t, Check(&resource.CheckRequest{}))
	assert.NotNil(t, Check(&resource.CheckRequest{}))

	resp := In(&resource.InRequest{Version: resource.Version{Timestamp: "1.5"}})
	assert.Equal(t, "1.5", resp.Version.Timestamp)
	assert.Empty(t, resp.Metadata)
	assert.NotNil(t, resp.Metadata)
}

func TestOutPolicyDeniesRun(t *testing.T) {
	dir := t.TempDir()
	rule := `# severity: error
package site.guard

deny contains "check mode is required" if {
	not input.options.check
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "check.rego"), []byte(rule), 0o644))

	guard, err := policy.NewEngine(context.Background(), telemetry.NopLogger(), true)
	require.NoError(t, err)
	require.NoError(t, guard.LoadPolicies(context.Background(), []string{dir}))

	eng := &fakeEngine{result: completed(nil)}
	r := newTestRunner(t, WithEngine(eng), WithPolicy(guard))
	workDir := newWorkDir(t, "repo")

	_, _, err = r.Out(context.Background(), workDir, request(t, nil, map[string]any{"src": "repo", "playbook": "site.yml"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, policy.ErrDenied)
	assert.Contains(t, err.Error(), "check mode is required")
	assert.Nil(t, eng.opts, "engine must not run")

	_, code, err := r.Out(context.Background(), workDir, request(t, nil, map[string]any{"src": "repo", "playbook": "site.yml", "check": true}))
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.True(t, eng.opts.Check)
}

func TestOutUnreachableHostsGiveStatusThree(t *testing.T) {
	script := "#!/bin/sh\n" +
		"echo 'PLAY RECAP ***'\n" +
		"echo 'web1 : ok=1 changed=0 unreachable=0 failed=0 skipped=0'\n" +
		"echo 'web2 : ok=0 changed=0 unreachable=1 failed=0 skipped=0'\n" +
		"exit 4\n"
	binary := filepath.Join(t.TempDir(), "ansible-playbook")
	require.NoError(t, os.WriteFile(binary, []byte(script), 0o755))

	settings := config.DefaultSettings()
	settings.Engine.Binary = binary
	workDir := newWorkDir(t, "repo")
	r := newTestRunner(t, WithEngine(engine.NewExecutor(settings.Engine, &bytes.Buffer{}, telemetry.NopLogger())))

	resp, code, err := r.Out(context.Background(), workDir,
		request(t, map[string]any{}, map[string]any{"src": "repo", "playbook": "site.yml"}))
	require.NoError(t, err)

	assert.Equal(t, report.StatusUnreachable, code)
	status, _ := resp.Metadata.Get("statuscode")
	assert.Equal(t, "3", status)
	unreachable, _ := resp.Metadata.Get("hosts_unreachable")
	assert.Equal(t, `["web2"]`, unreachable)
}
