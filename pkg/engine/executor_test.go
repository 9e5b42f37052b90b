package engine

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/playbook-resource/pkg/config"
	"github.com/openfroyo/playbook-resource/pkg/telemetry"
)

const recapScript = `#!/bin/sh
echo "PLAY [all] ***"
echo ""
echo "PLAY RECAP ***"
echo "web1 : ok=2 changed=1 unreachable=0 failed=0 skipped=0"
echo "web2 : ok=0 changed=0 unreachable=0 failed=1 skipped=0"
echo ""
exit ${FAKE_EXIT:-0}
`

// fakeEngine writes an executable script standing in for ansible-playbook.
func fakeEngine(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ansible-playbook")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func newTestExecutor(binary string, display *bytes.Buffer, env map[string]string) *Executor {
	return NewExecutor(config.EngineSettings{
		Binary:               binary,
		VaultPasswordCommand: "cat",
		Env:                  env,
	}, display, telemetry.NopLogger())
}

func TestExecuteCompletedRun(t *testing.T) {
	for _, code := range []string{"0", "2"} {
		t.Run("exit "+code, func(t *testing.T) {
			var display bytes.Buffer
			e := newTestExecutor(fakeEngine(t, recapScript), &display, map[string]string{"FAKE_EXIT": code})

			res, err := e.Execute(context.Background(), testOptions())
			require.NoError(t, err)

			assert.Equal(t, 0, res.ExitCode)
			assert.Nil(t, res.Err)
			assert.Equal(t, []string{"web1", "web2"}, res.Stats.Processed())
			assert.Equal(t, 1, res.Stats.Summarize("web2").Failures)
			assert.Contains(t, display.String(), "PLAY RECAP")
			assert.Contains(t, display.String(), "Runtime: 0 days, 0 hours, 0 minutes")
		})
	}
}

const unreachableScript = `#!/bin/sh
echo "PLAY RECAP ***"
echo "web1 : ok=2 changed=0 unreachable=0 failed=0 skipped=0"
echo "web2 : ok=0 changed=0 unreachable=1 failed=0 skipped=0"
exit ${FAKE_EXIT:-4}
`

func TestExecuteUnreachableHostsWithRecap(t *testing.T) {
	for _, code := range []string{"3", "4", "6"} {
		t.Run("exit "+code, func(t *testing.T) {
			var display bytes.Buffer
			e := newTestExecutor(fakeEngine(t, unreachableScript), &display, map[string]string{"FAKE_EXIT": code})

			res, err := e.Execute(context.Background(), testOptions())
			require.NoError(t, err)

			assert.Equal(t, 0, res.ExitCode)
			assert.Nil(t, res.Err)
			assert.Equal(t, 1, res.Stats.Summarize("web2").Unreachable)
		})
	}
}

func TestExecuteStructuredError(t *testing.T) {
	script := "#!/bin/sh\necho 'ERROR! could not parse playbook'\nexit 4\n"
	var display bytes.Buffer
	e := newTestExecutor(fakeEngine(t, script), &display, nil)

	res, err := e.Execute(context.Background(), testOptions())
	require.NoError(t, err)

	assert.Equal(t, 1, res.ExitCode)
	assert.Equal(t, ExitParserError, res.EngineExitCode)
	require.NotNil(t, res.Err)
	assert.Equal(t, ErrCodeParse, res.Err.Code)
	assert.True(t, IsExecutionError(res.Err))
	assert.Equal(t, 0, res.Stats.Len())
}

func TestExecuteHostFailureWithoutRecap(t *testing.T) {
	var display bytes.Buffer
	e := newTestExecutor(fakeEngine(t, "#!/bin/sh\nexit 2\n"), &display, nil)

	res, err := e.Execute(context.Background(), testOptions())
	require.NoError(t, err)

	assert.Equal(t, 1, res.ExitCode)
	require.NotNil(t, res.Err)
	assert.Equal(t, ErrCodeNoRecap, res.Err.Code)
}

func TestExecuteFatal(t *testing.T) {
	var display bytes.Buffer
	e := newTestExecutor(fakeEngine(t, "#!/bin/sh\nexit 250\n"), &display, nil)

	res, err := e.Execute(context.Background(), testOptions())
	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.False(t, IsExecutionError(err))
}

func TestExecuteMissingBinary(t *testing.T) {
	var display bytes.Buffer
	e := newTestExecutor(filepath.Join(t.TempDir(), "nope"), &display, nil)

	_, err := e.Execute(context.Background(), testOptions())
	require.Error(t, err)

	var engErr *EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, ErrCodeEngineMissing, engErr.Code)
}

func TestExecuteFeedsVaultPasswordOnStdin(t *testing.T) {
	script := `#!/bin/sh
read pw
echo "vault=$pw" >&2
echo "become=$PLAYBOOK_RESOURCE_BECOME_PASSWORD" >&2
echo "PLAY RECAP ***"
echo "localhost : ok=1 changed=0 unreachable=0 failed=0"
`
	var display bytes.Buffer
	e := newTestExecutor(fakeEngine(t, script), &display, nil)

	o := testOptions()
	o.VaultPassword = "open-sesame"
	o.BecomePass = "pw"

	res, err := e.Execute(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, display.String(), "vault=open-sesame")
	assert.Contains(t, display.String(), "become=pw")
}

func TestHumanRuntime(t *testing.T) {
	d := 26*time.Hour + 3*time.Minute + 4*time.Second
	assert.Equal(t, "1 days, 2 hours, 3 minutes, 4 seconds", humanRuntime(d))
}
