package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/agent-launch-provisioner/api/fakeprovider"
	"github.com/ruteri/agent-launch-provisioner/interfaces"
	"github.com/ruteri/agent-launch-provisioner/provisioning"
	"github.com/ruteri/agent-launch-provisioner/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

type launcherEnv struct {
	fake *fakeprovider.FakeProvider
	url  string
	dir  string
}

func newLauncherEnv(t *testing.T) *launcherEnv {
	fake := fakeprovider.New()
	fake.HostingToken = "key"
	fake.LaunchToken = "key"
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent.py"), []byte("print('hello')"), 0o600))
	return &launcherEnv{fake: fake, url: srv.URL, dir: dir}
}

// run executes the launcher with the provider flags pointing at the fake.
func (e *launcherEnv) run(args ...string) (string, error) {
	var stdout bytes.Buffer
	app := newApp(&stdout)
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}

	base := []string{
		"launcher",
		"--hosting-url", e.url,
		"--launch-url", e.url,
		"--frontend-url", "https://front.example",
		"--api-key", "key",
		"--poll-interval", "1ms",
		"--poll-attempts", "3",
	}
	err := app.Run(append(base, args...))
	return stdout.String(), err
}

func (e *launcherEnv) source() string {
	return filepath.Join(e.dir, "agent.py")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func exitCode(err error) int {
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return -1
}

func TestDeploySuccess(t *testing.T) {
	env := newLauncherEnv(t)

	out, err := env.run("deploy", "--name", "Demo", "--source", env.source(), "--register", "--symbol", "DEMO")
	require.NoError(t, err)

	var result interfaces.PipelineResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.Succeeded())
	require.NotNil(t, result.Process)
	assert.Equal(t, interfaces.StatusCompiled, result.Process.Status)
	require.NotNil(t, result.Registration)
	assert.Equal(t, "https://front.example/deploy/1", result.Registration.HandoffLink)

	files := env.fake.Files(result.Process.Address.String())
	require.Len(t, files, 1)
	assert.Equal(t, "agent.py", files[0].Filename)

	reqs := env.fake.TokenizeRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "DEMO", reqs[0].Symbol)
	assert.Equal(t, "Demo", reqs[0].Name)
}

func TestDeployInjectsAPIKeys(t *testing.T) {
	env := newLauncherEnv(t)
	t.Setenv("LAUNCHER_TEST_SECRET", "s3cret")

	out, err := env.run("deploy", "--name", "Demo", "--source", env.source(),
		"--secret", "EXTRA=env:LAUNCHER_TEST_SECRET", "--inject-api-key")
	require.NoError(t, err)

	var result interfaces.PipelineResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.NotNil(t, result.Process)

	secrets := env.fake.Secrets(result.Process.Address.String())
	assert.Equal(t, "s3cret", secrets["EXTRA"])
	assert.Equal(t, "key", secrets[HostingKeySecret])
	assert.Equal(t, "key", secrets[LaunchKeySecret])
	assert.NotContains(t, out, "s3cret")
}

func TestDeployTimeoutExitsNonZero(t *testing.T) {
	env := newLauncherEnv(t)
	env.fake.CompileAfter = -1

	out, err := env.run("deploy", "--name", "Demo", "--source", env.source(), "--register")
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))

	var result interfaces.PipelineResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, interfaces.ErrorKindTimeout, result.ErrorKind)
	require.NotNil(t, result.Process)
	assert.Equal(t, interfaces.StatusTimedOut, result.Process.Status)
	assert.Nil(t, result.Registration)
	assert.Equal(t, 3, env.fake.CallCount(fakeprovider.RouteStatus))
	assert.Equal(t, 0, env.fake.CallCount(fakeprovider.RouteTokenize))
}

func TestDeployMissingSourceTouchesNothing(t *testing.T) {
	env := newLauncherEnv(t)

	_, err := env.run("deploy", "--name", "Demo", "--source", filepath.Join(env.dir, "missing.py"))
	require.Error(t, err)
	assert.Empty(t, env.fake.Calls())
}

func TestDeployRejectsEmptyPollBudget(t *testing.T) {
	env := newLauncherEnv(t)

	for _, args := range [][]string{
		{"--poll-attempts", "0"},
		{"--poll-attempts", "-2"},
		{"--poll-interval", "0s"},
		{"--poll-backoff", "--poll-max-interval", "0s"},
	} {
		_, err := env.run(append(args, "deploy", "--name", "Demo", "--source", env.source())...)
		require.ErrorIs(t, err, provisioning.ErrInvalidPollStrategy, args)
	}
	assert.Empty(t, env.fake.Calls())
}

func TestDeployInvalidBundlePrintsFailedCreate(t *testing.T) {
	env := newLauncherEnv(t)
	other := filepath.Join(env.dir, "other")
	require.NoError(t, os.Mkdir(other, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(other, "agent.py"), []byte("print(2)"), 0o600))

	out, err := env.run("deploy", "--name", "Demo", "--source", env.source(), "--source", filepath.Join(other, "agent.py"))
	require.Error(t, err)
	assert.Equal(t, 1, exitCode(err))

	var result interfaces.PipelineResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, interfaces.ErrorKindFatal, result.ErrorKind)
	assert.Equal(t, interfaces.StepCreate, result.FailedStep())
	assert.Nil(t, result.Process)
	assert.Empty(t, env.fake.Calls())
}

func TestDeployTextOutput(t *testing.T) {
	env := newLauncherEnv(t)

	out, err := env.run("--output", "text", "deploy", "--name", "Demo", "--source", env.source(), "--register")
	require.NoError(t, err)
	assert.Contains(t, out, "process")
	assert.Contains(t, out, "compiled")
	assert.Contains(t, out, "https://front.example/deploy/1")
	assert.Contains(t, out, string(interfaces.StepRegister))
}

func TestInvalidOutputFormat(t *testing.T) {
	env := newLauncherEnv(t)

	_, err := env.run("--output", "yaml", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func TestMissingAPIKey(t *testing.T) {
	t.Setenv("AGENTVERSE_API_KEY", "")

	app := newApp(io.Discard)
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run([]string{"launcher", "list"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")
}

func TestListAndStatus(t *testing.T) {
	env := newLauncherEnv(t)

	out, err := env.run("deploy", "--name", "Demo", "--source", env.source())
	require.NoError(t, err)
	var result interfaces.PipelineResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	address := result.Process.Address.String()

	out, err = env.run("list")
	require.NoError(t, err)
	var items []interfaces.RemoteProcessStatus
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
	assert.Equal(t, address, items[0].Address)

	out, err = env.run("status", "--address", address)
	require.NoError(t, err)
	var status interfaces.RemoteProcessStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, address, status.Address)
	assert.True(t, status.Compiled)

	out, err = env.run("--output", "text", "list")
	require.NoError(t, err)
	assert.Contains(t, out, address)
}

func TestRegisterCommand(t *testing.T) {
	env := newLauncherEnv(t)

	out, err := env.run("register", "--address", "agent1qexample", "--token-name", "Example")
	require.NoError(t, err)

	var record interfaces.RegistrationRecord
	require.NoError(t, json.Unmarshal([]byte(out), &record))
	assert.Equal(t, interfaces.ProcessAddress("agent1qexample"), record.ProcessAddress)
	assert.NotEmpty(t, record.HandoffLink)

	reqs := env.fake.TokenizeRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "agent1qexample", reqs[0].AgentAddress)
	assert.Equal(t, "Example", reqs[0].Name)
}

func TestDeployArchivesAndShowReport(t *testing.T) {
	env := newLauncherEnv(t)
	archiveURI := "file://" + filepath.Join(env.dir, "archive")

	out, err := env.run("deploy", "--name", "Demo", "--source", env.source(), "--archive-uri", archiveURI)
	require.NoError(t, err)
	var result interfaces.PipelineResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))

	reports, err := os.ReadDir(filepath.Join(env.dir, "archive", "reports"))
	require.NoError(t, err)
	assert.Len(t, reports, 1)

	archive, err := storage.OpenArchive(storage.NewStorageBackendFactory(testLogger()), []string{archiveURI})
	require.NoError(t, err)
	id, err := archive.StoreResult(context.Background(), &result)
	require.NoError(t, err)

	out, err = env.run("show-report", "--archive-uri", archiveURI, "--id", id.String())
	require.NoError(t, err)
	var fetched interfaces.PipelineResult
	require.NoError(t, json.Unmarshal([]byte(out), &fetched))
	assert.Equal(t, result.RunID, fetched.RunID)
	require.NotNil(t, fetched.Process)
	assert.Equal(t, result.Process.Address, fetched.Process.Address)
}

func TestShowReportNotFound(t *testing.T) {
	env := newLauncherEnv(t)
	archiveURI := "file://" + filepath.Join(env.dir, "archive")

	_, err := env.run("show-report", "--archive-uri", archiveURI, "--id", interfaces.ComputeID([]byte("nothing")).String())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSwarmCommand(t *testing.T) {
	env := newLauncherEnv(t)
	manifest := `name: pair
members:
  - role: oracle
    name: Oracle
    files: [agent.py]
  - role: trader
    name: Trader
    files: [agent.py]
`
	path := filepath.Join(env.dir, "swarm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(manifest), 0o600))

	out, err := env.run("swarm", "--manifest", path)
	require.NoError(t, err)

	var result struct {
		Members []struct {
			Role   string                    `json:"role"`
			Result interfaces.PipelineResult `json:"result"`
		} `json:"members"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	require.Len(t, result.Members, 2)
	assert.Equal(t, "oracle", result.Members[0].Role)
	assert.True(t, result.Members[1].Result.Succeeded())
	assert.Equal(t, 2, env.fake.CallCount(fakeprovider.RouteCreate))
}
