package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ruteri/agent-launch-provisioner/api/clients"
	"github.com/ruteri/agent-launch-provisioner/api/fakeprovider"
	"github.com/ruteri/agent-launch-provisioner/codebundle"
	"github.com/ruteri/agent-launch-provisioner/interfaces"
	"github.com/ruteri/agent-launch-provisioner/secretstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return ctx.Err()
}

type testEnv struct {
	fake    *fakeprovider.FakeProvider
	sleeper *recordingSleeper
	machine *Machine
	steps   []interfaces.StepOutcome
}

func (e *testEnv) observe(outcome interfaces.StepOutcome, _ *interfaces.ProvisionedProcess) {
	e.steps = append(e.steps, outcome)
}

func newTestEnv(t *testing.T, poll PollStrategy) *testEnv {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	fake := fakeprovider.New()
	fake.HostingToken = "key"
	srv := httptest.NewServer(fake.Handler())
	t.Cleanup(srv.Close)

	hosting := clients.NewHostingClient(srv.URL, "key", log)
	sleeper := &recordingSleeper{}
	machine := NewMachine(hosting, secretstore.NewAdapter(hosting, log), Config{Poll: poll, Sleeper: sleeper}, log)

	return &testEnv{fake: fake, sleeper: sleeper, machine: machine}
}

func demoRequest() *interfaces.ProvisioningRequest {
	return &interfaces.ProvisioningRequest{
		Name:  "Demo",
		Files: []interfaces.SourceFile{{Filename: "agent.py", Language: "python", Content: "print(1)"}},
	}
}

func TestProvisionDemo(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.CompileAfter = 2

	process, err := env.machine.Provision(context.Background(), demoRequest(), env.observe)
	require.NoError(t, err)
	require.NotNil(t, process)

	assert.Equal(t, interfaces.StatusCompiled, process.Status)
	assert.Equal(t, 3, process.PollAttempts)
	assert.Equal(t, 3, env.fake.CallCount(fakeprovider.RouteStatus))
	assert.NotEmpty(t, process.Digest)
	assert.NotEmpty(t, process.WalletAddress)
	assert.False(t, process.CompiledAt.IsZero())
	assert.False(t, process.CompiledAt.Before(process.CreatedAt))

	// The full interval is waited before each status call.
	assert.Equal(t, []time.Duration{DefaultPollInterval, DefaultPollInterval, DefaultPollInterval}, env.sleeper.waits)

	assert.Equal(t, []string{
		fakeprovider.RouteCreate,
		fakeprovider.RouteUpload,
		fakeprovider.RouteStart,
		fakeprovider.RouteStatus,
		fakeprovider.RouteStatus,
		fakeprovider.RouteStatus,
	}, env.fake.Routes())

	require.Len(t, env.steps, 5)
	for i, name := range []interfaces.StepName{interfaces.StepCreate, interfaces.StepUpload, interfaces.StepConfigure, interfaces.StepStart, interfaces.StepPoll} {
		assert.Equal(t, name, env.steps[i].Step)
		assert.Equal(t, interfaces.StepSuccess, env.steps[i].Status)
	}

	assert.Equal(t, demoRequest().Files, env.fake.Files(process.Address.String()))
}

func TestProvisionEntryFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.Fail = map[string]int{fakeprovider.RouteCreate: http.StatusInternalServerError}

	process, err := env.machine.Provision(context.Background(), demoRequest(), env.observe)
	require.Nil(t, process)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, interfaces.StepCreate, stepErr.Step)
	assert.True(t, clients.IsRemoteStatus(err, http.StatusInternalServerError))

	assert.Len(t, env.fake.Calls(), 1)
	require.Len(t, env.steps, 1)
	assert.Equal(t, interfaces.StepFailed, env.steps[0].Status)
}

func TestProvisionRejectsInvalidInputBeforeAnyCall(t *testing.T) {
	testCases := []struct {
		name    string
		req     *interfaces.ProvisioningRequest
		wantErr error
	}{
		{
			name:    "blank name",
			req:     &interfaces.ProvisioningRequest{Name: "   ", Files: demoRequest().Files},
			wantErr: ErrEmptyName,
		},
		{
			name:    "no files",
			req:     &interfaces.ProvisioningRequest{Name: "Demo"},
			wantErr: codebundle.ErrInvalidBundle,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			process, err := env.machine.Provision(context.Background(), tc.req, env.observe)
			require.Nil(t, process)
			require.ErrorIs(t, err, tc.wantErr)
			assert.Empty(t, env.fake.Calls())
		})
	}
}

func TestProvisionUploadFailureKeepsAddress(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.Fail = map[string]int{fakeprovider.RouteUpload: http.StatusBadRequest}

	process, err := env.machine.Provision(context.Background(), demoRequest(), env.observe)
	require.NotNil(t, process)
	assert.False(t, process.Address.IsZero())
	assert.Equal(t, interfaces.StatusFailed, process.Status)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, interfaces.StepUpload, stepErr.Step)

	assert.Equal(t, []string{fakeprovider.RouteCreate, fakeprovider.RouteUpload}, env.fake.Routes())
	assert.Empty(t, env.sleeper.waits)
}

func TestProvisionSecretFailuresAreNotFatal(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.FailSecrets = map[string]int{"OPTIONAL": http.StatusBadRequest}

	req := demoRequest()
	req.Secrets = []interfaces.Secret{
		{Name: "AGENTVERSE_API_KEY", Value: "k"},
		{Name: "OPTIONAL", Value: "x"},
		{Name: "OTHER", Value: "y"},
	}

	process, err := env.machine.Provision(context.Background(), req, env.observe)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusCompiled, process.Status)

	require.Len(t, process.Secrets, 3)
	assert.Equal(t, "AGENTVERSE_API_KEY", process.Secrets[0].Name)
	assert.True(t, process.Secrets[0].Applied())
	assert.Equal(t, "OPTIONAL", process.Secrets[1].Name)
	assert.Contains(t, process.Secrets[1].Error, "secret OPTIONAL rejected")
	assert.True(t, process.Secrets[2].Applied())

	assert.Equal(t, map[string]string{"AGENTVERSE_API_KEY": "k", "OTHER": "y"}, env.fake.Secrets(process.Address.String()))
	assert.Equal(t, 1, env.fake.CallCount(fakeprovider.RouteStart))

	// Secret values never leave through JSON.
	encoded, err := json.Marshal(process)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), `"k"`)
}

func TestProvisionStartFailureKeepsSecrets(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.Fail = map[string]int{fakeprovider.RouteStart: http.StatusServiceUnavailable}

	req := demoRequest()
	req.Secrets = []interfaces.Secret{{Name: "KEY", Value: "v"}}

	process, err := env.machine.Provision(context.Background(), req, env.observe)
	require.NotNil(t, process)
	assert.False(t, process.Address.IsZero())
	require.Len(t, process.Secrets, 1)
	assert.True(t, process.Secrets[0].Applied())
	assert.Equal(t, interfaces.StatusFailed, process.Status)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, interfaces.StepStart, stepErr.Step)
	assert.Zero(t, env.fake.CallCount(fakeprovider.RouteStatus))
}

func TestProvisionTimeout(t *testing.T) {
	env := newTestEnv(t, FixedInterval{Interval: time.Second, Attempts: 4})
	env.fake.CompileAfter = -1

	process, err := env.machine.Provision(context.Background(), demoRequest(), env.observe)
	require.ErrorIs(t, err, ErrProvisioningTimeout)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, interfaces.StepPoll, stepErr.Step)

	assert.Equal(t, interfaces.StatusTimedOut, process.Status)
	assert.True(t, process.CompiledAt.IsZero())
	assert.Equal(t, 4, process.PollAttempts)
	assert.Equal(t, 4, env.fake.CallCount(fakeprovider.RouteStatus))
	assert.Len(t, env.sleeper.waits, 4)
}

func TestPollStopsAtFirstCompiledAndNeverExceedsBudget(t *testing.T) {
	const maxAttempts = 5
	for compileAfter := 0; compileAfter <= maxAttempts+1; compileAfter++ {
		env := newTestEnv(t, FixedInterval{Interval: time.Second, Attempts: maxAttempts})
		env.fake.CompileAfter = compileAfter

		process, err := env.machine.Provision(context.Background(), demoRequest(), nil)

		calls := env.fake.CallCount(fakeprovider.RouteStatus)
		assert.LessOrEqual(t, calls, maxAttempts)
		if compileAfter < maxAttempts {
			require.NoError(t, err, "compileAfter=%d", compileAfter)
			assert.Equal(t, compileAfter+1, calls)
			assert.Equal(t, interfaces.StatusCompiled, process.Status)
		} else {
			require.ErrorIs(t, err, ErrProvisioningTimeout)
			assert.Equal(t, maxAttempts, calls)
		}
	}
}

func TestPollAbsorbsTransientErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.CompileAfter = 0
	env.fake.ReportRunning = true
	env.fake.FailStatusAttempts = map[int]int{1: http.StatusServiceUnavailable, 2: http.StatusBadGateway}

	process, err := env.machine.Provision(context.Background(), demoRequest(), env.observe)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusRunning, process.Status)
	assert.Equal(t, 3, process.PollAttempts)
}

func TestPollStopsAfterWaitWhenCallerGivesUp(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.CompileAfter = -1

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	// the wait always completes, the caller gives up during the second one
	env.machine.sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return nil
	})

	process, err := env.machine.Provision(ctx, demoRequest(), env.observe)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrProvisioningTimeout))
	assert.Equal(t, interfaces.StatusFailed, process.Status)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, env.fake.CallCount(fakeprovider.RouteStatus))
	assert.Equal(t, 1, process.PollAttempts)
}

func TestPollInterruptedSleepFailsProcess(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fake.CompileAfter = -1

	ctx, cancel := context.WithCancel(context.Background())
	env.machine.sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
		cancel()
		return InterruptibleSleeper.Sleep(ctx, time.Hour)
	})

	process, err := env.machine.Provision(ctx, demoRequest(), env.observe)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, interfaces.StatusFailed, process.Status)
	assert.Equal(t, 0, env.fake.CallCount(fakeprovider.RouteStatus))
}

func TestObserverSeesProcessFromCreateOn(t *testing.T) {
	env := newTestEnv(t, nil)

	seen := map[interfaces.StepName]*interfaces.ProvisionedProcess{}
	process, err := env.machine.Provision(context.Background(), demoRequest(), func(outcome interfaces.StepOutcome, p *interfaces.ProvisionedProcess) {
		seen[outcome.Step] = p
	})
	require.NoError(t, err)
	require.Contains(t, seen, interfaces.StepCreate)
	assert.Same(t, process, seen[interfaces.StepCreate])
	assert.Same(t, process, seen[interfaces.StepPoll])
}

func TestProvisionTruncatesLongNames(t *testing.T) {
	env := newTestEnv(t, nil)

	req := demoRequest()
	req.Name = "  " + strings.Repeat("é", 100) + "  "

	_, err := env.machine.Provision(context.Background(), req, nil)
	require.NoError(t, err)

	var body struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(env.fake.Calls()[0].Body, &body))
	assert.Equal(t, strings.Repeat("é", MaxNameLength), body.Name)
}

func TestTruncateName(t *testing.T) {
	assert.Equal(t, "Demo", TruncateName("  Demo "))
	assert.Equal(t, strings.Repeat("a", 63), TruncateName(strings.Repeat("a", 63)+" tail"))
	assert.Equal(t, "", TruncateName(" \t "))
}

func TestPollStrategies(t *testing.T) {
	assert.Equal(t, 60*time.Second, Budget(DefaultPollStrategy()))

	backoff := ExponentialBackoff{Initial: time.Second, Max: 10 * time.Second, Multiplier: 2, Attempts: 6}
	var delays []time.Duration
	for attempt := 1; attempt <= backoff.MaxAttempts(); attempt++ {
		delays = append(delays, backoff.Delay(attempt))
	}
	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second,
	}, delays)
	assert.Equal(t, 35*time.Second, Budget(backoff))
}

func TestPollStrategyValidate(t *testing.T) {
	require.NoError(t, DefaultPollStrategy().Validate())
	require.NoError(t, ExponentialBackoff{Initial: time.Second, Max: time.Minute, Attempts: 3}.Validate())

	for name, strategy := range map[string]PollStrategy{
		"zero attempts":        FixedInterval{Interval: time.Second},
		"negative attempts":    FixedInterval{Interval: time.Second, Attempts: -1},
		"zero interval":        FixedInterval{Attempts: 3},
		"negative interval":    FixedInterval{Interval: -time.Second, Attempts: 3},
		"backoff without max":  ExponentialBackoff{Initial: time.Second, Attempts: 3},
		"backoff zero initial": ExponentialBackoff{Max: time.Minute, Attempts: 3},
	} {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, strategy.Validate(), ErrInvalidPollStrategy)
		})
	}
}

func TestBackoffDelayDoesNotOverflow(t *testing.T) {
	uncapped := ExponentialBackoff{Initial: time.Hour, Multiplier: 10, Attempts: 100}
	assert.Equal(t, time.Duration(math.MaxInt64), uncapped.Delay(100))
	assert.Equal(t, time.Duration(math.MaxInt64), Budget(uncapped))
}

func TestSleepers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	started := time.Now()
	require.NoError(t, RealSleeper.Sleep(ctx, 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(started), 20*time.Millisecond)

	require.ErrorIs(t, InterruptibleSleeper.Sleep(ctx, time.Hour), context.Canceled)
	require.NoError(t, InterruptibleSleeper.Sleep(context.Background(), time.Millisecond))
}
