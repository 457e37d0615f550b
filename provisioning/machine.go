// Package provisioning drives a single hosted process through
// create, upload, configure, start and poll-for-ready.
//
// Transitions are linear:
//
//	created -> code_uploaded -> secrets_set -> started -> compiling -> {compiled | running | timed_out | failed}
//
// Create, upload and start failures are fatal and end the run. Secret failures
// are recorded per secret and never fatal. Exhausting the poll budget ends the
// run with ErrProvisioningTimeout; the remote process is left as is. A caller
// that gives up during polling lets the current wait or status call finish;
// the process then ends as failed and no further call is made.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/agent-launch-provisioner/codebundle"
	"github.com/ruteri/agent-launch-provisioner/interfaces"
	"github.com/ruteri/agent-launch-provisioner/secretstore"
)

// MaxNameLength is the provider's display name limit. Longer names are truncated.
const MaxNameLength = 64

var (
	// ErrProvisioningTimeout is returned when the poll budget runs out.
	ErrProvisioningTimeout = interfaces.ErrProvisioningTimeout

	// ErrEmptyName is returned when the display name is blank after trimming.
	ErrEmptyName = errors.New("display name must not be empty")
)

// StepError is a fatal failure of one provisioning step.
type StepError struct {
	Step interfaces.StepName
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// StepObserver is told about every step as it ends. process is nil until the
// create step succeeded and is the same pointer Provision later returns.
type StepObserver func(outcome interfaces.StepOutcome, process *interfaces.ProvisionedProcess)

// Config tunes the state machine. Zero values select the defaults.
type Config struct {
	Poll    PollStrategy
	Sleeper Sleeper
	Now     func() time.Time
}

// Machine provisions processes. It holds no per-run state and may be reused.
type Machine struct {
	hosting interfaces.HostingProvider
	secrets *secretstore.Adapter
	poll    PollStrategy
	sleeper Sleeper
	now     func() time.Time
	log     *slog.Logger
}

func NewMachine(hosting interfaces.HostingProvider, secrets *secretstore.Adapter, cfg Config, log *slog.Logger) *Machine {
	m := &Machine{
		hosting: hosting,
		secrets: secrets,
		poll:    cfg.Poll,
		sleeper: cfg.Sleeper,
		now:     cfg.Now,
		log:     log,
	}

	if m.poll == nil {
		m.poll = DefaultPollStrategy()
	}
	if m.sleeper == nil {
		m.sleeper = RealSleeper
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	return m
}

// TruncateName trims whitespace and cuts the name to MaxNameLength runes.
func TruncateName(name string) string {
	name = strings.TrimSpace(name)
	runes := []rune(name)
	if len(runes) > MaxNameLength {
		name = strings.TrimSpace(string(runes[:MaxNameLength]))
	}
	return name
}

// run tracks one provisioning attempt.
type run struct {
	m       *Machine
	observe StepObserver
	process *interfaces.ProvisionedProcess
}

func (r *run) step(name interfaces.StepName, fn func() error) error {
	started := r.m.now()
	err := fn()

	outcome := interfaces.StepOutcome{
		Step:      name,
		Status:    interfaces.StepSuccess,
		StartedAt: started,
		Duration:  r.m.now().Sub(started),
	}
	if err != nil {
		outcome.Status = interfaces.StepFailed
		outcome.Error = err.Error()
	}
	if r.observe != nil {
		r.observe(outcome, r.process)
	}

	if err != nil {
		return &StepError{Step: name, Err: err}
	}
	return nil
}

// Provision runs the state machine for req. The returned process is nil only
// when nothing was created remotely; otherwise it carries whatever state was
// reached, including on error. Fatal failures are *StepError; a poll budget
// exhaustion is a *StepError wrapping ErrProvisioningTimeout.
func (m *Machine) Provision(ctx context.Context, req *interfaces.ProvisioningRequest, observe StepObserver) (*interfaces.ProvisionedProcess, error) {
	r := &run{m: m, observe: observe}

	name := TruncateName(req.Name)
	err := r.step(interfaces.StepCreate, func() error {
		if name == "" {
			return ErrEmptyName
		}
		// Bundle problems are caught before anything exists remotely.
		if _, err := codebundle.Encode(req.Files); err != nil {
			return err
		}

		created, err := m.hosting.CreateProcess(ctx, name, req.Profile)
		if err != nil {
			return err
		}

		r.process = &interfaces.ProvisionedProcess{
			Address:       created.Address,
			WalletAddress: created.WalletAddress,
			Status:        interfaces.StatusCreated,
			CreatedAt:     m.now(),
		}
		return nil
	})
	if err != nil {
		m.log.Error("process creation failed", "name", name, "err", err)
		return nil, err
	}

	log := m.log.With("address", r.process.Address)
	log.Info("process created", "name", name)

	err = r.step(interfaces.StepUpload, func() error {
		upload, err := m.hosting.UploadCode(ctx, r.process.Address, req.Files)
		if err != nil {
			return err
		}
		r.process.Digest = upload.Digest
		r.process.Status = interfaces.StatusCodeUploaded
		return nil
	})
	if err != nil {
		r.process.Status = interfaces.StatusFailed
		log.Error("code upload failed", "err", err)
		return r.process, err
	}

	log.Info("code uploaded", "digest", r.process.Digest, "files", len(req.Files))

	_ = r.step(interfaces.StepConfigure, func() error {
		r.process.Secrets = m.secrets.ApplyAll(ctx, r.process.Address, req.Secrets)
		r.process.Status = interfaces.StatusSecretsSet
		return nil
	})
	if failed := r.process.FailedSecrets(); len(failed) > 0 {
		log.Warn("some secrets were not applied", "failed", len(failed), "total", len(req.Secrets))
	}

	err = r.step(interfaces.StepStart, func() error {
		if err := m.hosting.StartProcess(ctx, r.process.Address); err != nil {
			return err
		}
		r.process.Status = interfaces.StatusStarted
		return nil
	})
	if err != nil {
		r.process.Status = interfaces.StatusFailed
		log.Error("process start failed", "err", err)
		return r.process, err
	}

	log.Info("process started, waiting for compilation", "max_attempts", m.poll.MaxAttempts(), "budget", Budget(m.poll))

	err = r.step(interfaces.StepPoll, func() error {
		return m.pollUntilCompiled(ctx, r.process, log)
	})
	if err != nil {
		log.Warn("process did not become ready", "status", r.process.Status, "attempts", r.process.PollAttempts, "err", err)
		return r.process, err
	}

	log.Info("process ready", "status", r.process.Status, "attempts", r.process.PollAttempts)
	return r.process, nil
}

// pollUntilCompiled waits the strategy's delay before every status call and
// stops at the first compiled=true. Status call errors count as missed attempts.
func (m *Machine) pollUntilCompiled(ctx context.Context, process *interfaces.ProvisionedProcess, log *slog.Logger) error {
	process.Status = interfaces.StatusCompiling

	for attempt := 1; attempt <= m.poll.MaxAttempts(); attempt++ {
		if err := m.sleeper.Sleep(ctx, m.poll.Delay(attempt)); err != nil {
			return pollInterrupted(process, err)
		}
		if err := ctx.Err(); err != nil {
			return pollInterrupted(process, err)
		}

		process.PollAttempts = attempt
		status, err := m.hosting.GetStatus(ctx, process.Address)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return pollInterrupted(process, ctxErr)
			}
			log.Debug("status check failed, counting as missed attempt", "attempt", attempt, "err", err)
			continue
		}

		if status.WalletAddress != "" {
			process.WalletAddress = status.WalletAddress
		}

		if status.Compiled {
			process.CompiledAt = m.now()
			process.Status = interfaces.StatusCompiled
			if status.Running {
				process.Status = interfaces.StatusRunning
			}
			return nil
		}

		log.Debug("process not compiled yet", "attempt", attempt)
	}

	process.Status = interfaces.StatusTimedOut
	return ErrProvisioningTimeout
}

func pollInterrupted(process *interfaces.ProvisionedProcess, err error) error {
	process.Status = interfaces.StatusFailed
	return fmt.Errorf("polling interrupted: %w", err)
}
