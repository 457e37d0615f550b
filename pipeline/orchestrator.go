// Package pipeline composes provisioning and registration into the end to end
// flow used by the commands and the HTTP API.
//
// Orchestrator.Run is the only place errors become data: whatever happens, it
// returns a PipelineResult describing every step that was attempted, the
// process if one was created, and the registration record if one was made.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/agent-launch-provisioner/api/clients"
	"github.com/ruteri/agent-launch-provisioner/interfaces"
	"github.com/ruteri/agent-launch-provisioner/provisioning"
	"github.com/ruteri/agent-launch-provisioner/registration"
	"github.com/ruteri/agent-launch-provisioner/secretstore"
)

// ErrNilRequest is reported for a Run without a request.
var ErrNilRequest = errors.New("pipeline request is nil")

// Config is everything the orchestrator needs. Nothing is read from the environment.
type Config struct {
	HostingURL   string
	HostingToken string

	LaunchURL   string
	LaunchToken string

	// FrontendURL is the base of computed handoff links.
	FrontendURL string

	// DefaultChainID applies when registration metadata carries no chain.
	DefaultChainID int64

	Poll    provisioning.PollStrategy
	Sleeper provisioning.Sleeper

	// RequestTimeout bounds every single HTTP call. Zero selects the client default.
	RequestTimeout time.Duration
}

// Request is one pipeline invocation.
type Request struct {
	interfaces.ProvisioningRequest

	// RegisterAfter requests token registration once the process is ready.
	RegisterAfter bool `json:"register_after"`

	// Registration describes the token. Optional even when RegisterAfter is set.
	Registration *interfaces.RegistrationMetadata `json:"registration,omitempty"`
}

// Observer is notified about steps and finished runs.
type Observer interface {
	ObserveStep(outcome interfaces.StepOutcome)
	ObserveResult(result *interfaces.PipelineResult)
}

// Orchestrator runs pipelines. It keeps no state between runs.
type Orchestrator struct {
	machine   *provisioning.Machine
	registrar *registration.Registrar
	secrets   *secretstore.Adapter
	observer  Observer
	now       func() time.Time
	log       *slog.Logger
}

// Providers are the remote surfaces an orchestrator drives.
type Providers struct {
	Hosting interfaces.HostingProvider
	Secrets interfaces.SecretSetter
	Tokens  interfaces.TokenRegistrar
}

// NewProviders builds HTTP clients for the configured endpoints.
func NewProviders(cfg Config, log *slog.Logger) Providers {
	var timeout []time.Duration
	if cfg.RequestTimeout > 0 {
		timeout = append(timeout, cfg.RequestTimeout)
	}

	hosting := clients.NewHostingClient(cfg.HostingURL, cfg.HostingToken, log, timeout...)
	return Providers{
		Hosting: hosting,
		Secrets: hosting,
		Tokens:  clients.NewLaunchClient(cfg.LaunchURL, cfg.LaunchToken, log, timeout...),
	}
}

// New creates an orchestrator talking HTTP to the configured endpoints.
func New(cfg Config, log *slog.Logger) *Orchestrator {
	return NewWithProviders(NewProviders(cfg, log), cfg, log)
}

// NewWithProviders creates an orchestrator on explicit providers.
func NewWithProviders(p Providers, cfg Config, log *slog.Logger) *Orchestrator {
	now := func() time.Time { return time.Now().UTC() }
	secrets := secretstore.NewAdapter(p.Secrets, log)
	return &Orchestrator{
		secrets: secrets,
		machine: provisioning.NewMachine(p.Hosting, secrets, provisioning.Config{
			Poll:    cfg.Poll,
			Sleeper: cfg.Sleeper,
			Now:     now,
		}, log),
		registrar: registration.NewRegistrar(p.Tokens, registration.Config{
			FrontendBase:   cfg.FrontendURL,
			DefaultChainID: cfg.DefaultChainID,
			Now:            now,
		}, log),
		now: now,
		log: log,
	}
}

// WithObserver attaches an observer, e.g. metrics.
func (o *Orchestrator) WithObserver(observer Observer) *Orchestrator {
	o.observer = observer
	return o
}

// Registrar exposes the registration step for registration-only flows.
func (o *Orchestrator) Registrar() *registration.Registrar {
	return o.registrar
}

// Run executes one pipeline. It never returns an error and never panics:
// every failure is described in the returned result.
func (o *Orchestrator) Run(ctx context.Context, req *Request) (result *interfaces.PipelineResult) {
	result = &interfaces.PipelineResult{
		RunID:     uuid.NewString(),
		StartedAt: o.now(),
	}
	log := o.log.With("run_id", result.RunID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panicked", "panic", r, "stack", string(debug.Stack()))
			if result.Error == "" {
				result.Error = fmt.Sprintf("internal error: %v", r)
				result.ErrorKind = interfaces.ErrorKindFatal
			}
			if result.Process != nil && !result.Process.Status.Terminal() {
				result.Process.Status = interfaces.StatusFailed
			}
		}
		o.finish(result)
	}()

	if req == nil {
		o.fail(result, ErrNilRequest)
		return result
	}
	result.Name = req.Name

	process, err := o.machine.Provision(ctx, &req.ProvisioningRequest, func(outcome interfaces.StepOutcome, p *interfaces.ProvisionedProcess) {
		// known from the create step on, so a later panic still reports the address
		if p != nil {
			result.Process = p
		}
		o.record(result, outcome)
	})
	result.Process = process
	if err != nil {
		o.fail(result, err)
		return result
	}

	if !req.RegisterAfter {
		return result
	}

	if !process.Status.Ready() {
		o.fail(result, fmt.Errorf("process %s is %s, registration requires a compiled process", process.Address, process.Status))
		return result
	}

	meta := interfaces.RegistrationMetadata{}
	if req.Registration != nil {
		meta = *req.Registration
	}

	started := o.now()
	record, err := o.registrar.Register(ctx, process.Address, meta)
	outcome := interfaces.StepOutcome{
		Step:      interfaces.StepRegister,
		Status:    interfaces.StepSuccess,
		StartedAt: started,
		Duration:  o.now().Sub(started),
	}
	if err != nil {
		outcome.Status = interfaces.StepFailed
		outcome.Error = err.Error()
	}
	o.record(result, outcome)

	if err != nil {
		o.fail(result, err)
		return result
	}

	result.Registration = record
	return result
}

func (o *Orchestrator) record(result *interfaces.PipelineResult, outcome interfaces.StepOutcome) {
	result.Steps = append(result.Steps, outcome)
	if o.observer != nil {
		o.observer.ObserveStep(outcome)
	}
}

func (o *Orchestrator) fail(result *interfaces.PipelineResult, err error) {
	result.Error = err.Error()
	result.ErrorKind = interfaces.ErrorKindFatal
	if errors.Is(err, provisioning.ErrProvisioningTimeout) {
		result.ErrorKind = interfaces.ErrorKindTimeout
	}
}

// finish marks unreached steps skipped and stamps the result.
func (o *Orchestrator) finish(result *interfaces.PipelineResult) {
	for _, step := range interfaces.PipelineSteps {
		if _, ok := result.Step(step); !ok {
			o.record(result, interfaces.StepOutcome{Step: step, Status: interfaces.StepSkipped})
		}
	}
	result.FinishedAt = o.now()

	attrs := []any{"run_id", result.RunID, "duration", result.FinishedAt.Sub(result.StartedAt)}
	if result.Process != nil {
		attrs = append(attrs, "address", result.Process.Address, "status", result.Process.Status)
	}
	if result.Registration != nil {
		attrs = append(attrs, "token_id", result.Registration.TokenID)
	}

	if result.Succeeded() {
		o.log.Info("pipeline finished", attrs...)
	} else {
		o.log.Warn("pipeline failed", append(attrs, "error_kind", result.ErrorKind, "err", result.Error)...)
	}

	if o.observer != nil {
		o.observer.ObserveResult(result)
	}
}
