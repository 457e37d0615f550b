// Package secretstore applies named secrets to hosted processes and resolves
// secret value references before a pipeline runs.
package secretstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/agent-launch-provisioner/interfaces"
)

// ErrEmptySecretName is recorded for secrets without a name. No call is made for them.
var ErrEmptySecretName = errors.New("secret name must not be empty")

// SecretError is returned when a single secret could not be set.
type SecretError struct {
	Name string
	Err  error
}

func (e *SecretError) Error() string {
	return fmt.Sprintf("could not set secret %s: %v", e.Name, e.Err)
}

func (e *SecretError) Unwrap() error {
	return e.Err
}

// Adapter sets secrets through a SecretSetter.
type Adapter struct {
	setter interfaces.SecretSetter
	log    *slog.Logger
	now    func() time.Time
}

func NewAdapter(setter interfaces.SecretSetter, log *slog.Logger) *Adapter {
	return &Adapter{
		setter: setter,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetSecret sets one secret on the process at address.
func (a *Adapter) SetSecret(ctx context.Context, address interfaces.ProcessAddress, name, value string) error {
	if name == "" {
		return &SecretError{Name: name, Err: ErrEmptySecretName}
	}

	if err := a.setter.SetSecret(ctx, address, name, value); err != nil {
		return &SecretError{Name: name, Err: err}
	}
	return nil
}

// ApplyAll sets secrets one at a time in order. It never fails as a whole:
// it returns exactly one assignment per input secret, in input order, with
// Error set on the ones that could not be applied.
func (a *Adapter) ApplyAll(ctx context.Context, address interfaces.ProcessAddress, secrets []interfaces.Secret) []interfaces.SecretAssignment {
	assignments := make([]interfaces.SecretAssignment, 0, len(secrets))
	for _, s := range secrets {
		assignment := interfaces.SecretAssignment{Name: s.Name, Value: s.Value}

		if err := a.SetSecret(ctx, address, s.Name, s.Value); err != nil {
			a.log.Warn("failed to set secret", "address", address, "secret", s.Name, "err", err)
			assignment.Error = err.Error()
		} else {
			assignment.AppliedAt = a.now()
		}

		assignments = append(assignments, assignment)
	}
	return assignments
}
