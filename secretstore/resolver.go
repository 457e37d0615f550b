package secretstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ruteri/agent-launch-provisioner/interfaces"
)

// Reference prefixes understood by Resolver. Values without a known prefix are literals.
const (
	EnvPrefix   = "env:"
	FilePrefix  = "file:"
	VaultPrefix = "vault:"
)

var (
	// ErrUnresolvedSecret is returned when a reference points at nothing.
	ErrUnresolvedSecret = errors.New("secret reference could not be resolved")

	// ErrVaultNotConfigured is returned for vault: references without a Vault client.
	ErrVaultNotConfigured = errors.New("vault reference used but no vault is configured")
)

// KVReader reads a single key from a Vault KV v2 secret.
type KVReader interface {
	ReadKV(ctx context.Context, mount, path, key string) (string, error)
}

// Resolver turns secret value references into values:
//
//	literal              used as is
//	env:NAME             value of environment variable NAME
//	file:/path           file contents with trailing newlines trimmed
//	vault:mount/path#key key of the KV v2 secret at mount/path
type Resolver struct {
	vault     KVReader
	lookupEnv func(string) (string, bool)
	readFile  func(string) ([]byte, error)
}

// NewResolver creates a resolver. vault may be nil when no vault: references are used.
func NewResolver(vault KVReader) *Resolver {
	return &Resolver{
		vault:     vault,
		lookupEnv: os.LookupEnv,
		readFile:  os.ReadFile,
	}
}

// Resolve resolves one reference.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, EnvPrefix):
		name := strings.TrimPrefix(ref, EnvPrefix)
		value, ok := r.lookupEnv(name)
		if !ok {
			return "", fmt.Errorf("%w: environment variable %s is not set", ErrUnresolvedSecret, name)
		}
		return value, nil

	case strings.HasPrefix(ref, FilePrefix):
		content, err := r.readFile(strings.TrimPrefix(ref, FilePrefix))
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrUnresolvedSecret, err)
		}
		return strings.TrimRight(string(content), "\r\n"), nil

	case strings.HasPrefix(ref, VaultPrefix):
		if r.vault == nil {
			return "", ErrVaultNotConfigured
		}
		mount, path, key, err := ParseVaultRef(strings.TrimPrefix(ref, VaultPrefix))
		if err != nil {
			return "", err
		}
		return r.vault.ReadKV(ctx, mount, path, key)

	default:
		return ref, nil
	}
}

// ResolveAll resolves every secret value, preserving order. All failures are
// reported together, each prefixed with the secret name.
func (r *Resolver) ResolveAll(ctx context.Context, secrets []interfaces.Secret) ([]interfaces.Secret, error) {
	resolved := make([]interfaces.Secret, 0, len(secrets))
	var errs []error
	for _, s := range secrets {
		value, err := r.Resolve(ctx, s.Value)
		if err != nil {
			errs = append(errs, fmt.Errorf("secret %s: %w", s.Name, err))
			continue
		}
		resolved = append(resolved, interfaces.Secret{Name: s.Name, Value: value})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return resolved, nil
}

// ParseAssignment parses NAME=REF.
func ParseAssignment(s string) (interfaces.Secret, error) {
	name, ref, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return interfaces.Secret{}, fmt.Errorf("invalid secret %q: expected NAME=VALUE", s)
	}
	return interfaces.Secret{Name: name, Value: ref}, nil
}

// ParseVaultRef splits mount/path#key. The mount is the first path segment.
func ParseVaultRef(ref string) (mount, path, key string, err error) {
	location, key, ok := strings.Cut(ref, "#")
	if !ok || key == "" {
		return "", "", "", fmt.Errorf("invalid vault reference %q: missing #key", ref)
	}

	mount, path, ok = strings.Cut(strings.Trim(location, "/"), "/")
	if !ok || mount == "" || path == "" {
		return "", "", "", fmt.Errorf("invalid vault reference %q: expected mount/path#key", ref)
	}
	return mount, path, key, nil
}
