package secretstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/agent-launch-provisioner/api/clients"
	"github.com/ruteri/agent-launch-provisioner/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestApplyAllPreservesOrderAndCount(t *testing.T) {
	const address = interfaces.ProcessAddress("agent1qtest")

	for n := 0; n <= 6; n++ {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			setter := new(clients.MockHostingClient)
			secrets := make([]interfaces.Secret, 0, n)
			var order []string
			for i := 0; i < n; i++ {
				name := fmt.Sprintf("SECRET_%d", i)
				secrets = append(secrets, interfaces.Secret{Name: name, Value: fmt.Sprintf("v%d", i)})

				// Every other secret fails.
				var err error
				if i%2 == 1 {
					err = &clients.RemoteError{StatusCode: http.StatusBadRequest, Message: "rejected"}
				}
				setter.On("SetSecret", mock.Anything, address, name, fmt.Sprintf("v%d", i)).
					Run(func(args mock.Arguments) { order = append(order, args.String(2)) }).
					Return(err).Once()
			}

			assignments := NewAdapter(setter, testLogger()).ApplyAll(context.Background(), address, secrets)
			require.Len(t, assignments, n)
			for i, a := range assignments {
				assert.Equal(t, secrets[i].Name, a.Name)
				assert.Equal(t, secrets[i].Value, a.Value)
				if i%2 == 1 {
					assert.False(t, a.Applied())
					assert.Contains(t, a.Error, "rejected")
					assert.True(t, a.AppliedAt.IsZero())
				} else {
					assert.True(t, a.Applied())
					assert.False(t, a.AppliedAt.IsZero())
				}
			}

			expected := make([]string, 0, n)
			for _, s := range secrets {
				expected = append(expected, s.Name)
			}
			if n > 0 {
				assert.Equal(t, expected, order)
			}
			setter.AssertExpectations(t)
		})
	}
}

func TestSetSecretWrapsRemoteError(t *testing.T) {
	setter := new(clients.MockHostingClient)
	remoteErr := &clients.RemoteError{StatusCode: http.StatusForbidden, Message: "forbidden"}
	setter.On("SetSecret", mock.Anything, interfaces.ProcessAddress("a"), "KEY", "v").Return(remoteErr)

	err := NewAdapter(setter, testLogger()).SetSecret(context.Background(), "a", "KEY", "v")

	var secretErr *SecretError
	require.ErrorAs(t, err, &secretErr)
	assert.Equal(t, "KEY", secretErr.Name)
	assert.True(t, clients.IsRemoteStatus(err, http.StatusForbidden))

	err = NewAdapter(setter, testLogger()).SetSecret(context.Background(), "a", "", "v")
	require.ErrorIs(t, err, ErrEmptySecretName)
	setter.AssertNumberOfCalls(t, "SetSecret", 1)
}

func TestResolver(t *testing.T) {
	dir := t.TempDir()
	secretFile := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(secretFile, []byte("from-file\n"), 0o600))

	resolver := NewResolver(nil)
	resolver.lookupEnv = func(name string) (string, bool) {
		if name == "AGENTVERSE_API_KEY" {
			return "from-env", true
		}
		return "", false
	}

	ctx := context.Background()

	value, err := resolver.Resolve(ctx, "plain value")
	require.NoError(t, err)
	assert.Equal(t, "plain value", value)

	value, err = resolver.Resolve(ctx, "env:AGENTVERSE_API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "from-env", value)

	value, err = resolver.Resolve(ctx, "file:"+secretFile)
	require.NoError(t, err)
	assert.Equal(t, "from-file", value)

	_, err = resolver.Resolve(ctx, "env:MISSING")
	require.ErrorIs(t, err, ErrUnresolvedSecret)

	_, err = resolver.Resolve(ctx, "vault:secret/agents#KEY")
	require.ErrorIs(t, err, ErrVaultNotConfigured)

	resolved, err := resolver.ResolveAll(ctx, []interfaces.Secret{
		{Name: "A", Value: "env:AGENTVERSE_API_KEY"},
		{Name: "B", Value: "literal"},
	})
	require.NoError(t, err)
	assert.Equal(t, []interfaces.Secret{{Name: "A", Value: "from-env"}, {Name: "B", Value: "literal"}}, resolved)

	_, err = resolver.ResolveAll(ctx, []interfaces.Secret{
		{Name: "A", Value: "env:MISSING"},
		{Name: "B", Value: "file:" + filepath.Join(dir, "missing")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret A")
	assert.Contains(t, err.Error(), "secret B")
}

func TestParseAssignment(t *testing.T) {
	s, err := ParseAssignment("API_KEY=env:KEY=with=equals")
	require.NoError(t, err)
	assert.Equal(t, interfaces.Secret{Name: "API_KEY", Value: "env:KEY=with=equals"}, s)

	_, err = ParseAssignment("novalue")
	require.Error(t, err)

	_, err = ParseAssignment("=value")
	require.Error(t, err)
}

func TestParseVaultRef(t *testing.T) {
	mount, path, key, err := ParseVaultRef("secret/agents/demo#API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "secret", mount)
	assert.Equal(t, "agents/demo", path)
	assert.Equal(t, "API_KEY", key)

	_, _, _, err = ParseVaultRef("secret/agents")
	require.Error(t, err)
	_, _, _, err = ParseVaultRef("secret#KEY")
	require.Error(t, err)
}

func TestVaultKV(t *testing.T) {
	mux := chi.NewRouter()
	mux.Get("/v1/secret/data/agents/demo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != "root" {
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]any{"errors": []string{"permission denied"}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"data":     map[string]any{"API_KEY": "from-vault"},
				"metadata": map[string]any{"version": 1},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	kv, err := NewVaultKV(srv.URL, "root", testLogger())
	require.NoError(t, err)

	resolver := NewResolver(kv)
	value, err := resolver.Resolve(context.Background(), "vault:secret/agents/demo#API_KEY")
	require.NoError(t, err)
	assert.Equal(t, "from-vault", value)

	_, err = resolver.Resolve(context.Background(), "vault:secret/agents/demo#OTHER")
	require.ErrorIs(t, err, ErrUnresolvedSecret)

	_, err = resolver.Resolve(context.Background(), "vault:secret/agents/missing#API_KEY")
	require.Error(t, err)

	denied, err := NewVaultKV(srv.URL, "wrong", testLogger())
	require.NoError(t, err)
	_, err = denied.ReadKV(context.Background(), "secret", "agents/demo", "API_KEY")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnresolvedSecret))
}
