package secretstore

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// VaultKV reads secret values from a HashiCorp Vault KV v2 engine using token auth.
type VaultKV struct {
	client *api.Client
	log    *slog.Logger
}

// NewVaultKV creates a Vault reader for address authenticated with token.
func NewVaultKV(address, token string, log *slog.Logger) (*VaultKV, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultKV{client: client, log: log}, nil
}

// ReadKV reads key from the KV v2 secret at mount/path.
func (v *VaultKV) ReadKV(ctx context.Context, mount, path, key string) (string, error) {
	fullPath := fmt.Sprintf("%s/data/%s", strings.Trim(mount, "/"), strings.Trim(path, "/"))

	secret, err := v.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		v.log.Error("Failed to read from Vault", slog.String("path", fullPath), "err", err)
		return "", fmt.Errorf("vault read %s failed: %w", fullPath, err)
	}

	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: no vault secret at %s", ErrUnresolvedSecret, fullPath)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("invalid data format in Vault response for %s", fullPath)
	}

	value, ok := data[key]
	if !ok {
		return "", fmt.Errorf("%w: key %s not found at %s", ErrUnresolvedSecret, key, fullPath)
	}

	str, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("vault key %s at %s is not a string", key, fullPath)
	}

	v.log.Debug("Resolved secret from Vault", slog.String("path", fullPath), slog.String("key", key))
	return str, nil
}
