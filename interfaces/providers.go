package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
)

// CreatedProcess is the hosting provider's answer to a create call.
type CreatedProcess struct {
	Address       ProcessAddress `json:"address"`
	WalletAddress string         `json:"wallet_address,omitempty"`
}

// HostingProvider is the set of hosting endpoints the provisioning state machine drives.
type HostingProvider interface {
	// CreateProcess creates a new hosted process with the given display name.
	// An empty profile leaves the provider default in place.
	CreateProcess(ctx context.Context, name string, profile string) (*CreatedProcess, error)

	// UploadCode uploads the source bundle in the provider's double-encoded format.
	UploadCode(ctx context.Context, address ProcessAddress, files []SourceFile) (*CodeUploadResult, error)

	// StartProcess starts a process whose code was uploaded.
	StartProcess(ctx context.Context, address ProcessAddress) error

	// GetStatus returns the current compile/run state of a process.
	GetStatus(ctx context.Context, address ProcessAddress) (*RemoteProcessStatus, error)
}

// ProcessLister lists the processes owned by the authenticated account.
type ProcessLister interface {
	ListProcesses(ctx context.Context) ([]RemoteProcessStatus, error)
}

// SecretSetter sets named secret values on a hosted process.
type SecretSetter interface {
	SetSecret(ctx context.Context, address ProcessAddress, name string, value string) error
}

// TokenizeRequest is the registration backend's request body.
type TokenizeRequest struct {
	AgentAddress string `json:"agentAddress"`
	Name         string `json:"name,omitempty"`
	Symbol       string `json:"symbol,omitempty"`
	Description  string `json:"description,omitempty"`
	Image        string `json:"image,omitempty"`
	ChainID      int64  `json:"chainId"`
}

// TokenizeData carries the created token. The backend has used both camel and
// snake case keys for the same fields.
type TokenizeData struct {
	ID               TokenID `json:"id,omitempty"`
	TokenID          TokenID `json:"token_id,omitempty"`
	Address          string  `json:"address,omitempty"`
	TokenAddress     string  `json:"token_address,omitempty"`
	HandoffLink      string  `json:"handoffLink,omitempty"`
	HandoffLinkSnake string  `json:"handoff_link,omitempty"`
}

// TokenizeResponse is the registration backend's response body.
type TokenizeResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Data    *TokenizeData `json:"data,omitempty"`
}

// TokenRegistrar creates token records on the registration backend.
type TokenRegistrar interface {
	Tokenize(ctx context.Context, req *TokenizeRequest) (*TokenizeResponse, error)
}

// TokenID is a token identifier the backend may send as a JSON string or number.
type TokenID string

// UnmarshalJSON accepts both string and numeric identifiers.
func (t *TokenID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = TokenID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = TokenID(n.String())
	return nil
}
