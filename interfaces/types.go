package interfaces

import (
	"time"
)

// ProcessAddress is the opaque stable identifier the hosting provider assigns
// to a process at creation.
type ProcessAddress string

// String returns the address as a string.
func (a ProcessAddress) String() string {
	return string(a)
}

// IsZero reports whether no address was assigned.
func (a ProcessAddress) IsZero() bool {
	return a == ""
}

// SourceFile is one named file of a source bundle.
type SourceFile struct {
	Filename string `json:"filename" yaml:"filename"`
	Language string `json:"language" yaml:"language"`
	Content  string `json:"content" yaml:"content"`
}

// Secret is a named secret value. Secrets are passed as ordered lists so that
// application and error reporting follow the caller's order.
type Secret struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// ProvisioningRequest is the immutable input of a single pipeline invocation.
type ProvisioningRequest struct {
	// Name is the display name of the process. It is truncated to the provider's
	// maximum length before sending.
	Name string `json:"name"`

	// Files is the ordered source bundle. The first file is the entry point.
	Files []SourceFile `json:"files"`

	// Secrets are applied one at a time in order after the upload.
	Secrets []Secret `json:"secrets,omitempty"`

	// Profile optionally selects the hosting region/profile.
	Profile string `json:"profile,omitempty"`
}

// ProcessStatus is the lifecycle status of a provisioned process.
type ProcessStatus string

const (
	StatusCreated      ProcessStatus = "created"
	StatusCodeUploaded ProcessStatus = "code_uploaded"
	StatusSecretsSet   ProcessStatus = "secrets_set"
	StatusStarted      ProcessStatus = "started"
	StatusCompiling    ProcessStatus = "compiling"
	StatusCompiled     ProcessStatus = "compiled"
	StatusRunning      ProcessStatus = "running"
	StatusTimedOut     ProcessStatus = "timed_out"
	StatusFailed       ProcessStatus = "failed"
)

// Ready reports whether the process reached a state that allows registration.
func (s ProcessStatus) Ready() bool {
	return s == StatusCompiled || s == StatusRunning
}

// Terminal reports whether the provisioning state machine is done with the process.
func (s ProcessStatus) Terminal() bool {
	switch s {
	case StatusCompiled, StatusRunning, StatusTimedOut, StatusFailed:
		return true
	default:
		return false
	}
}

// ProvisionedProcess represents the remote hosted process. It is owned by the
// provisioning state machine while the pipeline runs and handed to the caller
// afterwards.
type ProvisionedProcess struct {
	Address       ProcessAddress     `json:"address"`
	WalletAddress string             `json:"wallet_address,omitempty"`
	Status        ProcessStatus      `json:"status"`
	Digest        string             `json:"digest,omitempty"`
	Secrets       []SecretAssignment `json:"secrets,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	CompiledAt    time.Time          `json:"compiled_at,omitzero"`
	PollAttempts  int                `json:"poll_attempts,omitempty"`
}

// FailedSecrets returns the secret assignments that could not be applied.
func (p *ProvisionedProcess) FailedSecrets() []SecretAssignment {
	var failed []SecretAssignment
	for _, s := range p.Secrets {
		if s.Error != "" {
			failed = append(failed, s)
		}
	}
	return failed
}

// SecretAssignment records the outcome of setting one secret. The value is never serialized.
type SecretAssignment struct {
	Name      string    `json:"name"`
	Value     string    `json:"-"`
	AppliedAt time.Time `json:"applied_at,omitzero"`
	Error     string    `json:"error,omitempty"`
}

// Applied reports whether the secret was set successfully.
func (s SecretAssignment) Applied() bool {
	return s.Error == ""
}

// CodeUploadResult is the provider's fingerprint of an uploaded bundle.
// It is diagnostic only and never re-verified locally.
type CodeUploadResult struct {
	Digest     string    `json:"digest"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// RemoteProcessStatus is the provider's view of a process as returned by the status endpoint.
type RemoteProcessStatus struct {
	Name          string `json:"name,omitempty"`
	Address       string `json:"address,omitempty"`
	Compiled      bool   `json:"compiled"`
	Running       bool   `json:"running"`
	WalletAddress string `json:"wallet_address,omitempty"`
}

// RegistrationMetadata describes the token to create for a provisioned process.
type RegistrationMetadata struct {
	Name        string `json:"name,omitempty" yaml:"name"`
	Symbol      string `json:"symbol,omitempty" yaml:"symbol"`
	Description string `json:"description,omitempty" yaml:"description"`
	Image       string `json:"image,omitempty" yaml:"image"`
	ChainID     int64  `json:"chainId,omitempty" yaml:"chain_id"`
}

// RegistrationRecord is the token record tied to a provisioned process.
type RegistrationRecord struct {
	TokenID        string         `json:"token_id"`
	TokenAddress   string         `json:"token_address,omitempty"`
	HandoffLink    string         `json:"handoff_link"`
	ProcessAddress ProcessAddress `json:"process_address"`
	ChainID        int64          `json:"chain_id,omitempty"`
	RegisteredAt   time.Time      `json:"registered_at"`
}
