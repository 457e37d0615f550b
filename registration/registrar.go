// Package registration creates the token record for a provisioned process and
// computes the handoff link a human follows to finish deployment on chain.
//
// The registrar trusts its caller: it does not re-check that the process is
// compiled or running. Registration is one way and is never rolled back.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ruteri/agent-launch-provisioner/interfaces"
)

// DefaultFrontendURL is the registration frontend serving handoff pages.
const DefaultFrontendURL = "https://agent-launch.ai"

// DefaultLaunchURL is the registration backend API base.
const DefaultLaunchURL = "https://agent-launch.ai/api"

// DefaultImage is used when no token image is given.
const DefaultImage = "https://picsum.photos/400"

// Backend limits on token metadata.
const (
	MaxTokenNameLength = 32
	MaxSymbolLength    = 11
)

var (
	// ErrRegistrationRejected is wrapped when the backend answers success=false.
	ErrRegistrationRejected = errors.New("registration rejected")

	// ErrMissingTokenID is wrapped when a successful answer carries no token identifier.
	ErrMissingTokenID = errors.New("registration response carried no token id")
)

// RegistrationError reports a failed registration for a process.
type RegistrationError struct {
	ProcessAddress interfaces.ProcessAddress
	Err            error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("registration of %s failed: %v", e.ProcessAddress, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// Config holds registration defaults.
type Config struct {
	// FrontendBase is the base of computed handoff links.
	FrontendBase string
	// DefaultChainID is used when metadata carries no chain.
	DefaultChainID int64
	// Now is the clock used for RegisteredAt.
	Now func() time.Time
}

// Registrar registers tokens through a TokenRegistrar.
type Registrar struct {
	backend        interfaces.TokenRegistrar
	frontendBase   string
	defaultChainID int64
	now            func() time.Time
	log            *slog.Logger
}

func NewRegistrar(backend interfaces.TokenRegistrar, cfg Config, log *slog.Logger) *Registrar {
	r := &Registrar{
		backend:        backend,
		frontendBase:   cfg.FrontendBase,
		defaultChainID: cfg.DefaultChainID,
		now:            cfg.Now,
		log:            log,
	}
	if r.frontendBase == "" {
		r.frontendBase = DefaultFrontendURL
	}
	if r.defaultChainID == 0 {
		r.defaultChainID = DefaultChainID
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	return r
}

// HandoffLink returns ${frontendBase}/deploy/${tokenID}.
func HandoffLink(frontendBase string, tokenID string) string {
	return strings.TrimRight(frontendBase, "/") + "/deploy/" + tokenID
}

// NormalizeMetadata applies backend limits and defaults.
func NormalizeMetadata(meta interfaces.RegistrationMetadata, defaultChainID int64) interfaces.RegistrationMetadata {
	meta.Name = truncate(strings.TrimSpace(meta.Name), MaxTokenNameLength)
	meta.Symbol = truncate(strings.ToUpper(strings.TrimSpace(meta.Symbol)), MaxSymbolLength)
	if meta.Description == "" && meta.Name != "" {
		meta.Description = "AI agent token: " + meta.Name
	}
	if meta.Image == "" {
		meta.Image = DefaultImage
	}
	if meta.ChainID == 0 {
		meta.ChainID = defaultChainID
	}
	return meta
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) > n {
		return strings.TrimSpace(string(runes[:n]))
	}
	return s
}

// Register creates the token record for the process at address. Any failure,
// including a success=false answer, is returned as *RegistrationError.
func (r *Registrar) Register(ctx context.Context, address interfaces.ProcessAddress, meta interfaces.RegistrationMetadata) (*interfaces.RegistrationRecord, error) {
	meta = NormalizeMetadata(meta, r.defaultChainID)

	resp, err := r.backend.Tokenize(ctx, &interfaces.TokenizeRequest{
		AgentAddress: address.String(),
		Name:         meta.Name,
		Symbol:       meta.Symbol,
		Description:  meta.Description,
		Image:        meta.Image,
		ChainID:      meta.ChainID,
	})
	if err != nil {
		return nil, &RegistrationError{ProcessAddress: address, Err: err}
	}

	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "unknown error"
		}
		return nil, &RegistrationError{ProcessAddress: address, Err: fmt.Errorf("%w: %s", ErrRegistrationRejected, msg)}
	}

	if resp.Data == nil {
		return nil, &RegistrationError{ProcessAddress: address, Err: ErrMissingTokenID}
	}

	tokenID := firstNonEmpty(string(resp.Data.ID), string(resp.Data.TokenID))
	if tokenID == "" {
		return nil, &RegistrationError{ProcessAddress: address, Err: ErrMissingTokenID}
	}

	record := &interfaces.RegistrationRecord{
		TokenID:        tokenID,
		ProcessAddress: address,
		ChainID:        meta.ChainID,
		HandoffLink:    firstNonEmpty(resp.Data.HandoffLink, resp.Data.HandoffLinkSnake),
		RegisteredAt:   r.now(),
	}

	if record.HandoffLink == "" {
		record.HandoffLink = HandoffLink(r.frontendBase, tokenID)
	}

	if tokenAddress := firstNonEmpty(resp.Data.TokenAddress, resp.Data.Address); tokenAddress != "" {
		if common.IsHexAddress(tokenAddress) {
			record.TokenAddress = common.HexToAddress(tokenAddress).Hex()
		} else {
			r.log.Warn("ignoring malformed token address", "token_address", tokenAddress, "token_id", tokenID)
		}
	}

	r.log.Info("token registered", "address", address, "token_id", tokenID, "chain_id", meta.ChainID, "handoff_link", record.HandoffLink)
	return record, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
