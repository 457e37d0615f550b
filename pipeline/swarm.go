package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/ruteri/agent-launch-provisioner/interfaces"
)

// OwnAddressSecret carries each member's own address.
const OwnAddressSecret = "AGENT_ADDRESS"

// Member is one process of a swarm.
type Member struct {
	Role    string
	Request *Request
}

// MemberResult is the outcome for one swarm member.
type MemberResult struct {
	Role        string                        `json:"role"`
	Result      *interfaces.PipelineResult    `json:"result"`
	PeerSecrets []interfaces.SecretAssignment `json:"peer_secrets,omitempty"`
}

// SwarmResult collects the independent member results.
type SwarmResult struct {
	Members []MemberResult `json:"members"`
}

// Succeeded reports whether every member pipeline succeeded and every peer secret was applied.
func (r *SwarmResult) Succeeded() bool {
	for _, m := range r.Members {
		if !m.Result.Succeeded() {
			return false
		}
		for _, s := range m.PeerSecrets {
			if !s.Applied() {
				return false
			}
		}
	}
	return true
}

var nonIdentifier = regexp.MustCompile(`[^A-Z0-9]+`)

// PeerSecretName returns the secret carrying the address of the member with role.
func PeerSecretName(role string) string {
	return strings.Trim(nonIdentifier.ReplaceAllString(strings.ToUpper(role), "_"), "_") + "_ADDRESS"
}

// PeerTokenSecretName returns the secret carrying the token address of the member with role.
func PeerTokenSecretName(role string) string {
	return strings.TrimSuffix(PeerSecretName(role), "_ADDRESS") + "_TOKEN_ADDRESS"
}

// RunSwarm provisions members one after another. Each member gets its own
// independent pipeline result. Once every member has run, a second pass sets
// on each member that has an address its own address as AGENT_ADDRESS and
// every peer's address as <ROLE>_ADDRESS, in member order. Registered peers
// with a token address also get <ROLE>_TOKEN_ADDRESS.
func (o *Orchestrator) RunSwarm(ctx context.Context, members []Member) *SwarmResult {
	result := &SwarmResult{Members: make([]MemberResult, 0, len(members))}

	for _, m := range members {
		o.log.Info("provisioning swarm member", "role", m.Role)
		result.Members = append(result.Members, MemberResult{Role: m.Role, Result: o.Run(ctx, m.Request)})
	}

	for i := range result.Members {
		self := &result.Members[i]
		if self.Result.Process == nil {
			continue
		}

		secrets := []interfaces.Secret{{Name: OwnAddressSecret, Value: self.Result.Process.Address.String()}}
		for j, peer := range result.Members {
			if j == i || peer.Result.Process == nil {
				continue
			}
			secrets = append(secrets, interfaces.Secret{Name: PeerSecretName(peer.Role), Value: peer.Result.Process.Address.String()})
			if peer.Result.Registration != nil && peer.Result.Registration.TokenAddress != "" {
				secrets = append(secrets, interfaces.Secret{Name: PeerTokenSecretName(peer.Role), Value: peer.Result.Registration.TokenAddress})
			}
		}

		self.PeerSecrets = o.secrets.ApplyAll(ctx, self.Result.Process.Address, secrets)
	}

	return result
}
