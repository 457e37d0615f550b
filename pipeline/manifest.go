package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ruteri/agent-launch-provisioner/codebundle"
	"github.com/ruteri/agent-launch-provisioner/interfaces"
	"github.com/ruteri/agent-launch-provisioner/secretstore"
	"gopkg.in/yaml.v3"
)

// OwnerAddressSecret carries the swarm owner's address to every member.
const OwnerAddressSecret = "AGENT_OWNER_ADDRESS"

// Manifest describes a swarm in YAML:
//
//	name: genesis
//	owner: fetch1...
//	secrets:
//	  - name: AGENTVERSE_API_KEY
//	    value: env:AGENTVERSE_API_KEY
//	members:
//	  - role: oracle
//	    name: Genesis Oracle
//	    files: [oracle.py]
//	    register: true
//	    token:
//	      symbol: ORCL
type Manifest struct {
	Name    string              `yaml:"name"`
	Owner   string              `yaml:"owner"`
	Profile string              `yaml:"profile"`
	Secrets []interfaces.Secret `yaml:"secrets"`
	Members []ManifestMember    `yaml:"members"`

	// dir resolves relative file paths.
	dir string
}

// ManifestMember is one member entry.
type ManifestMember struct {
	Role     string                           `yaml:"role"`
	Name     string                           `yaml:"name"`
	Files    []string                         `yaml:"files"`
	Secrets  []interfaces.Secret              `yaml:"secrets"`
	Register bool                             `yaml:"register"`
	Token    *interfaces.RegistrationMetadata `yaml:"token"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read manifest: %w", err)
	}

	manifest, err := ParseManifest(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	manifest.dir = filepath.Dir(path)
	return manifest, nil
}

// ParseManifest decodes and validates manifest YAML. Unknown keys are rejected.
func ParseManifest(content []byte) (*Manifest, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)

	var manifest Manifest
	if err := decoder.Decode(&manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// Validate checks that members are present with unique roles and at least one file.
func (m *Manifest) Validate() error {
	if len(m.Members) == 0 {
		return errors.New("manifest has no members")
	}

	roles := make(map[string]struct{}, len(m.Members))
	for i, member := range m.Members {
		if member.Role == "" {
			return fmt.Errorf("member %d has no role", i)
		}
		key := PeerSecretName(member.Role)
		if _, dup := roles[key]; dup {
			return fmt.Errorf("duplicate member role %q", member.Role)
		}
		roles[key] = struct{}{}

		if len(member.Files) == 0 {
			return fmt.Errorf("member %q has no files", member.Role)
		}
	}
	return nil
}

// BuildMembers loads member sources and resolves secret references. Shared
// secrets come first, then the owner address, then member secrets.
func (m *Manifest) BuildMembers(ctx context.Context, resolver *secretstore.Resolver) ([]Member, error) {
	members := make([]Member, 0, len(m.Members))
	for _, mm := range m.Members {
		paths := make([]string, 0, len(mm.Files))
		for _, f := range mm.Files {
			if !filepath.IsAbs(f) {
				f = filepath.Join(m.dir, f)
			}
			paths = append(paths, f)
		}

		files, err := codebundle.LoadFiles(paths)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", mm.Role, err)
		}

		secrets := append([]interfaces.Secret(nil), m.Secrets...)
		if m.Owner != "" {
			secrets = append(secrets, interfaces.Secret{Name: OwnerAddressSecret, Value: m.Owner})
		}
		secrets = append(secrets, mm.Secrets...)

		secrets, err = resolver.ResolveAll(ctx, secrets)
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", mm.Role, err)
		}

		name := mm.Name
		if name == "" {
			name = mm.Role
			if m.Name != "" {
				name = m.Name + " " + mm.Role
			}
		}

		members = append(members, Member{
			Role: mm.Role,
			Request: &Request{
				ProvisioningRequest: interfaces.ProvisioningRequest{
					Name:    name,
					Files:   files,
					Secrets: secrets,
					Profile: m.Profile,
				},
				RegisterAfter: mm.Register,
				Registration:  mm.Token,
			},
		})
	}
	return members, nil
}
