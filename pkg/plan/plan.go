// Package plan provides types and functions for parsing and validating
// fabric-deploy plan files. Plans are YAML files that declare the target
// workspace, the credential source, and the ordered set of artifacts to
// deploy, including the dependency edges and property bindings between them.
package plan

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// Plan represents the complete deployment configuration for one run.
// It defines the target workspace, how to authenticate to the service,
// retry behavior, and the artifacts to deploy in dependency order.
//
// Example:
//
//	plan := &Plan{
//	  Workspace: WorkspaceConfig{Name: "Sales Analytics"},
//	  Artifacts: []Artifact{{Name: "model", Kind: "SemanticModel"}},
//	}
type Plan struct {
	// Version of the plan schema (currently "1.0")
	Version string `yaml:"version"`

	// Workspace is the deployment target configuration
	Workspace WorkspaceConfig `yaml:"workspace"`

	// Service configuration (API endpoint, token scope)
	Service ServiceConfig `yaml:"service"`

	// Credentials configuration (source, service principal, vault)
	Credentials CredentialsConfig `yaml:"credentials"`

	// Vault configuration for the "vault" credential source - optional
	Vault *VaultConfig `yaml:"vault,omitempty"`

	// Run configuration (parallelism, failure policy) - optional
	Run RunConfig `yaml:"run,omitempty"`

	// Retry configuration for transient upload failures - optional
	Retry RetryConfig `yaml:"retry,omitempty"`

	// Artifacts to deploy, in dependency order. Every dependency and
	// binding reference must name an artifact that appears earlier in
	// this list.
	Artifacts []Artifact `yaml:"artifacts"`
}

// WorkspaceConfig identifies the deployment target.
// A workspace is created on first deployment and looked up by name on
// every subsequent run.
type WorkspaceConfig struct {
	// Name of the workspace (must be unique within the tenant)
	Name string `yaml:"name"`

	// Description applied when the workspace is first created - optional
	Description string `yaml:"description,omitempty"`
}

// ServiceConfig specifies how to reach the analytics service.
type ServiceConfig struct {
	// Endpoint is the API base URL (default: https://api.fabric.microsoft.com/v1)
	Endpoint string `yaml:"endpoint,omitempty"`

	// Scope requested when acquiring tokens
	// (default: https://api.fabric.microsoft.com/.default)
	Scope string `yaml:"scope,omitempty"`
}

// CredentialsConfig specifies how to authenticate to the service.
// Note: It's recommended to use the default credential chain, a static
// token from the environment, or Vault instead of storing secrets in
// the plan file.
type CredentialsConfig struct {
	// Source of the credential: "default", "service-principal",
	// "static-token", or "vault" (default: "default")
	Source string `yaml:"source,omitempty"`

	// Service principal: tenant ID
	TenantID string `yaml:"tenant_id,omitempty"`

	// Service principal: client ID
	ClientID string `yaml:"client_id,omitempty"`

	// Service principal: client secret (prefer vault or environment)
	ClientSecret string `yaml:"client_secret,omitempty"`

	// Static token: environment variable holding a pre-acquired bearer
	// token (default: FABRIC_TOKEN)
	TokenEnv string `yaml:"token_env,omitempty"`
}

// VaultConfig specifies where to fetch the service principal secret when
// the credential source is "vault".
type VaultConfig struct {
	// Address is the Vault server address (e.g., "http://127.0.0.1:8200")
	Address string `yaml:"address"`

	// AuthMethod is the Vault auth method: "token" or "approle"
	AuthMethod string `yaml:"auth_method"`

	// Token for token authentication
	Token string `yaml:"token,omitempty"`

	// RoleID for AppRole authentication
	RoleID string `yaml:"role_id,omitempty"`

	// SecretID for AppRole authentication
	SecretID string `yaml:"secret_id,omitempty"`

	// SecretPath is the KV v2 path holding the service principal fields
	// (e.g., "secret/data/fabric/deployer")
	SecretPath string `yaml:"secret_path"`

	// TLSSkipVerify skips TLS certificate verification (not recommended)
	TLSSkipVerify bool `yaml:"tls_skip_verify,omitempty"`
}

// RunConfig controls how the deployer walks the plan.
type RunConfig struct {
	// MaxParallel bounds concurrent uploads of independent artifacts.
	// 0 or 1 means strictly sequential (the default).
	MaxParallel int `yaml:"max_parallel,omitempty"`

	// OnFailure selects the halt policy: "halt" stops the whole run on
	// the first unrecoverable failure (default); "continue-independent"
	// keeps deploying artifacts that do not depend on the failed one.
	OnFailure string `yaml:"on_failure,omitempty"`
}

// RetryConfig controls retries of transient and rate-limited upload failures.
type RetryConfig struct {
	// MaxAttempts per artifact including the first try (default: 3)
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// InitialBackoff before the first retry; doubles per attempt
	// (default: 2s)
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`

	// RequestTimeout applied to every individual API call (default: 2m)
	RequestTimeout time.Duration `yaml:"request_timeout,omitempty"`
}

// Artifact is one declared deployment unit.
type Artifact struct {
	// Name of the artifact, unique within the plan. Used by other
	// artifacts' depends_on and bindings to reference this one.
	Name string `yaml:"name"`

	// Kind of the artifact (e.g., "SemanticModel", "Report")
	Kind string `yaml:"kind"`

	// Source locates the artifact's definition content
	Source SourceConfig `yaml:"source"`

	// DependsOn lists artifacts that must deploy before this one - optional
	DependsOn []string `yaml:"depends_on,omitempty"`

	// Bindings maps a property name to the name of another artifact;
	// the deployer substitutes that artifact's service-assigned ID
	// before upload - optional
	Bindings map[string]string `yaml:"bindings,omitempty"`
}

// SourceConfig specifies where the artifact's definition content is located.
type SourceConfig struct {
	// Type of source: "local" (directory tree) or "azblob"
	// (blob storage prefix)
	Type string `yaml:"type"`

	// Path to the content: a directory for "local", or an
	// azblob://<container>/<prefix> URL for "azblob"
	Path string `yaml:"path"`
}

// Dependencies returns the artifact's full dependency set: the declared
// depends_on entries plus every artifact referenced by a binding, sorted
// and de-duplicated.
func (a *Artifact) Dependencies() []string {
	seen := make(map[string]bool, len(a.DependsOn)+len(a.Bindings))
	for _, d := range a.DependsOn {
		seen[d] = true
	}
	for _, target := range a.Bindings {
		seen[target] = true
	}
	deps := make([]string, 0, len(seen))
	for d := range seen {
		deps = append(deps, d)
	}
	sort.Strings(deps)
	return deps
}

// Load reads a plan file from disk, parses it, and validates it.
// Returns an error if the file cannot be read, is invalid YAML, or fails
// validation.
//
// Example:
//
//	p, err := plan.Load("deploy-plan.yaml")
//	if err != nil {
//	  log.Fatal(err)
//	}
func Load(filename string) (*Plan, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &p, nil
}
