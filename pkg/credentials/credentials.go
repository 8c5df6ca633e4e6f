// Package credentials provides bearer credential acquisition and caching
// for the analytics service API. Acquisition is delegated to a pluggable
// source (service principal, default credential chain, static token, or a
// Vault-backed service principal); this package owns only the cache and
// its invalidation discipline.
package credentials

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"golang.org/x/oauth2"

	"github.com/jvreagan/fabric-deploy/pkg/plan"
	"github.com/jvreagan/fabric-deploy/pkg/vault"
)

// DefaultScope is the token scope requested when the plan does not set one.
const DefaultScope = "https://api.fabric.microsoft.com/.default"

// refreshSkew is how long before expiry a cached credential is considered
// stale and re-acquired.
const refreshSkew = 2 * time.Minute

// Credential is an opaque bearer token plus its expiry.
// A zero ExpiresOn means the token does not expire (or its expiry is unknown).
type Credential struct {
	Token     string
	ExpiresOn time.Time
}

// AuthError reports a failed credential acquisition. No deployment is
// attempted once acquisition fails.
type AuthError struct {
	Cause error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Cause)
}

func (e *AuthError) Unwrap() error { return e.Cause }

// Source acquires a fresh credential. Implementations wrap an identity
// provider flow; they never cache.
type Source interface {
	Acquire(ctx context.Context) (Credential, error)
}

// Provider returns cached credentials and supports invalidation.
// All deployment components take a Provider rather than a raw token so
// tests can substitute fakes.
type Provider interface {
	// Token returns a valid credential, acquiring one if the cache is
	// empty or near expiry.
	Token(ctx context.Context) (Credential, error)

	// Invalidate clears the cache; the next Token call re-acquires.
	// Called after the service signals auth expiry mid-run.
	Invalidate()
}

// Cache is the standard Provider implementation. It is safe for concurrent
// readers with single-writer invalidate/refresh.
type Cache struct {
	source Source

	mu     sync.RWMutex
	cached Credential
	valid  bool
}

// NewCache creates a Provider backed by the given source.
func NewCache(source Source) *Cache {
	return &Cache{source: source}
}

// Token returns the cached credential if it is still fresh, otherwise
// acquires a new one. Concurrent callers racing on an empty cache perform
// at most one acquisition.
func (c *Cache) Token(ctx context.Context) (Credential, error) {
	c.mu.RLock()
	if c.valid && fresh(c.cached) {
		cred := c.cached
		c.mu.RUnlock()
		return cred, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock.
	if c.valid && fresh(c.cached) {
		return c.cached, nil
	}

	cred, err := c.source.Acquire(ctx)
	if err != nil {
		c.valid = false
		return Credential{}, &AuthError{Cause: err}
	}

	c.cached = cred
	c.valid = true
	return cred, nil
}

// Invalidate clears the cached credential.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.cached = Credential{}
	c.mu.Unlock()
}

func fresh(cred Credential) bool {
	if cred.ExpiresOn.IsZero() {
		return true
	}
	return time.Now().Add(refreshSkew).Before(cred.ExpiresOn)
}

// azcoreSource adapts an azcore.TokenCredential (service principal or the
// default chain) to the Source contract.
type azcoreSource struct {
	credential azcore.TokenCredential
	scope      string
}

func (s *azcoreSource) Acquire(ctx context.Context) (Credential, error) {
	token, err := s.credential.GetToken(ctx, policy.TokenRequestOptions{
		Scopes: []string{s.scope},
	})
	if err != nil {
		return Credential{}, err
	}
	return Credential{Token: token.Token, ExpiresOn: token.ExpiresOn}, nil
}

// oauth2Source adapts an oauth2.TokenSource (static or externally managed
// tokens) to the Source contract.
type oauth2Source struct {
	source oauth2.TokenSource
}

func (s *oauth2Source) Acquire(ctx context.Context) (Credential, error) {
	token, err := s.source.Token()
	if err != nil {
		return Credential{}, err
	}
	return Credential{Token: token.AccessToken, ExpiresOn: token.Expiry}, nil
}

// NewAzureSource wraps an azcore.TokenCredential as a Source.
func NewAzureSource(credential azcore.TokenCredential, scope string) Source {
	if scope == "" {
		scope = DefaultScope
	}
	return &azcoreSource{credential: credential, scope: scope}
}

// NewOAuth2Source wraps an oauth2.TokenSource as a Source.
func NewOAuth2Source(source oauth2.TokenSource) Source {
	return &oauth2Source{source: source}
}

// FromPlan builds a cached Provider from the plan's credentials section.
//
// Credential sources:
//  1. "service-principal": client ID/secret from the plan file
//  2. "vault": client ID/secret fetched from HashiCorp Vault
//  3. "static-token": a pre-acquired bearer token from the environment
//  4. "default" (or empty): the default credential chain (CLI, managed identity)
func FromPlan(ctx context.Context, p *plan.Plan) (*Cache, error) {
	scope := p.Service.Scope

	switch p.Credentials.Source {
	case "", "default":
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, &AuthError{Cause: fmt.Errorf("failed to create default credential: %w", err)}
		}
		return NewCache(NewAzureSource(cred, scope)), nil

	case "service-principal":
		if p.Credentials.TenantID == "" || p.Credentials.ClientID == "" || p.Credentials.ClientSecret == "" {
			return nil, &AuthError{Cause: fmt.Errorf("service-principal source requires tenant_id, client_id, and client_secret")}
		}
		cred, err := azidentity.NewClientSecretCredential(
			p.Credentials.TenantID,
			p.Credentials.ClientID,
			p.Credentials.ClientSecret,
			nil,
		)
		if err != nil {
			return nil, &AuthError{Cause: fmt.Errorf("failed to create service principal credential: %w", err)}
		}
		return NewCache(NewAzureSource(cred, scope)), nil

	case "static-token":
		envVar := p.Credentials.TokenEnv
		if envVar == "" {
			envVar = "FABRIC_TOKEN"
		}
		token := os.Getenv(envVar)
		if token == "" {
			return nil, &AuthError{Cause: fmt.Errorf("static-token source requires a token in $%s", envVar)}
		}
		source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		return NewCache(NewOAuth2Source(source)), nil

	case "vault":
		sp, err := servicePrincipalFromVault(ctx, p.Vault)
		if err != nil {
			return nil, &AuthError{Cause: err}
		}
		cred, err := azidentity.NewClientSecretCredential(sp.TenantID, sp.ClientID, sp.ClientSecret, nil)
		if err != nil {
			return nil, &AuthError{Cause: fmt.Errorf("failed to create service principal credential from vault: %w", err)}
		}
		return NewCache(NewAzureSource(cred, scope)), nil

	default:
		return nil, &AuthError{Cause: fmt.Errorf("unknown credentials source: %s", p.Credentials.Source)}
	}
}

// servicePrincipalFromVault authenticates to Vault and fetches the service
// principal fields from the configured KV v2 path.
func servicePrincipalFromVault(ctx context.Context, cfg *plan.VaultConfig) (*vault.ServicePrincipal, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vault configuration is required for the vault credential source")
	}

	client, err := vault.NewClient(&vault.Config{
		Address: cfg.Address,
		Auth: vault.AuthConfig{
			Method:   cfg.AuthMethod,
			Token:    cfg.Token,
			RoleID:   cfg.RoleID,
			SecretID: cfg.SecretID,
		},
		TLSSkipVerify: cfg.TLSSkipVerify,
	})
	if err != nil {
		return nil, err
	}
	defer client.Close()

	if err := client.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("vault authentication failed: %w", err)
	}

	sp, err := client.GetServicePrincipal(ctx, cfg.SecretPath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch service principal from vault: %w", err)
	}
	return sp, nil
}
