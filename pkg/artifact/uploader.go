// Package artifact uploads one artifact's definition to a workspace with
// create-or-overwrite semantics and a per-failure-kind retry policy.
package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/jvreagan/fabric-deploy/pkg/credentials"
	"github.com/jvreagan/fabric-deploy/pkg/fabric"
	"github.com/jvreagan/fabric-deploy/pkg/logging"
	"github.com/jvreagan/fabric-deploy/pkg/plan"
	"github.com/jvreagan/fabric-deploy/pkg/types"
)

// DeployError reports a failed artifact upload after the retry policy is
// exhausted.
type DeployError struct {
	// Artifact is the plan name of the failed artifact
	Artifact string

	// Kind classifies the final failure
	Kind fabric.FailureKind

	// Cause is the underlying error
	Cause error
}

func (e *DeployError) Error() string {
	return fmt.Sprintf("failed to deploy %q: %s: %v", e.Artifact, e.Kind, e.Cause)
}

func (e *DeployError) Unwrap() error { return e.Cause }

// API is the slice of the service surface the uploader needs.
type API interface {
	ListItems(ctx context.Context, workspaceID string) ([]fabric.Item, error)
	CreateItem(ctx context.Context, workspaceID string, req fabric.ItemRequest) (fabric.Item, error)
	UpdateItemDefinition(ctx context.Context, workspaceID, itemID string, req fabric.ItemRequest) error
}

// Uploader deploys artifacts to a workspace.
type Uploader struct {
	api     API
	creds   credentials.Provider
	content fabric.ContentLoader

	maxAttempts    int
	initialBackoff time.Duration
}

// NewUploader creates an Uploader. Zero retry settings take the defaults
// (3 attempts, 2s initial backoff).
func NewUploader(api API, creds credentials.Provider, content fabric.ContentLoader, retry plan.RetryConfig) *Uploader {
	u := &Uploader{
		api:            api,
		creds:          creds,
		content:        content,
		maxAttempts:    retry.MaxAttempts,
		initialBackoff: retry.InitialBackoff,
	}
	if u.maxAttempts <= 0 {
		u.maxAttempts = 3
	}
	if u.initialBackoff <= 0 {
		u.initialBackoff = 2 * time.Second
	}
	return u
}

// Deploy pushes the artifact's definition to the workspace, with the
// resolved property bindings injected. If an item with the same name and
// kind already exists its definition is overwritten, so re-running with
// identical content is idempotent. resolvedProperties must already contain
// concrete values; the uploader never resolves binding names itself.
func (u *Uploader) Deploy(ctx context.Context, workspaceID string, spec plan.Artifact, resolvedProperties map[string]string) (*types.ArtifactResult, error) {
	definition, err := u.content.Load(ctx, spec.Source)
	if err != nil {
		return nil, &DeployError{Artifact: spec.Name, Kind: fabric.KindInvalidContent, Cause: err}
	}

	req := fabric.ItemRequest{
		DisplayName: spec.Name,
		Type:        spec.Kind,
		Definition:  definition,
		Properties:  resolvedProperties,
	}

	var item fabric.Item
	err = u.withRetry(ctx, spec.Name, func() error {
		deployed, err := u.upload(ctx, workspaceID, req)
		if err != nil {
			return err
		}
		item = deployed
		return nil
	})
	if err != nil {
		return nil, &DeployError{Artifact: spec.Name, Kind: fabric.ErrorKind(err), Cause: err}
	}

	return &types.ArtifactResult{
		ID:          item.ID,
		DisplayName: item.DisplayName,
		Kind:        item.Type,
		DeployedAt:  time.Now().UTC(),
	}, nil
}

// upload performs one create-or-overwrite attempt.
func (u *Uploader) upload(ctx context.Context, workspaceID string, req fabric.ItemRequest) (fabric.Item, error) {
	items, err := u.api.ListItems(ctx, workspaceID)
	if err != nil {
		return fabric.Item{}, err
	}

	for _, existing := range items {
		if existing.DisplayName == req.DisplayName && existing.Type == req.Type {
			logging.Info("overwriting artifact", "name", req.DisplayName, "kind", req.Type, "id", existing.ID)
			if err := u.api.UpdateItemDefinition(ctx, workspaceID, existing.ID, req); err != nil {
				return fabric.Item{}, err
			}
			return existing, nil
		}
	}

	logging.Info("creating artifact", "name", req.DisplayName, "kind", req.Type)
	return u.api.CreateItem(ctx, workspaceID, req)
}
