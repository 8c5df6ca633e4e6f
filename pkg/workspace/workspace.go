// Package workspace resolves the deployment target: it looks up a workspace
// by name and creates it only when absent, returning the service-assigned
// identifier either way.
package workspace

import (
	"context"
	"fmt"

	"github.com/jvreagan/fabric-deploy/pkg/fabric"
	"github.com/jvreagan/fabric-deploy/pkg/logging"
)

// Error reports a failed workspace resolution. It is fatal for the run.
type Error struct {
	Name  string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to resolve workspace %q: %v", e.Name, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// API is the slice of the service surface the resolver needs.
type API interface {
	ListWorkspaces(ctx context.Context) ([]fabric.Workspace, error)
	CreateWorkspace(ctx context.Context, name, description string) (fabric.Workspace, error)
}

// Resolver ensures a named workspace exists.
type Resolver struct {
	api API
}

// NewResolver creates a Resolver over the given API.
func NewResolver(api API) *Resolver {
	return &Resolver{api: api}
}

// Ensure returns the identifier of the workspace with the given name,
// creating it if it does not exist. Re-running never mutates an existing
// workspace. Two callers racing to create the same name both succeed: a
// create that loses the race re-resolves by name instead of propagating
// the conflict.
func (r *Resolver) Ensure(ctx context.Context, name, description string) (string, error) {
	if name == "" {
		return "", &Error{Name: name, Cause: fmt.Errorf("workspace name is required")}
	}

	id, err := r.lookup(ctx, name)
	if err != nil {
		return "", &Error{Name: name, Cause: err}
	}
	if id != "" {
		logging.Info("workspace exists", "name", name, "id", id)
		return id, nil
	}

	logging.Info("creating workspace", "name", name)
	ws, err := r.api.CreateWorkspace(ctx, name, description)
	if err == nil {
		return ws.ID, nil
	}

	if !fabric.IsConflict(err) {
		return "", &Error{Name: name, Cause: err}
	}

	// Lost a create race; the workspace exists now.
	id, lookupErr := r.lookup(ctx, name)
	if lookupErr != nil {
		return "", &Error{Name: name, Cause: lookupErr}
	}
	if id == "" {
		return "", &Error{Name: name, Cause: err}
	}
	logging.Info("workspace created concurrently", "name", name, "id", id)
	return id, nil
}

// lookup returns the id of the workspace with the given display name, or
// empty when absent.
func (r *Resolver) lookup(ctx context.Context, name string) (string, error) {
	workspaces, err := r.api.ListWorkspaces(ctx)
	if err != nil {
		return "", err
	}
	for _, ws := range workspaces {
		if ws.DisplayName == name {
			return ws.ID, nil
		}
	}
	return "", nil
}
