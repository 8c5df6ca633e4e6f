// Package deploy walks a validated deployment plan: it resolves each
// artifact's property bindings from the results of its dependencies,
// invokes the uploader, and aggregates per-artifact outcomes into a
// deployment report.
package deploy

import (
	"context"
	"fmt"
	"sync"

	"github.com/jvreagan/fabric-deploy/pkg/logging"
	"github.com/jvreagan/fabric-deploy/pkg/plan"
	"github.com/jvreagan/fabric-deploy/pkg/types"
)

// BindingError reports a property binding whose target has no recorded
// result. Plan validation makes this unreachable for well-formed runs, but
// the deployer refuses to substitute a placeholder value regardless.
type BindingError struct {
	Artifact string
	Property string
	Target   string
}

func (e *BindingError) Error() string {
	return fmt.Sprintf("artifact %q: binding %q references %q which has no deployment result", e.Artifact, e.Property, e.Target)
}

// Uploader deploys a single artifact. Implemented by artifact.Uploader;
// tests substitute fakes.
type Uploader interface {
	Deploy(ctx context.Context, workspaceID string, spec plan.Artifact, resolvedProperties map[string]string) (*types.ArtifactResult, error)
}

// Deployer runs deployment plans.
type Deployer struct {
	uploader Uploader

	maxParallel   int
	haltOnFailure bool
}

// New creates a Deployer. RunConfig defaults: sequential execution, halt
// the run on the first unrecoverable failure.
func New(uploader Uploader, run plan.RunConfig) *Deployer {
	d := &Deployer{
		uploader:      uploader,
		maxParallel:   run.MaxParallel,
		haltOnFailure: run.OnFailure != "continue-independent",
	}
	if d.maxParallel < 1 {
		d.maxParallel = 1
	}
	return d
}

// run tracks the mutable state of one deployment walk. It is owned by the
// Run call that created it; concurrent workers synchronize on mu.
type run struct {
	mu       sync.Mutex
	results  map[string]*types.ArtifactResult
	outcomes map[string]types.ArtifactOutcome
	halted   bool
	skip     map[string]string // artifact name -> skip cause
}

// Run executes the plan against the resolved workspace and returns the
// report. The plan is re-validated first; an invalid plan aborts before any
// upload. Cancelling ctx stops new uploads from being issued; an upload
// already in flight finishes or times out naturally, and every artifact not
// yet attempted is reported skipped.
func (d *Deployer) Run(ctx context.Context, p *plan.Plan, workspaceName, workspaceID string) (*types.DeploymentReport, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	st := &run{
		results:  make(map[string]*types.ArtifactResult, len(p.Artifacts)),
		outcomes: make(map[string]types.ArtifactOutcome, len(p.Artifacts)),
		skip:     make(map[string]string),
	}

	if d.maxParallel == 1 {
		d.runSequential(ctx, p, workspaceID, st)
	} else {
		d.runParallel(ctx, p, workspaceID, st)
	}

	ordered := make([]types.ArtifactOutcome, 0, len(p.Artifacts))
	for _, spec := range p.Artifacts {
		ordered = append(ordered, st.outcomes[spec.Name])
	}
	return Summarize(workspaceName, workspaceID, ordered), nil
}

// runSequential deploys artifacts strictly in plan order.
func (d *Deployer) runSequential(ctx context.Context, p *plan.Plan, workspaceID string, st *run) {
	for _, spec := range p.Artifacts {
		if done := d.preflight(ctx, p, spec, st); done {
			continue
		}
		d.deployOne(ctx, p, spec, workspaceID, st)
	}
}

// runParallel deploys in topological waves: every artifact whose
// dependencies are all satisfied by earlier waves runs in the current wave,
// bounded by maxParallel workers. Outcome maps are guarded by the run mutex;
// no other state is shared across workers.
func (d *Deployer) runParallel(ctx context.Context, p *plan.Plan, workspaceID string, st *run) {
	for _, wave := range waves(p) {
		var wg sync.WaitGroup
		sem := make(chan struct{}, d.maxParallel)

		for _, spec := range wave {
			if done := d.preflight(ctx, p, spec, st); done {
				continue
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(spec plan.Artifact) {
				defer wg.Done()
				defer func() { <-sem }()
				d.deployOne(ctx, p, spec, workspaceID, st)
			}(spec)
		}
		wg.Wait()
	}
}

// waves groups the plan into topological levels: an artifact's level is one
// past the maximum level of its dependencies.
func waves(p *plan.Plan) [][]plan.Artifact {
	level := make(map[string]int, len(p.Artifacts))
	maxLevel := 0
	for _, spec := range p.Artifacts {
		l := 0
		for _, dep := range spec.Dependencies() {
			if level[dep]+1 > l {
				l = level[dep] + 1
			}
		}
		level[spec.Name] = l
		if l > maxLevel {
			maxLevel = l
		}
	}

	grouped := make([][]plan.Artifact, maxLevel+1)
	for _, spec := range p.Artifacts {
		l := level[spec.Name]
		grouped[l] = append(grouped[l], spec)
	}
	return grouped
}

// preflight records a skip outcome when the artifact must not be attempted
// (halted run, failed upstream, or cancellation). Returns true when the
// artifact is already terminal.
func (d *Deployer) preflight(ctx context.Context, p *plan.Plan, spec plan.Artifact, st *run) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	if cause, skipped := st.skip[spec.Name]; skipped {
		st.outcomes[spec.Name] = types.ArtifactOutcome{
			Name:  spec.Name,
			State: types.StateSkipped,
			Cause: cause,
		}
		return true
	}
	if st.halted {
		st.outcomes[spec.Name] = types.ArtifactOutcome{
			Name:  spec.Name,
			State: types.StateSkipped,
			Cause: "run halted by an earlier failure",
		}
		return true
	}
	if ctx.Err() != nil {
		st.outcomes[spec.Name] = types.ArtifactOutcome{
			Name:  spec.Name,
			State: types.StateSkipped,
			Cause: "run cancelled",
		}
		return true
	}
	return false
}

// deployOne resolves bindings, uploads one artifact, and records its
// terminal state.
func (d *Deployer) deployOne(ctx context.Context, p *plan.Plan, spec plan.Artifact, workspaceID string, st *run) {
	props, err := resolveBindings(spec, st)
	if err != nil {
		logging.Error("binding resolution failed", "artifact", spec.Name, "error", err.Error())
		d.recordFailure(p, spec.Name, st, "binding", err)
		return
	}

	result, err := d.uploader.Deploy(ctx, workspaceID, spec, props)
	if err != nil {
		logging.Error("artifact deployment failed", "artifact", spec.Name, "error", err.Error())
		d.recordFailure(p, spec.Name, st, failureKind(err), err)
		return
	}

	logging.Info("artifact deployed", "artifact", spec.Name, "id", result.ID)
	st.mu.Lock()
	st.results[spec.Name] = result
	st.outcomes[spec.Name] = types.ArtifactOutcome{
		Name:   spec.Name,
		State:  types.StateSucceeded,
		Result: result,
	}
	st.mu.Unlock()
}

// resolveBindings maps the artifact's declared bindings to the identifiers
// produced by its dependencies. A reference with no recorded result is a
// BindingError; no placeholder value is ever substituted.
func resolveBindings(spec plan.Artifact, st *run) (map[string]string, error) {
	if len(spec.Bindings) == 0 {
		return nil, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	props := make(map[string]string, len(spec.Bindings))
	for property, target := range spec.Bindings {
		result, ok := st.results[target]
		if !ok || result == nil {
			return nil, &BindingError{Artifact: spec.Name, Property: property, Target: target}
		}
		props[property] = result.ID
	}
	return props, nil
}

// recordFailure marks the artifact failed and either halts the run or marks
// its transitive dependents skipped, per the configured policy.
func (d *Deployer) recordFailure(p *plan.Plan, name string, st *run, kind string, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.outcomes[name] = types.ArtifactOutcome{
		Name:        name,
		State:       types.StateFailed,
		FailureKind: kind,
		Cause:       err.Error(),
	}

	if d.haltOnFailure {
		st.halted = true
		return
	}
	for dependent := range p.TransitiveDependents(name) {
		if _, already := st.skip[dependent]; !already {
			st.skip[dependent] = fmt.Sprintf("upstream artifact %q failed", name)
		}
	}
}
