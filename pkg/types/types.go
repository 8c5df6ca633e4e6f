// Package types provides shared types used across fabric-deploy packages.
package types

import "time"

// ArtifactState is the terminal state of one artifact in a deployment run.
type ArtifactState string

const (
	// StateSucceeded means the artifact was created or overwritten on the service.
	StateSucceeded ArtifactState = "succeeded"

	// StateFailed means the artifact's upload failed and was not recovered
	// by the retry policy.
	StateFailed ArtifactState = "failed"

	// StateSkipped means the artifact was never attempted because an
	// artifact it depends on (directly or transitively) failed, or the run
	// was cancelled before its turn.
	StateSkipped ArtifactState = "skipped"
)

// ArtifactResult contains information about one deployed artifact.
// It is immutable once produced and is looked up by artifact name when
// resolving property bindings for downstream artifacts.
type ArtifactResult struct {
	// ID assigned by the service
	ID string

	// DisplayName reported by the service
	DisplayName string

	// Kind of the artifact (e.g., "SemanticModel", "Report")
	Kind string

	// DeployedAt is when the upload completed
	DeployedAt time.Time
}

// ArtifactOutcome is the terminal record for one artifact in the report.
type ArtifactOutcome struct {
	// Name of the artifact as declared in the plan
	Name string

	// State is the terminal state (succeeded, failed, skipped)
	State ArtifactState

	// Result is set only when State is succeeded
	Result *ArtifactResult

	// FailureKind classifies a failure (e.g., "invalid-content", "binding")
	FailureKind string

	// Cause is a human-readable reason for a failure or skip
	Cause string
}

// DeploymentReport aggregates per-artifact outcomes for one run.
type DeploymentReport struct {
	// WorkspaceName is the resolved deployment target's name
	WorkspaceName string

	// WorkspaceID is the resolved deployment target's identifier
	WorkspaceID string

	// Outcomes in plan order, one per artifact
	Outcomes []ArtifactOutcome

	// Succeeded is true iff every artifact's state is succeeded
	Succeeded bool
}

// Outcome returns the outcome for the named artifact, or nil if the name is
// not present in the report.
func (r *DeploymentReport) Outcome(name string) *ArtifactOutcome {
	for i := range r.Outcomes {
		if r.Outcomes[i].Name == name {
			return &r.Outcomes[i]
		}
	}
	return nil
}
