package deploy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jvreagan/fabric-deploy/pkg/artifact"
	"github.com/jvreagan/fabric-deploy/pkg/fabric"
	"github.com/jvreagan/fabric-deploy/pkg/types"
)

// Summarize aggregates per-artifact outcomes into a report. It is a pure
// function: the overall status is success iff every outcome succeeded.
func Summarize(workspaceName, workspaceID string, outcomes []types.ArtifactOutcome) *types.DeploymentReport {
	report := &types.DeploymentReport{
		WorkspaceName: workspaceName,
		WorkspaceID:   workspaceID,
		Outcomes:      outcomes,
		Succeeded:     true,
	}
	for _, outcome := range outcomes {
		if outcome.State != types.StateSucceeded {
			report.Succeeded = false
		}
	}
	return report
}

// Format renders the report for the terminal: one line per artifact with
// its terminal state and, for failures, the failure kind and cause.
func Format(report *types.DeploymentReport) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Workspace: %s (%s)\n", report.WorkspaceName, report.WorkspaceID)
	for _, outcome := range report.Outcomes {
		switch outcome.State {
		case types.StateSucceeded:
			fmt.Fprintf(&b, "  ✓ %s: succeeded (id: %s)\n", outcome.Name, outcome.Result.ID)
		case types.StateFailed:
			fmt.Fprintf(&b, "  ✗ %s: failed (%s): %s\n", outcome.Name, outcome.FailureKind, outcome.Cause)
		case types.StateSkipped:
			fmt.Fprintf(&b, "  - %s: skipped: %s\n", outcome.Name, outcome.Cause)
		}
	}
	if report.Succeeded {
		b.WriteString("Deployment succeeded\n")
	} else {
		b.WriteString("Deployment failed\n")
	}
	return b.String()
}

// failureKind extracts the taxonomy kind from an upload error.
func failureKind(err error) string {
	var deployErr *artifact.DeployError
	if errors.As(err, &deployErr) {
		return string(deployErr.Kind)
	}
	return string(fabric.ErrorKind(err))
}
