package deploy

import (
	"strings"
	"testing"

	"github.com/jvreagan/fabric-deploy/pkg/types"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name      string
		outcomes  []types.ArtifactOutcome
		succeeded bool
	}{
		{
			name: "all succeeded",
			outcomes: []types.ArtifactOutcome{
				{Name: "model", State: types.StateSucceeded, Result: &types.ArtifactResult{ID: "M1"}},
				{Name: "report", State: types.StateSucceeded, Result: &types.ArtifactResult{ID: "R1"}},
			},
			succeeded: true,
		},
		{
			name: "one failed",
			outcomes: []types.ArtifactOutcome{
				{Name: "model", State: types.StateFailed, FailureKind: "invalid-content", Cause: "rejected"},
				{Name: "report", State: types.StateSkipped, Cause: "upstream artifact \"model\" failed"},
			},
			succeeded: false,
		},
		{
			name: "skip alone is a failure",
			outcomes: []types.ArtifactOutcome{
				{Name: "model", State: types.StateSucceeded, Result: &types.ArtifactResult{ID: "M1"}},
				{Name: "report", State: types.StateSkipped, Cause: "run cancelled"},
			},
			succeeded: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := Summarize("Sales", "W1", tt.outcomes)
			if report.Succeeded != tt.succeeded {
				t.Errorf("Succeeded = %v, want %v", report.Succeeded, tt.succeeded)
			}
			if report.WorkspaceName != "Sales" || report.WorkspaceID != "W1" {
				t.Errorf("workspace fields lost: %+v", report)
			}
			if len(report.Outcomes) != len(tt.outcomes) {
				t.Errorf("outcome count = %d, want %d", len(report.Outcomes), len(tt.outcomes))
			}
		})
	}
}

func TestFormat(t *testing.T) {
	report := Summarize("Sales", "W1", []types.ArtifactOutcome{
		{Name: "model", State: types.StateSucceeded, Result: &types.ArtifactResult{ID: "M1"}},
		{Name: "report", State: types.StateFailed, FailureKind: "invalid-content", Cause: "part is malformed"},
		{Name: "dashboard", State: types.StateSkipped, Cause: "upstream artifact \"report\" failed"},
	})

	out := Format(report)
	for _, want := range []string{
		"Workspace: Sales (W1)",
		"model: succeeded (id: M1)",
		"report: failed (invalid-content): part is malformed",
		"dashboard: skipped: upstream artifact \"report\" failed",
		"Deployment failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Format output missing %q:\n%s", want, out)
		}
	}
}
