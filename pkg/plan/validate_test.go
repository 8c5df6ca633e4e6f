package plan

import (
	"errors"
	"testing"
)

func validPlan() *Plan {
	return &Plan{
		Workspace: WorkspaceConfig{Name: "Sales Analytics"},
		Artifacts: []Artifact{
			{Name: "model", Kind: "SemanticModel", Source: SourceConfig{Path: "./model"}},
			{Name: "theme", Kind: "Theme", Source: SourceConfig{Path: "./theme"}},
			{
				Name:      "report",
				Kind:      "Report",
				Source:    SourceConfig{Path: "./report"},
				DependsOn: []string{"model"},
				Bindings:  map[string]string{"semanticModelId": "model"},
			},
			{
				Name:      "dashboard",
				Kind:      "Report",
				Source:    SourceConfig{Path: "./dashboard"},
				DependsOn: []string{"report"},
			},
		},
	}
}

func TestValidateReturnsValidationError(t *testing.T) {
	p := validPlan()
	p.Artifacts[0].Kind = ""

	err := p.Validate()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	if verr.Artifact != "model" {
		t.Errorf("ValidationError.Artifact = %q, want %q", verr.Artifact, "model")
	}
}

func TestTransitiveDependents(t *testing.T) {
	p := validPlan()

	dependents := p.TransitiveDependents("model")
	if !dependents["report"] {
		t.Error("report should be a dependent of model")
	}
	if !dependents["dashboard"] {
		t.Error("dashboard should be a transitive dependent of model")
	}
	if dependents["theme"] {
		t.Error("theme does not depend on model")
	}
	if dependents["model"] {
		t.Error("an artifact is not its own dependent")
	}
}

func TestTransitiveDependentsLeaf(t *testing.T) {
	p := validPlan()
	if got := p.TransitiveDependents("dashboard"); len(got) != 0 {
		t.Errorf("dashboard has no dependents, got %v", got)
	}
}

func TestArtifactLookup(t *testing.T) {
	p := validPlan()
	if a := p.Artifact("report"); a == nil || a.Kind != "Report" {
		t.Errorf("Artifact(report) = %+v", a)
	}
	if a := p.Artifact("missing"); a != nil {
		t.Errorf("Artifact(missing) should be nil, got %+v", a)
	}
}
