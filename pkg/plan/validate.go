package plan

import "fmt"

// ValidationError reports an invalid plan. It is produced before any
// network call is made, so an invalid plan never causes a partial
// deployment.
type ValidationError struct {
	// Artifact is the offending artifact name, if the problem is
	// artifact-scoped; empty for plan-level problems.
	Artifact string

	// Reason describes what is invalid
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Artifact == "" {
		return fmt.Sprintf("invalid plan: %s", e.Reason)
	}
	return fmt.Sprintf("invalid plan: artifact %q: %s", e.Artifact, e.Reason)
}

// Validate checks that the plan has all required fields and that the
// artifact sequence is a valid dependency order: names are unique and
// non-empty, and every depends_on and binding reference names an artifact
// that appears strictly earlier in the list. Because references may only
// point backwards, a valid plan is necessarily acyclic.
func (p *Plan) Validate() error {
	if p.Workspace.Name == "" {
		return &ValidationError{Reason: "workspace name is required"}
	}
	if len(p.Artifacts) == 0 {
		return &ValidationError{Reason: "at least one artifact is required"}
	}
	if p.Vault == nil && p.Credentials.Source == "vault" {
		return &ValidationError{Reason: "credentials source is vault but no vault section is present"}
	}
	if p.Run.OnFailure != "" && p.Run.OnFailure != "halt" && p.Run.OnFailure != "continue-independent" {
		return &ValidationError{Reason: fmt.Sprintf("unknown on_failure policy %q", p.Run.OnFailure)}
	}

	position := make(map[string]int, len(p.Artifacts))
	for i, a := range p.Artifacts {
		if a.Name == "" {
			return &ValidationError{Reason: fmt.Sprintf("artifact at index %d has no name", i)}
		}
		if _, dup := position[a.Name]; dup {
			return &ValidationError{Artifact: a.Name, Reason: "duplicate artifact name"}
		}
		if a.Kind == "" {
			return &ValidationError{Artifact: a.Name, Reason: "kind is required"}
		}
		if a.Source.Path == "" {
			return &ValidationError{Artifact: a.Name, Reason: "source path is required"}
		}

		for _, dep := range a.Dependencies() {
			if dep == a.Name {
				return &ValidationError{Artifact: a.Name, Reason: "artifact depends on itself"}
			}
			if _, known := position[dep]; !known {
				return &ValidationError{Artifact: a.Name, Reason: fmt.Sprintf("references %q which does not appear earlier in the plan", dep)}
			}
		}

		position[a.Name] = i
	}

	return nil
}

// TransitiveDependents returns the names of every artifact that depends,
// directly or through other artifacts, on the named one. The deployer uses
// this to mark downstream artifacts skipped when an upstream upload fails.
func (p *Plan) TransitiveDependents(name string) map[string]bool {
	dependents := make(map[string]bool)
	// Artifacts are in dependency order, so one forward pass suffices.
	for _, a := range p.Artifacts {
		for _, dep := range a.Dependencies() {
			if dep == name || dependents[dep] {
				dependents[a.Name] = true
				break
			}
		}
	}
	return dependents
}

// Artifact returns the named artifact, or nil if it is not in the plan.
func (p *Plan) Artifact(name string) *Artifact {
	for i := range p.Artifacts {
		if p.Artifacts[i].Name == name {
			return &p.Artifacts[i]
		}
	}
	return nil
}
