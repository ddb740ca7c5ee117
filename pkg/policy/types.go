package policy

import (
	"time"

	"github.com/openfroyo/cookbot/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that block the run.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity stop a run.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. It must define a deny set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Recipe is the recipe that violated the policy, if the policy says so.
	Recipe string `json:"recipe,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed indicates if the run may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists the blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that do not block the run.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	// Command is the command about to run.
	Command string `json:"command"`

	// Args are the command arguments.
	Args []string `json:"args"`

	// Root is the name of the root recipe.
	Root string `json:"root"`

	// Recipes lists every recipe of the tree in walk order.
	Recipes []engine.RecipeInfo `json:"recipes"`
}

// NewInput describes the run of command over the tree rooted at root.
func NewInput(root engine.Recipe, command string, args []string) (*Input, error) {
	if root == nil {
		return nil, engine.NewValidationError("a root recipe is required", nil)
	}
	recipes, err := engine.Describe(root)
	if err != nil {
		return nil, err
	}
	if args == nil {
		args = []string{}
	}
	return &Input{
		Command: command,
		Args:    args,
		Root:    root.Node().Name(),
		Recipes: recipes,
	}, nil
}
