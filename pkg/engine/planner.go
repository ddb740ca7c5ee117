package engine

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/openfroyo/cookbot/pkg/stack"
)

// Plan is the ordered list of hook calls a command would make.
type Plan struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Root    string   `json:"root"`
	Events  []Event  `json:"events"`
}

// BuildPlan walks the tree without calling any hook and returns the calls
// Execute would make for command. Commands are still resolved, so an exposed
// command without an implementation fails the plan.
func BuildPlan(ctx context.Context, root Recipe, command string, args []string) (*Plan, error) {
	if root == nil {
		return nil, NewValidationError("a root recipe is required", nil)
	}
	if err := DetectCycles(root); err != nil {
		return nil, err
	}

	recorder := NewRecorder()
	w := NewWalker(WithDryRun(), WithObserver(recorder))
	// Planning must not rebind recipes to a stack the caller is using.
	prev := snapshotStacks(root)
	defer prev.restore()

	if err := w.Execute(ctx, stack.New(), root, command, args); err != nil {
		return nil, err
	}

	return &Plan{
		Command: command,
		Args:    args,
		Root:    root.Node().Name(),
		Events:  recorder.Events(),
	}, nil
}

// Render writes the plan as a numbered, indented list.
func (p *Plan) Render(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Plan for %q on %s (%d calls)\n", p.Command, p.Root, len(p.Events)); err != nil {
		return err
	}
	for i, ev := range p.Events {
		marker := "  "
		switch ev.Hook {
		case HookEnter:
			marker = "->"
		case HookExit:
			marker = "<-"
		case HookCommand:
			marker = " *"
		}
		line := fmt.Sprintf("%4d %s %s", i+1, marker, ev.String())
		if ev.Kind != "" && ev.Kind != DefaultKind {
			line += fmt.Sprintf(" [%s]", ev.Kind)
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(line, " ")); err != nil {
			return err
		}
	}
	return nil
}

type stackSnapshot map[*Base]*stack.Stack

func snapshotStacks(root Recipe) stackSnapshot {
	snap := make(stackSnapshot)
	_ = Walk(root, func(v Visit) error {
		base := v.Recipe.Node()
		snap[base] = base.Stack()
		return nil
	})
	return snap
}

func (s stackSnapshot) restore() {
	for base, st := range s {
		base.bind(st)
	}
}
