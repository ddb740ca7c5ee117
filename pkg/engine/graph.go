package engine

import (
	"fmt"
	"strings"
)

// Relation is the edge through which a recipe was reached.
type Relation string

const (
	// RelationRoot marks the root of a walk.
	RelationRoot Relation = "root"

	// RelationRequirement marks a recipe listed in its parent's requirements.
	RelationRequirement Relation = "requirement"

	// RelationPart marks a recipe listed in its parent's parts.
	RelationPart Relation = "part"
)

// Visit describes a recipe reached by Walk.
type Visit struct {
	Recipe   Recipe
	Parent   Recipe
	Path     string
	Depth    int
	Relation Relation
}

// Walk calls fn for every recipe of the tree in pre-order: the recipe, then
// its requirements, then its parts. It fails when a recipe is reachable from
// itself.
func Walk(root Recipe, fn func(v Visit) error) error {
	onPath := make(map[Recipe]bool)
	path := make([]string, 0)

	var visit func(r, parent Recipe, depth int, rel Relation) error
	visit = func(r, parent Recipe, depth int, rel Relation) error {
		base := r.Node()
		path = append(path, base.Name())
		defer func() { path = path[:len(path)-1] }()

		if onPath[r] {
			return NewValidationError(
				fmt.Sprintf("dependency cycle detected: %s", formatCycle(path)),
				nil,
			).WithCode(ErrCodeCycle).WithRecipe(base.Name())
		}
		onPath[r] = true
		defer delete(onPath, r)

		if err := fn(Visit{
			Recipe:   r,
			Parent:   parent,
			Path:     strings.Join(path, "/"),
			Depth:    depth,
			Relation: rel,
		}); err != nil {
			return err
		}

		for _, req := range base.Requirements {
			if err := visit(req, r, depth+1, RelationRequirement); err != nil {
				return err
			}
		}
		for _, part := range base.Parts {
			if err := visit(part, r, depth+1, RelationPart); err != nil {
				return err
			}
		}
		return nil
	}

	if root == nil {
		return nil
	}
	return visit(root, nil, 0, RelationRoot)
}

// DetectCycles returns a cycle error when a recipe of the tree lists itself,
// directly or not, among its requirements or parts.
func DetectCycles(root Recipe) error {
	return Walk(root, func(Visit) error { return nil })
}

// RecipeInfo is a flat description of one recipe of a tree.
type RecipeInfo struct {
	Name     string            `json:"name"`
	Kind     string            `json:"kind"`
	Path     string            `json:"path"`
	Relation Relation          `json:"relation"`
	Options  map[string]string `json:"options"`
	Requires []string          `json:"requires"`
	Parts    []string          `json:"parts"`
	Commands []string          `json:"commands"`
}

// Describe flattens the tree in Walk order.
func Describe(root Recipe) ([]RecipeInfo, error) {
	var infos []RecipeInfo
	err := Walk(root, func(v Visit) error {
		base := v.Recipe.Node()
		options := make(map[string]string, len(base.Options()))
		for k, val := range base.Options() {
			options[k] = val
		}
		infos = append(infos, RecipeInfo{
			Name:     base.Name(),
			Kind:     base.Kind(),
			Path:     v.Path,
			Relation: v.Relation,
			Options:  options,
			Requires: names(base.Requirements),
			Parts:    names(base.Parts),
			Commands: base.Commands(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}

// ToDOT generates a DOT format representation of the tree for visualization.
// Requirement edges are dashed, part edges are solid. The output can be
// rendered with Graphviz tools.
func ToDOT(root Recipe) (string, error) {
	var sb strings.Builder

	sb.WriteString("digraph RecipeTree {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	var edges []string
	err := Walk(root, func(v Visit) error {
		base := v.Recipe.Node()
		label := fmt.Sprintf("%s\\n(%s)", base.Name(), base.Kind())
		sb.WriteString(fmt.Sprintf("  %q [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
			v.Path, label, getKindColor(base.Kind())))

		if v.Parent != nil {
			parentPath := v.Path[:strings.LastIndex(v.Path, "/")]
			edges = append(edges, fmt.Sprintf("  %q -> %q [%s];\n",
				parentPath, v.Path, getRelationStyle(v.Relation)))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	sb.WriteString("\n")
	for _, edge := range edges {
		sb.WriteString(edge)
	}
	sb.WriteString("}\n")
	return sb.String(), nil
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	return strings.Join(cycle, " -> ")
}

// FormatCycle formats a resolution path that loops back on itself.
func FormatCycle(cycle []string) string {
	return formatCycle(cycle)
}

func names(recipes []Recipe) []string {
	out := make([]string, len(recipes))
	for i, r := range recipes {
		out[i] = r.Node().Name()
	}
	return out
}

// getKindColor returns a color for visualizing recipe kinds.
func getKindColor(kind string) string {
	switch kind {
	case "environment", "user", "directory":
		return "lightblue"
	case "machine":
		return "lightgreen"
	case "exec", "starlark", "wasm":
		return "lightyellow"
	case "file", "sqlite":
		return "lightgray"
	default:
		return "white"
	}
}

// getRelationStyle returns a DOT style string for tree edges.
func getRelationStyle(rel Relation) string {
	switch rel {
	case RelationRequirement:
		return "style=dashed, color=blue, label=\"requires\""
	default:
		return "style=solid, color=black"
	}
}
