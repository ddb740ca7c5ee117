package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/cookbot/pkg/stack"
)

func TestDetectCycles(t *testing.T) {
	a, b, c := NewRecipe("a", nil), NewRecipe("b", nil), NewRecipe("c", nil)
	a.Node().Requirements = []Recipe{b}
	b.Node().Parts = []Recipe{c}

	if err := DetectCycles(a); err != nil {
		t.Fatalf("Expected no cycle, got: %v", err)
	}

	c.Node().Requirements = []Recipe{a}
	err := DetectCycles(a)
	if !HasCode(err, ErrCodeCycle) {
		t.Fatalf("Expected DEPENDENCY_CYCLE, got: %v", err)
	}
	if !strings.Contains(err.Error(), "a -> b -> c -> a") {
		t.Errorf("Expected the cycle path in the message, got: %v", err)
	}
}

func TestDetectCycles_SharedInstanceIsNotACycle(t *testing.T) {
	nginx := NewRecipe("nginx", nil)
	www, media := NewRecipe("www", nil), NewRecipe("media", nil)
	www.Node().Parts = []Recipe{nginx}
	media.Node().Parts = []Recipe{nginx}
	root := NewRecipe("main", nil)
	root.Node().Parts = []Recipe{www, media}

	if err := DetectCycles(root); err != nil {
		t.Errorf("Expected a shared leaf to be accepted, got: %v", err)
	}
}

func TestDescribe(t *testing.T) {
	root := NewRecipe("main", Options{"recipe": "recipe"})
	db := NewRecipe("db", Options{"path": "app.db"})
	db.Node().SetKind("sqlite")
	root.Node().Requirements = []Recipe{db}
	root.Node().Parts = []Recipe{NewRecipe("web", nil)}

	infos, err := Describe(root)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	var paths []string
	for _, info := range infos {
		paths = append(paths, info.Path)
	}
	if diff := cmp.Diff([]string{"main", "main/db", "main/web"}, paths); diff != "" {
		t.Errorf("Paths mismatch (-want +got):\n%s", diff)
	}
	if infos[0].Requires[0] != "db" || infos[0].Parts[0] != "web" {
		t.Errorf("Unexpected edges: %+v", infos[0])
	}
	if infos[1].Kind != "sqlite" || infos[1].Relation != RelationRequirement || infos[1].Options["path"] != "app.db" {
		t.Errorf("Unexpected requirement description: %+v", infos[1])
	}
}

func TestToDOT(t *testing.T) {
	root := NewRecipe("main", nil)
	root.Node().Requirements = []Recipe{NewRecipe("db", nil)}
	root.Node().Parts = []Recipe{NewRecipe("web", nil)}

	dot, err := ToDOT(root)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	for _, want := range []string{
		"digraph RecipeTree {",
		`"main" -> "main/db" [style=dashed`,
		`"main" -> "main/web" [style=solid`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT output to contain %q, got:\n%s", want, dot)
		}
	}
}

func TestBuildPlan(t *testing.T) {
	tree := trackerTree()
	st := stack.New()
	tree.Node().bind(st)

	plan, err := BuildPlan(context.Background(), tree, "install", nil)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(plan.Events) != 30 {
		t.Fatalf("Expected 30 events, got: %d", len(plan.Events))
	}
	if plan.Events[0].String() != "install Part0" || plan.Events[29].String() != "exit Part0" {
		t.Errorf("Unexpected plan bounds: %s .. %s", plan.Events[0], plan.Events[29])
	}
	if tree.Node().Stack() != st {
		t.Errorf("Expected planning to restore the bound stack")
	}
	if st.Len() != 0 {
		t.Errorf("Expected planning not to run hooks, got keys: %v", st.Keys())
	}

	var sb strings.Builder
	if err := plan.Render(&sb); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(sb.String(), "   1  * install Part0") {
		t.Errorf("Unexpected rendering:\n%s", sb.String())
	}
}
