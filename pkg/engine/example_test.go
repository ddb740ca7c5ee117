package engine_test

import (
	"context"
	"fmt"
	"os"

	"github.com/openfroyo/cookbot/pkg/engine"
	"github.com/openfroyo/cookbot/pkg/stack"
)

// environment switches the "environment" context key while it is entered.
type environment struct {
	engine.Base
}

func (e *environment) EnterContext(ctx context.Context) error {
	e.Stack().Push("environment")
	e.Stack().Set("environment", e.Name())
	return nil
}

func (e *environment) ExitContext(ctx context.Context) error {
	_, err := e.Stack().Pop("environment")
	return err
}

// service prints the environment it is installed in.
type service struct {
	engine.Base
}

func (s *service) Install(ctx context.Context) error {
	env, _ := stack.LookupOr(s.Stack(), "environment", "none")
	fmt.Printf("installing %s in %s\n", s.Name(), env)
	return nil
}

// Example demonstrates running install across a small tree.
func Example() {
	prod := &environment{Base: engine.NewBase("prod", nil, nil)}
	prod.Parts = []engine.Recipe{
		&service{Base: engine.NewBase("nginx", nil, nil)},
		&service{Base: engine.NewBase("django", nil, nil)},
	}

	st := stack.New()
	if err := engine.NewWalker().Execute(context.Background(), st, prod, engine.CommandInstall, nil); err != nil {
		fmt.Println("error:", err)
	}

	// Output:
	// installing nginx in prod
	// installing django in prod
}

// Example_plan prints the hook calls an update would make.
func Example_plan() {
	root := engine.NewRecipe("main", nil)
	root.Node().Requirements = []engine.Recipe{engine.NewRecipe("db", nil)}
	root.Node().Parts = []engine.Recipe{engine.NewRecipe("web", nil)}

	plan, err := engine.BuildPlan(context.Background(), root, engine.CommandUpdate, nil)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	_ = plan.Render(os.Stdout)

	// Output:
	// Plan for "update" on main (9 calls)
	//    1 -> enter db
	//    2  * update db
	//    3 -> enter main
	//    4  * update main
	//    5 -> enter web
	//    6  * update web
	//    7 <- exit web
	//    8 <- exit main
	//    9 <- exit db
}
