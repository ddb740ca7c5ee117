// Package recipes provides the recipe kinds cookbot ships with.
//
// Register installs them into a config.Registry:
//
//	reg := config.NewRegistry()
//	if err := recipes.Register(reg, recipes.WithLogger(logger)); err != nil {
//		return err
//	}
//	root, _, err := config.LoadTree("cookbot.cfg", "", reg, logger)
//
// Context recipes change where and how the recipes of their subtree run:
//
//	environment  pushes its name and env.<NAME> variables
//	user         runs commands as another user through sudo
//	directory    creates a directory and makes it the working directory
//	machine      connects over SSH; commands and files go to that host
//	sqlite       creates and migrates a local database, pushes its path
//
// Resource recipes do the work:
//
//	exec      shell lines per command, with an optional check line
//	file      file content and mode
//	starlark  hooks and commands written as Starlark functions
//	wasm      a WASI module started once per command
//
// Frames are pushed by EnterContext and popped by ExitContext, so a part
// sees the innermost value of every key set by the recipes above it.
package recipes
