// Package engine provides the recipe tree and the traversal that runs
// lifecycle commands across it.
//
// # Recipes
//
// A Recipe is a provisionable resource: an environment, a machine, a user, a
// piece of software. Concrete recipes embed Base, which carries the recipe
// name, its merged options, the commands it exposes and two ordered child
// lists:
//
//   - Requirements are dependencies. They are traversed and entered before the
//     recipe and exited only once the recipe and all its parts have exited.
//   - Parts are managed sub-resources. They are traversed after the recipe's
//     own command and exited before the recipe itself.
//
// Every recipe exposes install, update and uninstall. Base implements every
// hook as a no-op; recipes override EnterContext and ExitContext to push and
// pop scoped values on the context stack, and Install, Update and Uninstall to
// do real work. Additional commands are registered with Base.Expose, either
// with an explicit Command or with nil to dispatch to the method named after
// the command.
//
// # Traversal
//
// Walker.Execute visits a tree for one command:
//
//  1. requirements are executed and left open
//  2. the recipe is entered, unless the command is install
//  3. the command runs if the recipe exposes it
//  4. the recipe is entered, if the command is install
//  5. parts are executed and exited
//  6. the recipe exits, then its requirements are moonwalked in reverse
//
// Walker.Moonwalk sweeps a subtree in reverse (parts, self, requirements) and
// is what unwinds requirements kept open by Execute.
//
// The first error stops the traversal. By default recipes entered before the
// failure stay open; WithUnwindOnError exits them, most recent first.
//
// # Observing runs
//
// Observers receive run and hook notifications. Recorder keeps hook events
// in order, and BuildPlan uses a dry-run walker with a Recorder to list the
// calls a command would make without making them.
//
// # Error Classification
//
// Errors are classified for reporting:
//
//   - Transient: failures that may clear up, such as a dropped connection
//   - Permanent: failing hooks and commands
//   - Validation: malformed trees, cycles, missing stacks
//   - Command: commands that are not exposed or cannot be called
//   - Policy: runs rejected by a policy
//
// Hook failures keep their cause in the chain, so errors.Is and errors.As
// still match the original error.
package engine
