package commands

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/openfroyo/cookbot/pkg/engine"
)

func newLifecycleCommand(a *app, command, short string) *cobra.Command {
	return passthrough(&cobra.Command{
		Use:   command + " [args...]",
		Short: short,
		Example: `  # ` + short + ` from the default tree
  cookbot ` + command + `

  # Use another tree and section
  cookbot -c etc/staging.cfg -s web ` + command,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), command, args)
		},
	})
}

func newRunCommand(a *app) *cobra.Command {
	return passthrough(&cobra.Command{
		Use:   "run <command> [args...]",
		Short: "Run any command across the tree",
		Long: `Run a command on every recipe of the tree that exposes it, in traversal
order. Arguments after the command name, flags included, are passed to the
recipes.`,
		Example: `  # Run the rotate command of a wasm recipe
  cookbot run rotate --now

  # Apply pending database migrations
  cookbot run migrate up`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), args[0], args[1:])
		},
	})
}

func newPlanCommand(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := passthrough(&cobra.Command{
		Use:   "plan <command> [args...]",
		Short: "Show the hook calls a command would make",
		Long: `Walk the tree as the command would, without calling any hook, and
print every call in order. Policies are checked as for a real run.`,
		Example: `  # What would an install do?
  cookbot plan install

  # Machine readable
  cookbot plan --json uninstall`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := a.prepare(cmd.Context(), args[0], args[1:])
			if err != nil {
				return err
			}
			plan, err := engine.BuildPlan(cmd.Context(), root, args[0], args[1:])
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(plan)
			}
			return plan.Render(a.out)
		},
	})
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "print the plan as JSON")

	return cmd
}
