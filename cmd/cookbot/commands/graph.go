package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/openfroyo/cookbot/pkg/engine"
)

func newGraphCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the tree as Graphviz DOT",
		Example: `  # Render the tree
  cookbot graph | dot -Tsvg > tree.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _, err := a.loadTree()
			if err != nil {
				return err
			}
			dot, err := engine.ToDOT(root)
			if err != nil {
				return err
			}
			printf(a.out, "%s", dot)
			return nil
		},
	}
}

func newCommandsCommand(a *app) *cobra.Command {
	var check string

	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List the commands each recipe exposes",
		Example: `  # List every recipe and its commands
  cookbot commands

  # Fail unless some recipe exposes migrate
  cookbot commands --check migrate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _, err := a.loadTree()
			if err != nil {
				return err
			}

			if check != "" {
				if !root.Node().IsExposed(check, true) {
					return engine.NewCommandError(fmt.Sprintf("no recipe exposes %q", check), nil).
						WithRecipe(root.Node().Name())
				}
				printf(a.out, "%s is exposed\n", check)
				return nil
			}

			infos, err := engine.Describe(root)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			printf(tw, "RECIPE\tKIND\tCOMMANDS\n")
			for _, info := range infos {
				printf(tw, "%s\t%s\t%s\n", info.Path, info.Kind, strings.Join(info.Commands, ", "))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&check, "check", "", "succeed only if some recipe exposes this command")

	return cmd
}
