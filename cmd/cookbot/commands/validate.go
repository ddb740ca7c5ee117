package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/cookbot/pkg/engine"
)

func newValidateCommand(a *app) *cobra.Command {
	var command string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the tree definition and the policies",
		Long: `Parse the tree definition, build the configured section, check it for
cycles and evaluate the policies for a command.

Blocking policy violations make validate fail; warnings are printed.`,
		Example: `  # Check the default tree for an install
  cookbot validate

  # Check that the tree may be uninstalled
  cookbot validate --command uninstall --policy policies/`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, doc, err := a.loadTree()
			if err != nil {
				return err
			}
			if err := engine.DetectCycles(root); err != nil {
				return err
			}
			infos, err := engine.Describe(root)
			if err != nil {
				return err
			}

			eng, err := a.policyEngine(cmd.Context())
			if err != nil {
				return err
			}
			result, err := eng.Check(cmd.Context(), root, command, nil)
			if result != nil {
				for _, w := range result.Warnings {
					printf(a.out, "warning: %s: %s\n", w.Policy, w.Message)
				}
			}
			if err != nil {
				return err
			}

			printf(a.out, "%s: %d recipes from section %q, %d policies passed for %s\n",
				doc.Source, len(infos), a.settings.Section, len(result.EvaluatedPolicies), command)
			return nil
		},
	}
	cmd.Flags().StringVar(&command, "command", engine.CommandInstall, "command the policies are evaluated for")

	return cmd
}
