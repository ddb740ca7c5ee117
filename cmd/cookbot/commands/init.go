package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// starterTree is the tree definition written by init.
const starterTree = `# cookbot tree definition
#
# Each section is a recipe. "recipe" names its kind, "requires" and "parts"
# list other sections, every other key is an option.

[main]
parts = workspace

[workspace]
recipe = directory
path = var/cookbot
parts =
    motd
    greeter

[motd]
recipe = file
path = motd
content = Provisioned by cookbot.

[greeter]
recipe = exec
check = test -f greeted
install = cat motd > greeted
commands = greet
greet = echo hello
`

func newInitCommand(a *app) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter tree definition",
		Example: `  # Create etc/cookbot.cfg and install it
  cookbot init && cookbot install`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.settings.Config
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite it", path)
			}

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			if err := os.WriteFile(path, []byte(starterTree), 0o644); err != nil {
				return fmt.Errorf("failed to write tree definition: %w", err)
			}

			printf(a.out, "Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing tree definition")

	return cmd
}
