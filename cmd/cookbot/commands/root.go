package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/openfroyo/cookbot/pkg/config"
)

// settings are the layered command line settings: flags, then COOKBOT_*
// environment variables, then cookbot.yaml.
type settings struct {
	Config       string   `mapstructure:"config" validate:"required"`
	Section      string   `mapstructure:"section" validate:"required"`
	LogLevel     string   `mapstructure:"log-level" validate:"oneof=trace debug info warn error disabled"`
	LogFormat    string   `mapstructure:"log-format" validate:"oneof=console json"`
	Policy       []string `mapstructure:"policy"`
	Unwind       bool     `mapstructure:"unwind"`
	Trace        string   `mapstructure:"trace" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string   `mapstructure:"otlp-endpoint" validate:"required_if=Trace otlp"`
	MetricsFile  string   `mapstructure:"metrics-file"`
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	a := newApp()
	rootCmd := newRootCommand(a, version, commit, buildDate)
	err := rootCmd.ExecuteContext(ctx)
	if shutdownErr := a.shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
		log.Warn().Err(shutdownErr).Msg("Failed to flush telemetry")
	}
	return err
}

func newRootCommand(a *app, version, commit, buildDate string) *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   "cookbot",
		Short: "cookbot - recipe tree provisioning",
		Long: `cookbot models an infrastructure topology as a tree of recipes and runs
lifecycle commands across it in dependency order.

Each section of the tree definition is a recipe. A recipe's requirements
are set up before it and torn down after it; its parts run inside it.
Install, update and uninstall are built in, and recipes may expose their
own commands.

Recipe kinds:
  directory, environment, exec, file, machine, sqlite, starlark, user, wasm`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := readSettingsFile(v); err != nil {
				return err
			}
			if err := v.Unmarshal(&a.settings); err != nil {
				return fmt.Errorf("failed to decode settings: %w", err)
			}
			if err := validator.New().Struct(a.settings); err != nil {
				return fmt.Errorf("invalid settings: %w", err)
			}
			return a.setup(cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return errors.New("a command is required")
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", config.DefaultPath, "recipe tree definition (.cfg, .ini, .yaml, .cue)")
	flags.StringP("section", "s", config.DefaultSection, "section the tree is built from")
	flags.String("log-level", "info", "log level (trace, debug, info, warn, error, disabled)")
	flags.String("log-format", "console", "log format (console, json)")
	flags.StringSlice("policy", nil, "Rego policy files or directories checked before every run")
	flags.Bool("unwind", false, "exit every entered recipe when a run fails")
	flags.String("trace", "none", "trace exporter (none, stdout, otlp)")
	flags.String("otlp-endpoint", "localhost:4317", "OTLP gRPC collector address")
	flags.String("metrics-file", "", "write Prometheus metrics to this textfile after the run")

	v.SetEnvPrefix("COOKBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetConfigName("cookbot")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home + "/.config/cookbot")
	}
	cobra.CheckErr(v.BindPFlags(flags))

	rootCmd.AddCommand(
		newLifecycleCommand(a, "install", "Install the tree"),
		newLifecycleCommand(a, "update", "Update the tree"),
		newLifecycleCommand(a, "uninstall", "Uninstall the tree"),
		newRunCommand(a),
		newPlanCommand(a),
		newValidateCommand(a),
		newGraphCommand(a),
		newCommandsCommand(a),
		newWatchCommand(a),
		newInitCommand(a),
	)

	return rootCmd
}

// readSettingsFile reads cookbot.yaml when there is one.
func readSettingsFile(v *viper.Viper) error {
	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err == nil || errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("failed to read settings file: %w", err)
}

// passthrough stops flag parsing at the first argument, so flags after the
// command name reach the recipes.
func passthrough(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().SetInterspersed(false)
	return cmd
}

// printf writes to w, ignoring errors like fmt.Printf does.
func printf(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}
