package commands

import (
	"context"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/cookbot/pkg/config"
	"github.com/openfroyo/cookbot/pkg/engine"
	"github.com/openfroyo/cookbot/pkg/policy"
	"github.com/openfroyo/cookbot/pkg/recipes"
	"github.com/openfroyo/cookbot/pkg/stack"
	"github.com/openfroyo/cookbot/pkg/telemetry"
)

// app holds what the commands of one invocation share.
type app struct {
	settings settings
	out      io.Writer
	logger   zerolog.Logger
	tel      *telemetry.Telemetry
	policies *policy.Engine

	// recipeOptions are passed to recipes.Register after the logger.
	recipeOptions []recipes.Option
}

func newApp(opts ...recipes.Option) *app {
	return &app{
		logger:        zerolog.Nop(),
		recipeOptions: opts,
	}
}

// setup configures logging and telemetry from the decoded settings.
func (a *app) setup(out, errOut io.Writer) error {
	tcfg := telemetry.DefaultConfig()
	tcfg.Logging.Level = a.settings.LogLevel
	tcfg.Logging.Format = a.settings.LogFormat
	tcfg.Tracing.Enabled = a.settings.Trace != "none"
	tcfg.Tracing.Exporter = a.settings.Trace
	tcfg.Tracing.Endpoint = a.settings.OTLPEndpoint
	tcfg.Metrics.Textfile = a.settings.MetricsFile

	logger, err := telemetry.NewLoggerTo(errOut, tcfg.Logging)
	if err != nil {
		return err
	}
	log.Logger = logger

	tel, err := telemetry.NewWithLogger(tcfg, logger)
	if err != nil {
		return err
	}

	a.out = out
	a.logger = logger
	a.tel = tel
	return nil
}

func (a *app) shutdown(ctx context.Context) error {
	if a.tel == nil {
		return nil
	}
	return a.tel.Shutdown(ctx)
}

// loadTree reads the configured tree definition and builds the configured
// section with every recipe kind registered.
func (a *app) loadTree() (engine.Recipe, *config.Document, error) {
	reg := config.NewRegistry()
	opts := append([]recipes.Option{recipes.WithLogger(a.logger)}, a.recipeOptions...)
	if err := recipes.Register(reg, opts...); err != nil {
		return nil, nil, err
	}
	return config.LoadTree(a.settings.Config, a.settings.Section, reg, a.logger)
}

// policyEngine returns the policy engine with the built-in policies and the
// configured policy paths, loading them on first use.
func (a *app) policyEngine(ctx context.Context) (*policy.Engine, error) {
	if a.policies != nil {
		return a.policies, nil
	}

	eng, err := policy.NewEngine(a.logger)
	if err != nil {
		return nil, err
	}
	if len(a.settings.Policy) > 0 {
		if err := eng.LoadPolicies(ctx, a.settings.Policy); err != nil {
			return nil, err
		}
	}

	a.policies = eng
	return eng, nil
}

// prepare loads the tree and checks it against the policies for command.
func (a *app) prepare(ctx context.Context, command string, args []string) (engine.Recipe, error) {
	root, _, err := a.loadTree()
	if err != nil {
		return nil, err
	}

	if !root.Node().IsExposed(command, true) {
		a.logger.Warn().
			Str("command", command).
			Str("root", root.Node().Name()).
			Msg("No recipe in the tree exposes this command, nothing will run")
	}

	eng, err := a.policyEngine(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := eng.Check(ctx, root, command, args); err != nil {
		return nil, err
	}
	return root, nil
}

// run executes command on the tree with a fresh context stack.
func (a *app) run(ctx context.Context, command string, args []string) error {
	root, err := a.prepare(ctx, command, args)
	if err != nil {
		return err
	}

	opts := []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithObserver(a.tel.Observer()),
	}
	if a.settings.Unwind {
		opts = append(opts, engine.WithUnwindOnError())
	}

	return engine.NewWalker(opts...).Execute(ctx, stack.New(), root, command, args)
}
