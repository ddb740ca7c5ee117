package recipes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/rs/zerolog"

	"github.com/openfroyo/cookbot/pkg/config"
	"github.com/openfroyo/cookbot/pkg/engine"
)

type execOptions struct {
	Install   string        `mapstructure:"install"`
	Update    string        `mapstructure:"update"`
	Uninstall string        `mapstructure:"uninstall"`
	Check     string        `mapstructure:"check"`
	Shell     string        `mapstructure:"shell"`
	Commands  []string      `mapstructure:"commands"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// Exec runs shell lines for its lifecycle commands and for every extra
// command listed in its commands option. Lines run through the current
// transport in the current working directory, with the current env and user.
type Exec struct {
	engine.Base
	kit    *kit
	opts   execOptions
	shell  []string
	lines  map[string]string
	logger zerolog.Logger
}

func (k *kit) newExec(name string, options engine.Options) (engine.Recipe, error) {
	var opts execOptions
	if err := config.DecodeOptions(options, &opts); err != nil {
		return nil, err
	}

	e := &Exec{
		Base:   engine.NewBase(name, nil, options),
		kit:    k,
		opts:   opts,
		shell:  DefaultShell,
		logger: k.recipeLogger("exec", name),
		lines: map[string]string{
			engine.CommandInstall:   opts.Install,
			engine.CommandUpdate:    opts.Update,
			engine.CommandUninstall: opts.Uninstall,
		},
	}

	if opts.Shell != "" {
		argv, err := shellwords.Parse(opts.Shell)
		if err != nil {
			return nil, engine.NewValidationError(fmt.Sprintf("invalid shell %q", opts.Shell), err)
		}
		if len(argv) == 0 {
			return nil, engine.NewValidationError("shell must not be blank", nil)
		}
		e.shell = argv
	}

	// Lifecycle commands accept arguments too.
	e.Expose(engine.CommandInstall, e.install)
	e.Expose(engine.CommandUpdate, e.lineCommand(engine.CommandUpdate))
	e.Expose(engine.CommandUninstall, e.lineCommand(engine.CommandUninstall))

	for _, id := range opts.Commands {
		line := strings.TrimSpace(options.Get(id))
		if line == "" {
			return nil, engine.NewValidationError(fmt.Sprintf("command %q has no %q option", id, id), nil)
		}
		e.lines[id] = line
		e.Expose(id, e.lineCommand(id))
	}

	return e, nil
}

// Install runs the install line unless the check line passes.
func (e *Exec) Install(ctx context.Context) error {
	return e.install(ctx, nil)
}

// Update runs the update line.
func (e *Exec) Update(ctx context.Context) error {
	return e.run(ctx, engine.CommandUpdate, nil)
}

// Uninstall runs the uninstall line.
func (e *Exec) Uninstall(ctx context.Context) error {
	return e.run(ctx, engine.CommandUninstall, nil)
}

// IsInstalled runs the check line. Exit status 0 means installed; without
// a check line nothing is considered installed.
func (e *Exec) IsInstalled(ctx context.Context) (bool, error) {
	if e.opts.Check == "" {
		return false, nil
	}
	result, _, err := e.exec(ctx, e.opts.Check, nil)
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}

func (e *Exec) install(ctx context.Context, args []string) error {
	installed, err := e.IsInstalled(ctx)
	if err != nil {
		return err
	}
	if installed {
		e.logger.Info().Msg("Check passed, skipping install")
		return nil
	}
	return e.run(ctx, engine.CommandInstall, args)
}

func (e *Exec) lineCommand(id string) engine.Command {
	return func(ctx context.Context, args []string) error {
		return e.run(ctx, id, args)
	}
}

// run executes the line of command id. An empty line does nothing.
func (e *Exec) run(ctx context.Context, id string, args []string) error {
	line := e.lines[id]
	if line == "" {
		return nil
	}
	result, cmd, err := e.exec(ctx, line, args)
	if err != nil {
		return err
	}
	return result.Check(cmd)
}

func (e *Exec) exec(ctx context.Context, line string, args []string) (*Result, Command, error) {
	sh, err := e.kit.shell(&e.Base, line, args)
	if err != nil {
		return nil, Command{}, err
	}
	sh.cmd.Shell = e.shell

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	e.logger.Info().
		Str("script", sh.cmd.Script()).
		Str("dir", sh.cmd.Dir).
		Str("user", sh.cmd.User).
		Msg("Running command")

	result, err := sh.transport.Run(ctx, sh.cmd)
	if err != nil {
		return nil, sh.cmd, err
	}

	e.logger.Debug().
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Str("stdout", result.Stdout).
		Str("stderr", result.Stderr).
		Msg("Command finished")
	return result, sh.cmd, nil
}
