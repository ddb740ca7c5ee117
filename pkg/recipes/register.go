package recipes

import (
	"github.com/rs/zerolog"

	"github.com/openfroyo/cookbot/pkg/config"
	"github.com/openfroyo/cookbot/pkg/engine"
)

// Option configures the recipe kinds installed by Register.
type Option func(*kit)

// WithLogger sets the logger recipes report through.
func WithLogger(logger zerolog.Logger) Option {
	return func(k *kit) {
		k.logger = logger
	}
}

// WithConnector replaces the SSH connector of machine recipes.
func WithConnector(c Connector) Option {
	return func(k *kit) {
		k.connect = c
	}
}

// WithLocalTransport sets the transport used when no machine is entered.
func WithLocalTransport(t Transport) Option {
	return func(k *kit) {
		k.local = t
	}
}

// kit holds what the factories share.
type kit struct {
	logger  zerolog.Logger
	local   Transport
	connect Connector
}

// Register installs every recipe kind of this package into reg.
func Register(reg *config.Registry, opts ...Option) error {
	k := &kit{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(k)
	}
	if k.local == nil {
		k.local = NewLocalTransport(k.logger)
	}
	if k.connect == nil {
		k.connect = k.dialSSH
	}

	factories := map[string]config.Factory{
		"environment": k.newEnvironment,
		"user":        k.newUser,
		"directory":   k.newDirectory,
		"exec":        k.newExec,
		"file":        k.newFile,
		"machine":     k.newMachine,
		"starlark":    k.newStarlark,
		"sqlite":      k.newSQLite,
		"wasm":        k.newWasm,
	}
	for _, kind := range Kinds() {
		if err := reg.Register(kind, factories[kind]); err != nil {
			return err
		}
	}
	return nil
}

// Kinds returns the kinds installed by Register.
func Kinds() []string {
	return []string{"directory", "environment", "exec", "file", "machine", "sqlite", "starlark", "user", "wasm"}
}

// recipeLogger derives the logger of one recipe.
func (k *kit) recipeLogger(kind, name string) zerolog.Logger {
	return k.logger.With().
		Str("component", "recipe").
		Str("kind", kind).
		Str("recipe", name).
		Logger()
}

// shell gathers the command context of the current stack frames.
type shell struct {
	transport Transport
	cmd       Command
}

func (k *kit) shell(b *engine.Base, line string, args []string) (*shell, error) {
	st := b.Stack()
	transport, err := CurrentTransport(st, k.local)
	if err != nil {
		return nil, err
	}
	env, err := CurrentEnv(st)
	if err != nil {
		return nil, err
	}
	cwd, err := currentString(st, KeyCwd)
	if err != nil {
		return nil, err
	}
	user, err := currentString(st, KeyUser)
	if err != nil {
		return nil, err
	}
	return &shell{
		transport: transport,
		cmd: Command{
			Line: line,
			Args: args,
			Dir:  cwd,
			Env:  env,
			User: user,
		},
	}, nil
}
