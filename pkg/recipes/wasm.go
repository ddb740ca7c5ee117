package recipes

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/openfroyo/cookbot/pkg/config"
	"github.com/openfroyo/cookbot/pkg/engine"
)

type wasmOptions struct {
	Module      string        `mapstructure:"module" validate:"required"`
	Commands    []string      `mapstructure:"commands"`
	MemoryPages uint32        `mapstructure:"memory_pages" validate:"gte=1,lte=65536"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// Wasm runs a WASI module for its commands. The module is started with the
// arguments "<recipe> <command> [args...]", the current env, and the current
// working directory mounted as "/". Exit code 0 is success.
//
// is_installed starts the module with the command "is_installed"; any other
// exit code than 0 means not installed. Modules always run on the local host.
type Wasm struct {
	engine.Base
	kit    *kit
	opts   wasmOptions
	code   []byte
	logger zerolog.Logger
}

func (k *kit) newWasm(name string, options engine.Options) (engine.Recipe, error) {
	opts := wasmOptions{MemoryPages: 256, Timeout: 30 * time.Second}
	if err := config.DecodeOptions(options, &opts); err != nil {
		return nil, err
	}

	code, err := os.ReadFile(opts.Module)
	if err != nil {
		return nil, engine.NewValidationError("failed to read wasm module", err)
	}

	// Compile once to reject invalid modules while the tree is built.
	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	_, err = runtime.CompileModule(ctx, code)
	_ = runtime.Close(ctx)
	if err != nil {
		return nil, engine.NewValidationError(fmt.Sprintf("invalid wasm module %s", opts.Module), err)
	}

	w := &Wasm{
		Base:   engine.NewBase(name, nil, options),
		kit:    k,
		opts:   opts,
		code:   code,
		logger: k.recipeLogger("wasm", name),
	}
	for _, id := range opts.Commands {
		command := id
		w.Expose(id, func(ctx context.Context, args []string) error {
			return w.run(ctx, command, args)
		})
	}
	return w, nil
}

// Install starts the module with the install command.
func (w *Wasm) Install(ctx context.Context) error {
	return w.run(ctx, engine.CommandInstall, nil)
}

// Update starts the module with the update command.
func (w *Wasm) Update(ctx context.Context) error {
	return w.run(ctx, engine.CommandUpdate, nil)
}

// Uninstall starts the module with the uninstall command.
func (w *Wasm) Uninstall(ctx context.Context) error {
	return w.run(ctx, engine.CommandUninstall, nil)
}

// IsInstalled starts the module with the is_installed command.
func (w *Wasm) IsInstalled(ctx context.Context) (bool, error) {
	result, err := w.start(ctx, "is_installed", nil)
	if err != nil {
		return false, err
	}
	return result.ExitCode == 0, nil
}

func (w *Wasm) run(ctx context.Context, command string, args []string) error {
	result, err := w.start(ctx, command, args)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return &ExitError{
			Script:   strings.Join(append([]string{w.opts.Module, command}, args...), " "),
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
		}
	}
	return nil
}

// start instantiates the module in a fresh runtime and waits for _start to
// return.
func (w *Wasm) start(ctx context.Context, command string, args []string) (*Result, error) {
	env, err := CurrentEnv(w.Stack())
	if err != nil {
		return nil, err
	}
	cwd, err := currentString(w.Stack(), KeyCwd)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, w.opts.Timeout)
	defer cancel()

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(w.opts.MemoryPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)
	defer func() {
		_ = runtime.Close(context.Background())
	}()

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, w.code)
	if err != nil {
		return nil, fmt.Errorf("failed to compile wasm module: %w", err)
	}

	var stdout, stderr bytes.Buffer
	moduleConfig := wazero.NewModuleConfig().
		WithName("").
		WithArgs(append([]string{w.Name(), command}, args...)...).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)
	for _, pair := range envPairs(env) {
		k, v, _ := strings.Cut(pair, "=")
		moduleConfig = moduleConfig.WithEnv(k, v)
	}
	if cwd != "" {
		moduleConfig = moduleConfig.WithFSConfig(wazero.NewFSConfig().WithDirMount(cwd, "/"))
	}

	w.logger.Info().
		Str("command", command).
		Strs("args", args).
		Msg("Starting wasm module")

	started := time.Now()
	result := &Result{}
	mod, err := runtime.InstantiateModule(ctx, compiled, moduleConfig)
	if mod != nil {
		_ = mod.Close(context.Background())
	}
	result.Duration = time.Since(started)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("wasm module stopped: %w", ctx.Err())
		}
		var exitErr *sys.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("wasm module failed: %w", err)
		}
		result.ExitCode = int(exitErr.ExitCode())
	}

	w.logger.Debug().
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Str("stdout", result.Stdout).
		Str("stderr", result.Stderr).
		Msg("Wasm module finished")
	return result, nil
}
