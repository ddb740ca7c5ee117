package recipes

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/openfroyo/cookbot/pkg/config"
	"github.com/openfroyo/cookbot/pkg/engine"
)

type starlarkOptions struct {
	Script   string   `mapstructure:"script"`
	File     string   `mapstructure:"file"`
	Commands []string `mapstructure:"commands"`
}

// Starlark hook function names.
const (
	starlarkEnter       = "enter_context"
	starlarkExit        = "exit_context"
	starlarkIsInstalled = "is_installed"
)

const threadContextKey = "cookbot.context"

// Starlark runs the functions of a Starlark script as hooks. A script may
// define install, update, uninstall, enter_context, exit_context and
// is_installed, plus the functions named in the commands option, which
// receive the command arguments as strings.
//
// Scripts see these predeclared names:
//
//	name     the recipe name
//	options  the recipe options as a dict
//	context  get(key, default=None), set(key, value), push(key), pop(key)
//	run      run(cmd, *args, check=True) returning struct(stdout, stderr, code)
//	struct   the struct constructor
type Starlark struct {
	engine.Base
	kit     *kit
	globals starlark.StringDict
	logger  zerolog.Logger
}

func (k *kit) newStarlark(name string, options engine.Options) (engine.Recipe, error) {
	var opts starlarkOptions
	if err := config.DecodeOptions(options, &opts); err != nil {
		return nil, err
	}

	filename := name + ".star"
	src := opts.Script
	switch {
	case opts.Script != "" && opts.File != "":
		return nil, engine.NewValidationError("options script and file are exclusive", nil)
	case opts.File != "":
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, engine.NewValidationError("failed to read starlark file", err)
		}
		filename = opts.File
		src = string(data)
	case opts.Script == "":
		return nil, engine.NewValidationError("option \"script\" or \"file\" is required", nil)
	}

	s := &Starlark{
		Base:   engine.NewBase(name, nil, options),
		kit:    k,
		logger: k.recipeLogger("starlark", name),
	}

	globals, err := starlark.ExecFile(s.thread(context.Background()), filename, src, s.predeclared(options))
	if err != nil {
		return nil, engine.NewValidationError("starlark execution failed", err)
	}
	s.globals = globals

	for _, id := range opts.Commands {
		if _, ok := s.function(id); !ok {
			return nil, engine.NewValidationError(fmt.Sprintf("command %q has no function in the script", id), nil)
		}
		fn := id
		s.Expose(id, func(ctx context.Context, args []string) error {
			_, err := s.call(ctx, fn, args)
			return err
		})
	}

	return s, nil
}

// Install calls install() when the script defines it.
func (s *Starlark) Install(ctx context.Context) error {
	_, err := s.call(ctx, engine.CommandInstall, nil)
	return err
}

// Update calls update() when the script defines it.
func (s *Starlark) Update(ctx context.Context) error {
	_, err := s.call(ctx, engine.CommandUpdate, nil)
	return err
}

// Uninstall calls uninstall() when the script defines it.
func (s *Starlark) Uninstall(ctx context.Context) error {
	_, err := s.call(ctx, engine.CommandUninstall, nil)
	return err
}

// EnterContext calls enter_context() when the script defines it.
func (s *Starlark) EnterContext(ctx context.Context) error {
	_, err := s.call(ctx, starlarkEnter, nil)
	return err
}

// ExitContext calls exit_context() when the script defines it.
func (s *Starlark) ExitContext(ctx context.Context) error {
	_, err := s.call(ctx, starlarkExit, nil)
	return err
}

// IsInstalled returns the truth value of is_installed().
func (s *Starlark) IsInstalled(ctx context.Context) (bool, error) {
	v, err := s.call(ctx, starlarkIsInstalled, nil)
	if err != nil {
		return false, err
	}
	return bool(v.Truth()), nil
}

func (s *Starlark) function(name string) (starlark.Callable, bool) {
	fn, ok := s.globals[name].(starlark.Callable)
	return fn, ok
}

// call runs a script function. An undefined function returns None.
func (s *Starlark) call(ctx context.Context, name string, args []string) (starlark.Value, error) {
	fn, ok := s.function(name)
	if !ok {
		return starlark.None, nil
	}

	thread := s.thread(ctx)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			thread.Cancel(ctx.Err().Error())
		case <-done:
		}
	}()

	sargs := make(starlark.Tuple, len(args))
	for i, a := range args {
		sargs[i] = starlark.String(a)
	}

	v, err := starlark.Call(thread, fn, sargs, nil)
	if err != nil {
		if evalErr, ok := err.(*starlark.EvalError); ok {
			return nil, fmt.Errorf("%s: %w", evalErr.Backtrace(), err)
		}
		return nil, err
	}
	return v, nil
}

func (s *Starlark) thread(ctx context.Context) *starlark.Thread {
	thread := &starlark.Thread{
		Name: s.Name(),
		Print: func(_ *starlark.Thread, msg string) {
			s.logger.Info().Msg(msg)
		},
	}
	thread.SetLocal(threadContextKey, ctx)
	return thread
}

func threadContext(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(threadContextKey).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

func (s *Starlark) predeclared(options engine.Options) starlark.StringDict {
	opts := starlark.NewDict(len(options))
	for _, k := range options.Keys() {
		_ = opts.SetKey(starlark.String(k), starlark.String(options[k]))
	}
	opts.Freeze()

	return starlark.StringDict{
		"name":    starlark.String(s.Name()),
		"options": opts,
		"struct":  starlark.NewBuiltin("struct", starlarkstruct.Make),
		"run":     starlark.NewBuiltin("run", s.builtinRun),
		"context": &starlarkstruct.Module{
			Name: "context",
			Members: starlark.StringDict{
				"get":  starlark.NewBuiltin("get", s.builtinGet),
				"set":  starlark.NewBuiltin("set", s.builtinSet),
				"push": starlark.NewBuiltin("push", s.builtinPush),
				"pop":  starlark.NewBuiltin("pop", s.builtinPop),
			},
		},
	}
}

func (s *Starlark) requireStack(b *starlark.Builtin) error {
	if s.Stack() == nil {
		return fmt.Errorf("%s: no context outside of a traversal", b.Name())
	}
	return nil
}

func (s *Starlark) builtinGet(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var fallback starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "default?", &fallback); err != nil {
		return nil, err
	}
	if err := s.requireStack(b); err != nil {
		return nil, err
	}

	value, err := s.Stack().Get(key)
	if err != nil {
		return fallback, nil
	}
	return toStarlarkValue(value)
}

func (s *Starlark) builtinSet(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var value starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "value", &value); err != nil {
		return nil, err
	}
	if err := s.requireStack(b); err != nil {
		return nil, err
	}

	goValue, err := fromStarlarkValue(value)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	if key == KeyEnv {
		env, err := stringMap(goValue)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		goValue = env
	}
	s.Stack().Set(key, goValue)
	return starlark.None, nil
}

func (s *Starlark) builtinPush(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key); err != nil {
		return nil, err
	}
	if err := s.requireStack(b); err != nil {
		return nil, err
	}
	s.Stack().Push(key)
	return starlark.None, nil
}

func (s *Starlark) builtinPop(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key); err != nil {
		return nil, err
	}
	if err := s.requireStack(b); err != nil {
		return nil, err
	}
	value, err := s.Stack().Pop(key)
	if err != nil {
		return nil, err
	}
	return toStarlarkValue(value)
}

func (s *Starlark) builtinRun(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s: missing command", b.Name())
	}
	check := true
	if err := starlark.UnpackArgs(b.Name(), nil, kwargs, "check?", &check); err != nil {
		return nil, err
	}
	if err := s.requireStack(b); err != nil {
		return nil, err
	}

	words := make([]string, len(args))
	for i, a := range args {
		str, ok := starlark.AsString(a)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d is %s, want string", b.Name(), i, a.Type())
		}
		words[i] = str
	}

	sh, err := s.kit.shell(&s.Base, words[0], words[1:])
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("script", sh.cmd.Script()).Msg("Running command")

	result, err := sh.transport.Run(threadContext(thread), sh.cmd)
	if err != nil {
		return nil, err
	}
	if check {
		if err := result.Check(sh.cmd); err != nil {
			return nil, err
		}
	}

	return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
		"stdout": starlark.String(result.Stdout),
		"stderr": starlark.String(result.Stderr),
		"code":   starlark.MakeInt(result.ExitCode),
	}), nil
}

func stringMap(v interface{}) (map[string]string, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("env must be a dict, got %T", v)
	}
	out := make(map[string]string, len(m))
	for k, item := range m {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("env value %s must be a string, got %T", k, item)
		}
		out[k] = str
	}
	return out, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case starlark.Value:
		return val, nil
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			list[i] = starlark.String(item)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			starlarkItem, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = starlarkItem
		}
		return starlark.NewList(list), nil
	case map[string]string:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			if err := dict.SetKey(starlark.String(k), starlark.String(v)); err != nil {
				return nil, err
			}
		}
		return dict, nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, v := range val {
			starlarkVal, err := toStarlarkValue(v)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), starlarkVal); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]interface{}, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
