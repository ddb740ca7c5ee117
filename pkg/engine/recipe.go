package engine

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/openfroyo/cookbot/pkg/stack"
)

// Lifecycle commands exposed by every recipe.
const (
	CommandInstall   = "install"
	CommandUpdate    = "update"
	CommandUninstall = "uninstall"
)

// DefaultKind is the kind of recipes built without an explicit factory.
const DefaultKind = "recipe"

// Command is an exposed command implementation. args is nil when the command
// was invoked without arguments.
type Command func(ctx context.Context, args []string) error

// Recipe is a provisionable resource in a recipe tree.
//
// Implementations embed Base, which supplies the node state and no-op hooks,
// and override the hooks they need. EnterContext and ExitContext mutate the
// context stack bound to the node; Install, Update and Uninstall perform the
// provisioning work.
type Recipe interface {
	Node() *Base
	EnterContext(ctx context.Context) error
	ExitContext(ctx context.Context) error
	Install(ctx context.Context) error
	Update(ctx context.Context) error
	Uninstall(ctx context.Context) error
	IsInstalled(ctx context.Context) (bool, error)
}

// Enterer is implemented by recipes that replace the default enter hook,
// which only calls EnterContext.
type Enterer interface {
	Enter(ctx context.Context) error
}

// Exiter is implemented by recipes that replace the default exit hook,
// which only calls ExitContext.
type Exiter interface {
	Exit(ctx context.Context) error
}

// Options holds the flat, string keyed settings of a recipe.
type Options map[string]string

// MergeOptions returns defaults overlaid with overrides. Overrides win.
func MergeOptions(defaults, overrides Options) Options {
	merged := make(Options, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

// Get returns the value of key, or "" when it is not set.
func (o Options) Get(key string) string {
	return o[key]
}

// Keys returns the option keys in sorted order.
func (o Options) Keys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Base carries the state shared by every recipe and the default hooks.
type Base struct {
	// Requirements are entered before this recipe and exited after it.
	Requirements []Recipe

	// Parts are entered after this recipe and exited before it.
	Parts []Recipe

	name     string
	kind     string
	options  Options
	commands map[string]Command
	order    []string
	stack    *stack.Stack
}

// NewBase creates the node state for a recipe named name. options are merged
// over defaults, and install, update and uninstall are exposed with method
// dispatch.
func NewBase(name string, defaults, options Options) Base {
	b := Base{
		name:     name,
		kind:     DefaultKind,
		options:  MergeOptions(defaults, options),
		commands: make(map[string]Command),
	}
	b.Expose(CommandInstall, nil)
	b.Expose(CommandUpdate, nil)
	b.Expose(CommandUninstall, nil)
	return b
}

// NewRecipe creates a plain recipe, useful to group requirements and parts.
func NewRecipe(name string, options Options) Recipe {
	return &plainRecipe{Base: NewBase(name, nil, options)}
}

type plainRecipe struct {
	Base
}

// Node returns the node state itself.
func (b *Base) Node() *Base { return b }

// Name returns the recipe name.
func (b *Base) Name() string { return b.name }

// Kind returns the name of the factory that built the recipe.
func (b *Base) Kind() string { return b.kind }

// SetKind records the factory name that built the recipe.
func (b *Base) SetKind(kind string) { b.kind = kind }

// Options returns the merged options.
func (b *Base) Options() Options { return b.options }

// Option returns a single option value.
func (b *Base) Option(key string) string { return b.options[key] }

// Stack returns the context stack of the current traversal, or nil before the
// recipe was first executed.
func (b *Base) Stack() *stack.Stack { return b.stack }

func (b *Base) bind(s *stack.Stack) { b.stack = s }

// Expose registers a command. A nil cmd dispatches to the recipe method with
// the same name.
func (b *Base) Expose(id string, cmd Command) {
	if b.commands == nil {
		b.commands = make(map[string]Command)
	}
	if _, exists := b.commands[id]; !exists {
		b.order = append(b.order, id)
	}
	b.commands[id] = cmd
}

// IsExposed reports whether the recipe exposes id. When recursive is true,
// requirements and then parts are searched too.
func (b *Base) IsExposed(id string, recursive bool) bool {
	if _, ok := b.commands[id]; ok {
		return true
	}
	if !recursive {
		return false
	}
	for _, req := range b.Requirements {
		if req.Node().IsExposed(id, true) {
			return true
		}
	}
	for _, part := range b.Parts {
		if part.Node().IsExposed(id, true) {
			return true
		}
	}
	return false
}

// Commands returns the exposed command ids in registration order.
func (b *Base) Commands() []string {
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// EnterContext does nothing by default.
func (b *Base) EnterContext(ctx context.Context) error { return nil }

// ExitContext does nothing by default.
func (b *Base) ExitContext(ctx context.Context) error { return nil }

// Install does nothing by default.
func (b *Base) Install(ctx context.Context) error { return nil }

// Update does nothing by default.
func (b *Base) Update(ctx context.Context) error { return nil }

// Uninstall does nothing by default.
func (b *Base) Uninstall(ctx context.Context) error { return nil }

// IsInstalled reports false by default.
func (b *Base) IsInstalled(ctx context.Context) (bool, error) { return false, nil }

// ResolveCommand returns the callable registered for id on r. Registrations
// without an explicit callable resolve to the method of r named after id.
func ResolveCommand(r Recipe, id string) (Command, error) {
	base := r.Node()
	cmd, ok := base.commands[id]
	if !ok {
		return nil, NewCommandError(fmt.Sprintf("command %q is not exposed", id), nil).
			WithRecipe(base.name)
	}
	if cmd != nil {
		return cmd, nil
	}
	return resolveMethod(r, id)
}

// resolveMethod looks up the method of r matching name, so "run-migrations"
// and "run_migrations" both resolve to RunMigrations.
func resolveMethod(r Recipe, name string) (Command, error) {
	method := reflect.ValueOf(r).MethodByName(MethodName(name))
	if !method.IsValid() {
		return nil, NewCommandError(fmt.Sprintf("recipe has no method for command %q", name), nil).
			WithRecipe(r.Node().name)
	}

	switch fn := method.Interface().(type) {
	case func(context.Context, []string) error:
		return fn, nil
	case func(context.Context) error:
		return func(ctx context.Context, args []string) error {
			if len(args) > 0 {
				return NewCommandError(fmt.Sprintf("command %q takes no arguments", name), nil).
					WithRecipe(r.Node().name).
					WithDetail("args", args)
			}
			return fn(ctx)
		}, nil
	default:
		return nil, NewCommandError(
			fmt.Sprintf("method %s has signature %s, which cannot serve a command", MethodName(name), method.Type()),
			nil,
		).WithRecipe(r.Node().name)
	}
}

// MethodName converts a command id to the exported Go method name serving it.
func MethodName(id string) string {
	var sb strings.Builder
	upper := true
	for _, c := range id {
		if c == '-' || c == '_' || c == ' ' || c == '.' {
			upper = true
			continue
		}
		if upper {
			c = unicode.ToUpper(c)
			upper = false
		}
		sb.WriteRune(c)
	}
	return sb.String()
}

func enterRecipe(ctx context.Context, r Recipe) error {
	if e, ok := r.(Enterer); ok {
		return e.Enter(ctx)
	}
	return r.EnterContext(ctx)
}

func exitRecipe(ctx context.Context, r Recipe) error {
	if e, ok := r.(Exiter); ok {
		return e.Exit(ctx)
	}
	return r.ExitContext(ctx)
}
