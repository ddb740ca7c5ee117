package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/openfroyo/cookbot/pkg/stack"
)

// Walker runs commands across recipe trees.
//
// A Walker holds no per-run state and can be reused, but the trees it walks
// must not be traversed concurrently: every Execute rebinds the recipes to the
// stack it is given.
type Walker struct {
	logger   zerolog.Logger
	observer Observer
	unwind   bool
	dryRun   bool
}

// Option configures a Walker.
type Option func(*Walker)

// WithLogger sets the logger used for run and hook records.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Walker) {
		w.logger = logger
	}
}

// WithObserver adds an observer. Several observers are notified in the order
// they were added.
func WithObserver(o Observer) Option {
	return func(w *Walker) {
		if existing, ok := w.observer.(Observers); ok {
			w.observer = append(existing, o)
			return
		}
		w.observer = Observers{o}
	}
}

// WithUnwindOnError makes a failed traversal call exit on every recipe that
// was entered and not yet exited, most recent first. Errors returned by those
// exits are combined with the original failure.
func WithUnwindOnError() Option {
	return func(w *Walker) {
		w.unwind = true
	}
}

// WithDryRun reports every hook call to the observers without making it.
func WithDryRun() Option {
	return func(w *Walker) {
		w.dryRun = true
	}
}

// NewWalker creates a walker.
func NewWalker(opts ...Option) *Walker {
	w := &Walker{
		logger:   zerolog.Nop(),
		observer: Observers{},
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With().Str("component", "walker").Logger()
	return w
}

// run is the state of one traversal.
type run struct {
	id      string
	command string
	args    []string
	stack   *stack.Stack
	seq     int
	open    []Recipe
	logger  zerolog.Logger
}

// Execute runs command across the tree rooted at root, threading st through
// every recipe.
//
// Requirements are executed first and kept open, the recipe is entered (after
// its command for install, before it otherwise), its parts are executed and
// exited, then the recipe exits and its requirements are unwound in reverse
// order. The first error aborts the traversal.
func (w *Walker) Execute(ctx context.Context, st *stack.Stack, root Recipe, command string, args []string) error {
	if st == nil {
		return NewValidationError("a context stack is required", nil)
	}
	if root == nil {
		return NewValidationError("a root recipe is required", nil)
	}
	if command == "" {
		return NewValidationError("a command is required", nil).WithRecipe(root.Node().Name())
	}

	r := w.newRun(st, command, args)
	info := RunInfo{
		ID:        r.id,
		Command:   command,
		Args:      args,
		Root:      root.Node().Name(),
		DryRun:    w.dryRun,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}

	ctx = w.observer.RunStarted(ctx, info)
	r.logger.Info().
		Str("root", info.Root).
		Strs("args", args).
		Bool("dry_run", w.dryRun).
		Msg("Run started")

	err := w.execute(ctx, r, root, true, true)
	if err != nil && w.unwind {
		err = w.unwindOpen(ctx, r, err)
	}

	info.Status = StatusOf(err)
	info.Duration = time.Since(info.StartedAt)
	w.observer.RunFinished(ctx, info, err)

	if err != nil {
		r.logger.Error().
			Err(err).
			Str("status", string(info.Status)).
			Int("open", len(r.open)).
			Dur("duration", info.Duration).
			Msg("Run failed")
		return err
	}

	r.logger.Info().
		Int("hooks", r.seq).
		Dur("duration", info.Duration).
		Msg("Run completed")
	return nil
}

// Moonwalk calls name on every recipe of the tree rooted at r in reverse
// order: parts last to first, then the recipe itself, then requirements last
// to first, each recursively.
//
// name is "enter", "exit", or the name of a recipe method such as
// "exit_context" or "uninstall". The method does not have to be exposed.
func (w *Walker) Moonwalk(ctx context.Context, r Recipe, name string, args ...string) error {
	if r == nil {
		return NewValidationError("a root recipe is required", nil)
	}
	st := r.Node().Stack()
	if st == nil {
		st = stack.New()
	}
	// A tree that was never executed has no stack; nodes without one share st.
	err := Walk(r, func(v Visit) error {
		if base := v.Recipe.Node(); base.Stack() == nil {
			base.bind(st)
		}
		return nil
	})
	if err != nil {
		return err
	}

	mr := w.newRun(st, name, args)
	info := RunInfo{
		ID:        mr.id,
		Command:   name,
		Args:      args,
		Root:      r.Node().Name(),
		DryRun:    w.dryRun,
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}

	ctx = w.observer.RunStarted(ctx, info)
	err = w.moonwalk(ctx, mr, r, name, args)
	info.Status = StatusOf(err)
	info.Duration = time.Since(info.StartedAt)
	w.observer.RunFinished(ctx, info, err)
	return err
}

func (w *Walker) newRun(st *stack.Stack, command string, args []string) *run {
	id := uuid.NewString()
	return &run{
		id:      id,
		command: command,
		args:    args,
		stack:   st,
		logger: w.logger.With().
			Str("run_id", id).
			Str("command", command).
			Logger(),
	}
}

func (w *Walker) execute(ctx context.Context, r *run, node Recipe, enter, exit bool) error {
	base := node.Node()
	base.bind(r.stack)

	// Requirements stay open until everything depending on them has exited.
	for _, req := range base.Requirements {
		if err := w.execute(ctx, r, req, enter, false); err != nil {
			return err
		}
	}

	install := r.command == CommandInstall
	if enter && !install {
		if err := w.enter(ctx, r, node); err != nil {
			return err
		}
	}

	if base.IsExposed(r.command, false) {
		if err := w.invoke(ctx, r, node); err != nil {
			return err
		}
	}

	// An installed resource only has a context once installation is done.
	if enter && install {
		if err := w.enter(ctx, r, node); err != nil {
			return err
		}
	}

	for _, part := range base.Parts {
		if err := w.execute(ctx, r, part, enter, exit); err != nil {
			return err
		}
	}

	if !exit {
		return nil
	}
	if err := w.exit(ctx, r, node); err != nil {
		return err
	}
	for i := len(base.Requirements) - 1; i >= 0; i-- {
		if err := w.moonwalk(ctx, r, base.Requirements[i], string(HookExit), nil); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) moonwalk(ctx context.Context, r *run, node Recipe, name string, args []string) error {
	base := node.Node()
	for i := len(base.Parts) - 1; i >= 0; i-- {
		if err := w.moonwalk(ctx, r, base.Parts[i], name, args); err != nil {
			return err
		}
	}
	if err := w.call(ctx, r, node, name, args); err != nil {
		return err
	}
	for i := len(base.Requirements) - 1; i >= 0; i-- {
		if err := w.moonwalk(ctx, r, base.Requirements[i], name, args); err != nil {
			return err
		}
	}
	return nil
}

// call invokes a hook or method by name.
func (w *Walker) call(ctx context.Context, r *run, node Recipe, name string, args []string) error {
	switch name {
	case string(HookEnter):
		return w.enter(ctx, r, node)
	case string(HookExit):
		return w.exit(ctx, r, node)
	}

	fn, err := resolveMethod(node, name)
	if err != nil {
		return err
	}
	return w.hook(ctx, r, node, HookCommand, name, func(ctx context.Context) error {
		return fn(ctx, nilIfEmpty(args))
	})
}

func (w *Walker) enter(ctx context.Context, r *run, node Recipe) error {
	err := w.hook(ctx, r, node, HookEnter, "", func(ctx context.Context) error {
		return enterRecipe(ctx, node)
	})
	if err != nil {
		return err
	}
	r.open = append(r.open, node)
	return nil
}

func (w *Walker) exit(ctx context.Context, r *run, node Recipe) error {
	for i := len(r.open) - 1; i >= 0; i-- {
		if r.open[i] == node {
			r.open = append(r.open[:i], r.open[i+1:]...)
			break
		}
	}
	return w.hook(ctx, r, node, HookExit, "", func(ctx context.Context) error {
		return exitRecipe(ctx, node)
	})
}

func (w *Walker) invoke(ctx context.Context, r *run, node Recipe) error {
	cmd, err := ResolveCommand(node, r.command)
	if err != nil {
		return err
	}
	return w.hook(ctx, r, node, HookCommand, r.command, func(ctx context.Context) error {
		return cmd(ctx, nilIfEmpty(r.args))
	})
}

// hook reports a call to the observers and, unless dry running, makes it.
func (w *Walker) hook(ctx context.Context, r *run, node Recipe, hook Hook, command string, fn func(context.Context) error) error {
	base := node.Node()
	operation := string(hook)
	if command != "" {
		operation = command
	}

	if err := ctx.Err(); err != nil {
		return NewTransientError("run cancelled", err).
			WithCode(ErrCodeCancelled).
			WithRecipe(base.Name()).
			WithOperation(operation)
	}

	ev := Event{
		RunID:   r.id,
		Seq:     r.seq,
		Recipe:  base.Name(),
		Kind:    base.Kind(),
		Hook:    hook,
		Command: command,
	}
	r.seq++

	hctx := w.observer.HookStarted(ctx, ev)
	r.logger.Debug().
		Str("recipe", ev.Recipe).
		Str("kind", ev.Kind).
		Str("hook", operation).
		Msg("Calling hook")

	var err error
	if !w.dryRun {
		err = fn(hctx)
	}
	w.observer.HookFinished(hctx, ev, err)

	if err == nil {
		return nil
	}
	return wrapHookError(err, base.Name(), operation)
}

// unwindOpen exits every recipe left open by a failed traversal.
func (w *Walker) unwindOpen(ctx context.Context, r *run, cause error) error {
	if len(r.open) == 0 {
		return cause
	}

	r.logger.Warn().
		Int("open", len(r.open)).
		Msg("Unwinding open recipes")

	// Exits must run even when the failure was a cancellation.
	ctx = context.WithoutCancel(ctx)

	var result *multierror.Error
	result = multierror.Append(result, cause)
	for len(r.open) > 0 {
		node := r.open[len(r.open)-1]
		if err := w.exit(ctx, r, node); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if len(result.Errors) == 1 {
		return cause
	}
	return result
}

// temporary is implemented by transport errors that may clear up on retry.
type temporary interface {
	Temporary() bool
}

func wrapHookError(err error, recipe, operation string) error {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return err
	}

	var tmp temporary
	if errors.As(err, &tmp) && tmp.Temporary() {
		return NewTransientError(fmt.Sprintf("%s failed", operation), err).
			WithCode(ErrCodeHookFailed).
			WithRecipe(recipe).
			WithOperation(operation)
	}
	return NewPermanentError(fmt.Sprintf("%s failed", operation), err).
		WithCode(ErrCodeHookFailed).
		WithRecipe(recipe).
		WithOperation(operation)
}

func nilIfEmpty(args []string) []string {
	if len(args) == 0 {
		return nil
	}
	return args
}
