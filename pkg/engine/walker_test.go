package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"

	"github.com/openfroyo/cookbot/pkg/stack"
)

// trackerRecipe appends every hook it runs to the "testing" context key.
type trackerRecipe struct {
	Base
}

func newTracker(name string) *trackerRecipe {
	return &trackerRecipe{Base: NewBase(name, nil, nil)}
}

func (t *trackerRecipe) track(event string) error {
	st := t.Stack()
	events, err := stack.LookupOr[[]string](st, "testing", nil)
	if err != nil {
		return err
	}
	st.Set("testing", append(events, event+t.Name()))
	return nil
}

func (t *trackerRecipe) EnterContext(context.Context) error { return t.track("Enter") }
func (t *trackerRecipe) ExitContext(context.Context) error  { return t.track("Exit") }
func (t *trackerRecipe) Install(context.Context) error      { return t.track("Install") }
func (t *trackerRecipe) Update(context.Context) error       { return t.track("Update") }
func (t *trackerRecipe) Uninstall(context.Context) error    { return t.track("Uninstall") }

// trackerTree builds:
//
//	main requires Part0, parts Part3 Part6
//	Part3 requires Part1; Part1 parts Part2
//	Part6 requires Part4 Part5, parts Part7 Part8
func trackerTree() Recipe {
	parts := make([]*trackerRecipe, 9)
	for i := range parts {
		parts[i] = newTracker("Part" + string(rune('0'+i)))
	}
	main := newTracker("main")
	main.Requirements = []Recipe{parts[0]}
	main.Parts = []Recipe{parts[3], parts[6]}
	parts[3].Requirements = []Recipe{parts[1]}
	parts[1].Parts = []Recipe{parts[2]}
	parts[6].Requirements = []Recipe{parts[4], parts[5]}
	parts[6].Parts = []Recipe{parts[7], parts[8]}
	return main
}

func trackedEvents(t *testing.T, st *stack.Stack) []string {
	t.Helper()
	events, err := stack.Lookup[[]string](st, "testing")
	if err != nil {
		t.Fatalf("Expected tracked events, got: %v", err)
	}
	return events
}

func TestWalker_Execute_TreeOrder(t *testing.T) {
	tests := []struct {
		command string
		want    []string
	}{
		{
			command: "install",
			want: []string{
				"InstallPart0", "EnterPart0",
				"Installmain", "Entermain",
				"InstallPart1", "EnterPart1",
				"InstallPart2", "EnterPart2",
				"InstallPart3", "EnterPart3",
				"ExitPart3", "ExitPart2", "ExitPart1",
				"InstallPart4", "EnterPart4",
				"InstallPart5", "EnterPart5",
				"InstallPart6", "EnterPart6",
				"InstallPart7", "EnterPart7", "ExitPart7",
				"InstallPart8", "EnterPart8", "ExitPart8",
				"ExitPart6", "ExitPart5", "ExitPart4",
				"Exitmain", "ExitPart0",
			},
		},
		{
			command: "update",
			want: []string{
				"EnterPart0", "UpdatePart0",
				"Entermain", "Updatemain",
				"EnterPart1", "UpdatePart1",
				"EnterPart2", "UpdatePart2",
				"EnterPart3", "UpdatePart3",
				"ExitPart3", "ExitPart2", "ExitPart1",
				"EnterPart4", "UpdatePart4",
				"EnterPart5", "UpdatePart5",
				"EnterPart6", "UpdatePart6",
				"EnterPart7", "UpdatePart7", "ExitPart7",
				"EnterPart8", "UpdatePart8", "ExitPart8",
				"ExitPart6", "ExitPart5", "ExitPart4",
				"Exitmain", "ExitPart0",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			st := stack.New()
			if err := NewWalker().Execute(context.Background(), st, trackerTree(), tt.command, nil); err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if diff := cmp.Diff(tt.want, trackedEvents(t, st)); diff != "" {
				t.Errorf("Event order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWalker_Execute_SingleNode(t *testing.T) {
	tests := []struct {
		command string
		want    []string
	}{
		{"install", []string{"install solo", "enter solo", "exit solo"}},
		{"update", []string{"enter solo", "update solo", "exit solo"}},
		{"uninstall", []string{"enter solo", "uninstall solo", "exit solo"}},
		{"restart", []string{"enter solo", "exit solo"}},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			rec := NewRecorder()
			w := NewWalker(WithObserver(rec))
			if err := w.Execute(context.Background(), stack.New(), NewRecipe("solo", nil), tt.command, nil); err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if diff := cmp.Diff(tt.want, rec.Strings()); diff != "" {
				t.Errorf("Event order mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestWalker_Execute_RequirementExitsLast(t *testing.T) {
	root := NewRecipe("root", nil)
	root.Node().Requirements = []Recipe{NewRecipe("R", nil)}
	root.Node().Parts = []Recipe{NewRecipe("P", nil)}

	rec := NewRecorder()
	if err := NewWalker(WithObserver(rec)).Execute(context.Background(), stack.New(), root, "install", nil); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{
		"install R", "enter R",
		"install root", "enter root",
		"install P", "enter P", "exit P",
		"exit root",
		"exit R",
	}
	if diff := cmp.Diff(want, rec.Strings()); diff != "" {
		t.Errorf("Event order mismatch (-want +got):\n%s", diff)
	}
}

func TestWalker_Moonwalk_RequirementChain(t *testing.T) {
	a, b, c := NewRecipe("A", nil), NewRecipe("B", nil), NewRecipe("C", nil)
	a.Node().Requirements = []Recipe{b}
	b.Node().Requirements = []Recipe{c}

	rec := NewRecorder()
	if err := NewWalker(WithObserver(rec)).Moonwalk(context.Background(), a, "exit"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if diff := cmp.Diff([]string{"exit A", "exit B", "exit C"}, rec.Strings()); diff != "" {
		t.Errorf("Event order mismatch (-want +got):\n%s", diff)
	}
}

func TestWalker_Moonwalk_UnboundTree(t *testing.T) {
	root := &userRecipe{Base: NewBase("deploy", nil, nil)}
	part := &userRecipe{Base: NewBase("worker", nil, nil)}
	root.Parts = []Recipe{part}

	if err := NewWalker().Moonwalk(context.Background(), root, "enter"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	st := root.Stack()
	if st == nil || part.Stack() != st {
		t.Fatalf("Expected the whole tree to share one stack")
	}
	if depth := st.Depth("user"); depth != 2 {
		t.Errorf("Expected 2 user frames, got: %d", depth)
	}
	user, err := stack.Lookup[string](st, "user")
	if err != nil || user != "deploy" {
		t.Errorf("Expected deploy on top, got: %q, %v", user, err)
	}

	if err := NewWalker().Moonwalk(context.Background(), root, "exit"); err != nil {
		t.Fatalf("Expected exit to reuse the bound stack, got: %v", err)
	}
	if depth := st.Depth("user"); depth != 0 {
		t.Errorf("Expected all user frames popped, got: %d", depth)
	}
}

func TestWalker_Moonwalk_PartsBeforeSelf(t *testing.T) {
	root := newTracker("root")
	p1, p2, req := newTracker("p1"), newTracker("p2"), newTracker("req")
	root.Parts = []Recipe{p1, p2}
	root.Requirements = []Recipe{req}

	st := stack.New()
	for _, r := range []*trackerRecipe{root, p1, p2, req} {
		r.bind(st)
	}

	if err := NewWalker().Moonwalk(context.Background(), root, "uninstall"); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	want := []string{"Uninstallp2", "Uninstallp1", "Uninstallroot", "Uninstallreq"}
	if diff := cmp.Diff(want, trackedEvents(t, st)); diff != "" {
		t.Errorf("Event order mismatch (-want +got):\n%s", diff)
	}
}

func TestWalker_Execute_Idempotent(t *testing.T) {
	tree := trackerTree()
	w := NewWalker()

	first, second := stack.New(), stack.New()
	if err := w.Execute(context.Background(), first, tree, "install", nil); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	if err := w.Execute(context.Background(), second, tree, "install", nil); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	if diff := cmp.Diff(trackedEvents(t, first), trackedEvents(t, second)); diff != "" {
		t.Errorf("Runs differ (-first +second):\n%s", diff)
	}
	if first.Len() != 1 || second.Len() != 1 {
		t.Errorf("Expected each stack to track one key, got: %d and %d", first.Len(), second.Len())
	}
}

// userRecipe pushes "user" while entered and can be told to fail.
type userRecipe struct {
	Base
	installErr error
	exitErr    error
}

func (u *userRecipe) EnterContext(context.Context) error {
	u.Stack().Push("user")
	u.Stack().Set("user", u.Name())
	return nil
}

func (u *userRecipe) ExitContext(context.Context) error {
	if _, err := u.Stack().Pop("user"); err != nil {
		return err
	}
	return u.exitErr
}

func (u *userRecipe) Install(context.Context) error { return u.installErr }

func TestWalker_Execute_FailureLeavesFramesOpen(t *testing.T) {
	errBoom := errors.New("boom")
	root := &userRecipe{Base: NewBase("deploy", nil, nil)}
	root.Parts = []Recipe{&userRecipe{Base: NewBase("broken", nil, nil), installErr: errBoom}}
	after := NewRecipe("after", nil)
	root.Parts = append(root.Parts, after)

	st := stack.New()
	rec := NewRecorder()
	err := NewWalker(WithObserver(rec)).Execute(context.Background(), st, root, "install", nil)
	if !errors.Is(err, errBoom) {
		t.Fatalf("Expected boom, got: %v", err)
	}
	if !HasCode(err, ErrCodeHookFailed) {
		t.Errorf("Expected HOOK_FAILED code, got: %v", err)
	}
	if StatusOf(err) != RunStatusFailed {
		t.Errorf("Expected failed status, got: %s", StatusOf(err))
	}
	if st.Depth("user") != 1 {
		t.Errorf("Expected the root user frame to stay pushed, got depth %d", st.Depth("user"))
	}
	for _, ev := range rec.Strings() {
		if strings.HasSuffix(ev, " after") {
			t.Errorf("Expected traversal to stop before %q", ev)
		}
	}
}

func TestWalker_Execute_UnwindOnError(t *testing.T) {
	errBoom := errors.New("boom")
	root := &userRecipe{Base: NewBase("deploy", nil, nil)}
	middle := &userRecipe{Base: NewBase("www", nil, nil)}
	middle.Parts = []Recipe{&userRecipe{Base: NewBase("broken", nil, nil), installErr: errBoom}}
	root.Parts = []Recipe{middle}

	st := stack.New()
	rec := NewRecorder()
	err := NewWalker(WithObserver(rec), WithUnwindOnError()).Execute(context.Background(), st, root, "install", nil)
	if !errors.Is(err, errBoom) {
		t.Fatalf("Expected boom, got: %v", err)
	}
	if st.Depth("user") != 0 {
		t.Errorf("Expected every user frame popped, got depth %d", st.Depth("user"))
	}

	events := rec.Strings()
	want := []string{"exit www", "exit deploy"}
	if diff := cmp.Diff(want, events[len(events)-2:]); diff != "" {
		t.Errorf("Unwind order mismatch (-want +got):\n%s", diff)
	}
}

func TestWalker_Execute_UnwindCombinesErrors(t *testing.T) {
	errBoom := errors.New("boom")
	errExit := errors.New("exit failed")
	root := &userRecipe{Base: NewBase("deploy", nil, nil), exitErr: errExit}
	root.Parts = []Recipe{&userRecipe{Base: NewBase("broken", nil, nil), installErr: errBoom}}

	err := NewWalker(WithUnwindOnError()).Execute(context.Background(), stack.New(), root, "install", nil)

	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("Expected a multierror, got: %T %v", err, err)
	}
	if len(merr.Errors) != 2 {
		t.Fatalf("Expected 2 errors, got: %d", len(merr.Errors))
	}
	if !errors.Is(merr.Errors[0], errBoom) || !errors.Is(merr.Errors[1], errExit) {
		t.Errorf("Expected boom then exit failure, got: %v", merr.Errors)
	}
}

func TestWalker_Execute_RequiresStack(t *testing.T) {
	err := NewWalker().Execute(context.Background(), nil, NewRecipe("main", nil), "install", nil)
	if !IsValidation(err) {
		t.Fatalf("Expected validation error, got: %v", err)
	}

	err = NewWalker().Execute(context.Background(), stack.New(), NewRecipe("main", nil), "", nil)
	if !IsValidation(err) {
		t.Fatalf("Expected validation error for empty command, got: %v", err)
	}
}

// migrator exposes commands served by methods.
type migrator struct {
	Base
	got [][]string
}

func (m *migrator) Migrate(_ context.Context, args []string) error {
	m.got = append(m.got, args)
	return nil
}

func TestWalker_Execute_CommandArgs(t *testing.T) {
	m := &migrator{Base: NewBase("db", nil, nil)}
	m.Expose("migrate", nil)

	var explicit [][]string
	m.Expose("seed", func(_ context.Context, args []string) error {
		explicit = append(explicit, args)
		return nil
	})

	w := NewWalker()
	ctx := context.Background()
	if err := w.Execute(ctx, stack.New(), m, "migrate", []string{"up"}); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	if err := w.Execute(ctx, stack.New(), m, "migrate", []string{}); err != nil {
		t.Fatalf("migrate without args failed: %v", err)
	}
	if err := w.Execute(ctx, stack.New(), m, "seed", []string{"fixtures"}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if diff := cmp.Diff([][]string{{"up"}, nil}, m.got); diff != "" {
		t.Errorf("migrate args mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([][]string{{"fixtures"}}, explicit); diff != "" {
		t.Errorf("seed args mismatch (-want +got):\n%s", diff)
	}

	err := w.Execute(ctx, stack.New(), m, "install", []string{"--force"})
	if !HasCode(err, ErrCodeCommandNotExposed) {
		t.Errorf("Expected install to reject arguments, got: %v", err)
	}
}

func TestWalker_Execute_UnresolvableCommand(t *testing.T) {
	r := NewRecipe("web", nil)
	r.Node().Expose("restart", nil)

	err := NewWalker().Execute(context.Background(), stack.New(), r, "restart", nil)
	if !HasCode(err, ErrCodeCommandNotExposed) {
		t.Fatalf("Expected COMMAND_NOT_EXPOSED, got: %v", err)
	}
}

func TestWalker_Execute_DryRun(t *testing.T) {
	st := stack.New()
	rec := NewRecorder()
	w := NewWalker(WithDryRun(), WithObserver(rec))

	if err := w.Execute(context.Background(), st, trackerTree(), "install", nil); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if st.Len() != 0 {
		t.Errorf("Expected no hook to run, got keys: %v", st.Keys())
	}
	if len(rec.Events()) != 30 {
		t.Errorf("Expected 30 recorded calls, got: %d", len(rec.Events()))
	}
}

func TestWalker_Execute_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewWalker().Execute(ctx, stack.New(), trackerTree(), "install", nil)
	if !HasCode(err, ErrCodeCancelled) {
		t.Fatalf("Expected CANCELLED, got: %v", err)
	}
	if StatusOf(err) != RunStatusCancelled {
		t.Errorf("Expected cancelled status, got: %s", StatusOf(err))
	}
}

type runCounter struct {
	NopObserver
	started, finished int
	last              RunInfo
}

func (c *runCounter) RunStarted(ctx context.Context, _ RunInfo) context.Context {
	c.started++
	return ctx
}

func (c *runCounter) RunFinished(_ context.Context, run RunInfo, _ error) {
	c.finished++
	c.last = run
}

func TestWalker_Observers(t *testing.T) {
	counter := &runCounter{}
	rec := NewRecorder()
	w := NewWalker(WithObserver(counter), WithObserver(rec))

	if err := w.Execute(context.Background(), stack.New(), NewRecipe("main", nil), "update", nil); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if counter.started != 1 || counter.finished != 1 {
		t.Errorf("Expected one run notification each, got: %d/%d", counter.started, counter.finished)
	}
	if counter.last.Status != RunStatusSucceeded || counter.last.Command != "update" || counter.last.ID == "" {
		t.Errorf("Unexpected run info: %+v", counter.last)
	}
	for _, ev := range rec.Events() {
		if ev.RunID != counter.last.ID {
			t.Errorf("Expected event run id %s, got: %s", counter.last.ID, ev.RunID)
		}
	}
}
