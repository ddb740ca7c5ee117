package engine

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RunInfo describes one traversal.
type RunInfo struct {
	ID        string        `json:"id"`
	Command   string        `json:"command"`
	Args      []string      `json:"args,omitempty"`
	Root      string        `json:"root"`
	DryRun    bool          `json:"dry_run,omitempty"`
	Status    RunStatus     `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// Event is a single hook call made during a traversal.
type Event struct {
	RunID   string `json:"run_id"`
	Seq     int    `json:"seq"`
	Recipe  string `json:"recipe"`
	Kind    string `json:"kind"`
	Hook    Hook   `json:"hook"`
	Command string `json:"command,omitempty"`
	Error   string `json:"error,omitempty"`
}

// String renders the event as "<hook> <recipe>", or "<command> <recipe>" for
// command calls.
func (e Event) String() string {
	if e.Hook == HookCommand {
		return fmt.Sprintf("%s %s", e.Command, e.Recipe)
	}
	return fmt.Sprintf("%s %s", e.Hook, e.Recipe)
}

// Observer is notified of runs and hook calls. The context returned by the
// Started methods is passed to the hook or traversal they announce.
type Observer interface {
	RunStarted(ctx context.Context, run RunInfo) context.Context
	RunFinished(ctx context.Context, run RunInfo, err error)
	HookStarted(ctx context.Context, ev Event) context.Context
	HookFinished(ctx context.Context, ev Event, err error)
}

// NopObserver ignores every notification. Embed it to implement part of
// Observer.
type NopObserver struct{}

// RunStarted implements Observer.
func (NopObserver) RunStarted(ctx context.Context, _ RunInfo) context.Context { return ctx }

// RunFinished implements Observer.
func (NopObserver) RunFinished(context.Context, RunInfo, error) {}

// HookStarted implements Observer.
func (NopObserver) HookStarted(ctx context.Context, _ Event) context.Context { return ctx }

// HookFinished implements Observer.
func (NopObserver) HookFinished(context.Context, Event, error) {}

// Observers fans notifications out, in order.
type Observers []Observer

// RunStarted implements Observer.
func (o Observers) RunStarted(ctx context.Context, run RunInfo) context.Context {
	for _, obs := range o {
		ctx = obs.RunStarted(ctx, run)
	}
	return ctx
}

// RunFinished implements Observer.
func (o Observers) RunFinished(ctx context.Context, run RunInfo, err error) {
	for i := len(o) - 1; i >= 0; i-- {
		o[i].RunFinished(ctx, run, err)
	}
}

// HookStarted implements Observer.
func (o Observers) HookStarted(ctx context.Context, ev Event) context.Context {
	for _, obs := range o {
		ctx = obs.HookStarted(ctx, ev)
	}
	return ctx
}

// HookFinished implements Observer.
func (o Observers) HookFinished(ctx context.Context, ev Event, err error) {
	for i := len(o) - 1; i >= 0; i-- {
		o[i].HookFinished(ctx, ev, err)
	}
}

// Recorder keeps every finished hook event.
type Recorder struct {
	NopObserver

	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// HookFinished implements Observer.
func (r *Recorder) HookFinished(_ context.Context, ev Event, err error) {
	if err != nil {
		ev.Error = err.Error()
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns the recorded events in call order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Strings returns the recorded events rendered with Event.String.
func (r *Recorder) Strings() []string {
	events := r.Events()
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.String()
	}
	return out
}

// Reset drops the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
