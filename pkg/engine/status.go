package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// RunStatus represents the outcome of a traversal.
type RunStatus string

const (
	// RunStatusRunning indicates the traversal is in progress.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every hook and command returned without error.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates a hook or command failed and the traversal aborted.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the traversal stopped because its context ended.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// StatusOf maps the error returned by a traversal to its status.
func StatusOf(err error) RunStatus {
	switch {
	case err == nil:
		return RunStatusSucceeded
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), HasCode(err, ErrCodeCancelled):
		return RunStatusCancelled
	default:
		return RunStatusFailed
	}
}

// Hook identifies the kind of call the walker makes on a recipe.
type Hook string

const (
	// HookEnter is the enter hook, EnterContext unless overridden.
	HookEnter Hook = "enter"

	// HookExit is the exit hook, ExitContext unless overridden.
	HookExit Hook = "exit"

	// HookCommand is an exposed command or a method called by name.
	HookCommand Hook = "command"
)

// Validate checks if the hook is valid.
func (h Hook) Validate() error {
	switch h {
	case HookEnter, HookExit, HookCommand:
		return nil
	default:
		return fmt.Errorf("invalid hook: %s", h)
	}
}
