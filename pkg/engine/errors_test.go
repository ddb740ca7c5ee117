package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

type tempErr struct{}

func (tempErr) Error() string   { return "connection reset" }
func (tempErr) Temporary() bool { return true }

func TestEngineError_Is(t *testing.T) {
	err := NewValidationError("bad tree", nil).WithCode(ErrCodeCycle)

	if !errors.Is(err, &EngineError{Class: ErrorClassValidation, Code: ErrCodeCycle}) {
		t.Errorf("Expected class and code to match")
	}
	if errors.Is(err, &EngineError{Class: ErrorClassValidation, Code: ErrCodeNotFound}) {
		t.Errorf("Expected a different code not to match")
	}
}

func TestEngineError_Message(t *testing.T) {
	err := NewPermanentError("install failed", errors.New("exit status 2")).
		WithRecipe("nginx").
		WithOperation("install")

	want := "[permanent] install failed (recipe=nginx, operation=install): exit status 2"
	if err.Error() != want {
		t.Errorf("Expected %q, got: %q", want, err.Error())
	}
}

func TestHasCode_Nested(t *testing.T) {
	inner := NewCommandError("command \"backup\" is not exposed", nil)
	outer := NewPermanentError("run failed", fmt.Errorf("wrapped: %w", inner)).WithCode(ErrCodeHookFailed)

	if !HasCode(outer, ErrCodeHookFailed) || !HasCode(outer, ErrCodeCommandNotExposed) {
		t.Errorf("Expected both codes to be found in %v", outer)
	}
	if HasCode(errors.New("plain"), ErrCodeHookFailed) {
		t.Errorf("Expected a plain error to carry no code")
	}
}

func TestWrapHookError(t *testing.T) {
	err := wrapHookError(tempErr{}, "web", "install")
	if !IsTransient(err) {
		t.Errorf("Expected temporary errors to be transient, got: %v", err)
	}

	err = wrapHookError(errors.New("denied"), "web", "exit")
	if !IsPermanent(err) || !strings.Contains(err.Error(), "exit failed") {
		t.Errorf("Expected a permanent exit failure, got: %v", err)
	}

	original := NewCommandError("nope", nil)
	if wrapHookError(original, "web", "install") != error(original) {
		t.Errorf("Expected engine errors to pass through unchanged")
	}

	class, code := Classify(err)
	if class != ErrorClassPermanent || code != ErrCodeHookFailed {
		t.Errorf("Unexpected classification: %s/%s", class, code)
	}
}
