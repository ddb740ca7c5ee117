package stack

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// ErrKeyNotFound is matched by every KeyError.
var ErrKeyNotFound = errors.New("key not found")

// KeyError reports an operation on a key that has no current frame.
type KeyError struct {
	Op  string
	Key string
}

// Error implements the error interface.
func (e *KeyError) Error() string {
	return fmt.Sprintf("context %s %q: %s", e.Op, e.Key, ErrKeyNotFound)
}

// Is reports whether target is ErrKeyNotFound.
func (e *KeyError) Is(target error) bool {
	return target == ErrKeyNotFound
}

// TypeError reports a frame holding a value of an unexpected type.
type TypeError struct {
	Key  string
	Want string
	Got  any
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	return fmt.Sprintf("context key %q holds %T, expected %s", e.Key, e.Got, e.Want)
}

// Stack maps keys to independent stacks of values. The most recent frame of
// each key is the visible one.
//
// A Stack is not safe for concurrent use. A key whose last frame was popped
// stays registered with no frames: it still counts in Len and Keys, and Get or
// Pop on it fail until a new frame is pushed or set.
type Stack struct {
	frames map[string][]any
}

// New creates an empty stack.
func New() *Stack {
	return &Stack{frames: make(map[string][]any)}
}

// Get returns the top frame of key.
func (s *Stack) Get(key string) (any, error) {
	frames, ok := s.frames[key]
	if !ok || len(frames) == 0 {
		return nil, &KeyError{Op: "get", Key: key}
	}
	return frames[len(frames)-1], nil
}

// Set replaces the top frame of key, creating a single frame stack when key
// has no frame yet.
func (s *Stack) Set(key string, value any) {
	frames := s.frames[key]
	if len(frames) == 0 {
		s.frames[key] = []any{value}
		return
	}
	frames[len(frames)-1] = value
}

// Push opens a new, nil frame for key.
func (s *Stack) Push(key string) {
	s.frames[key] = append(s.frames[key], nil)
}

// Pop removes and returns the top frame of key.
func (s *Stack) Pop(key string) (any, error) {
	frames, ok := s.frames[key]
	if !ok || len(frames) == 0 {
		return nil, &KeyError{Op: "pop", Key: key}
	}
	top := frames[len(frames)-1]
	frames[len(frames)-1] = nil
	s.frames[key] = frames[:len(frames)-1]
	return top, nil
}

// Delete drops every frame of key along with the key itself.
func (s *Stack) Delete(key string) error {
	if _, ok := s.frames[key]; !ok {
		return &KeyError{Op: "delete", Key: key}
	}
	delete(s.frames, key)
	return nil
}

// Len returns the number of keys tracked, regardless of their depth.
func (s *Stack) Len() int {
	return len(s.frames)
}

// Depth returns the number of frames stacked for key.
func (s *Stack) Depth(key string) int {
	return len(s.frames[key])
}

// Keys returns the tracked keys in sorted order.
func (s *Stack) Keys() []string {
	keys := make([]string, 0, len(s.frames))
	for key := range s.frames {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Lookup returns the top frame of key as a T.
func Lookup[T any](s *Stack, key string) (T, error) {
	var zero T
	value, err := s.Get(key)
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, &TypeError{Key: key, Want: reflect.TypeFor[T]().String(), Got: value}
	}
	return typed, nil
}

// LookupOr returns the top frame of key as a T, or fallback when the key has no
// frame or the frame is nil.
func LookupOr[T any](s *Stack, key string, fallback T) (T, error) {
	value, err := s.Get(key)
	if err != nil || value == nil {
		return fallback, nil
	}
	typed, ok := value.(T)
	if !ok {
		return fallback, &TypeError{Key: key, Want: reflect.TypeFor[T]().String(), Got: value}
	}
	return typed, nil
}
