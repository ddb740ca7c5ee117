package recipes

import (
	"path/filepath"

	"github.com/openfroyo/cookbot/pkg/stack"
)

// Context keys shared by the recipe kinds.
const (
	KeyEnvironment = "environment"
	KeyUser        = "user"
	KeyCwd         = "cwd"
	KeyEnv         = "env"
	KeyTransport   = "transport"
	KeyMachine     = "machine"
	KeyDatabase    = "database"
)

// CurrentEnv returns a copy of the env frame, empty when none is set.
func CurrentEnv(st *stack.Stack) (map[string]string, error) {
	env, err := stack.LookupOr[map[string]string](st, KeyEnv, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out, nil
}

// CurrentTransport returns the transport frame, or fallback.
func CurrentTransport(st *stack.Stack, fallback Transport) (Transport, error) {
	return stack.LookupOr[Transport](st, KeyTransport, fallback)
}

// currentString returns a string frame, or "" when none is set.
func currentString(st *stack.Stack, key string) (string, error) {
	return stack.LookupOr(st, key, "")
}

// resolvePath joins a relative path to the current working directory.
func resolvePath(st *stack.Stack, path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	cwd, err := currentString(st, KeyCwd)
	if err != nil || cwd == "" {
		return path, err
	}
	return filepath.Join(cwd, path), nil
}

// pushFrame pushes a frame holding value.
func pushFrame(st *stack.Stack, key string, value any) {
	st.Push(key)
	st.Set(key, value)
}
