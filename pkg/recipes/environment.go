package recipes

import (
	"context"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/openfroyo/cookbot/pkg/engine"
	"github.com/openfroyo/cookbot/pkg/stack"
)

const envOptionPrefix = "env."

// Environment names the deployment stage its subtree runs in. Entering it
// pushes the environment name and an env map holding the parent's variables
// overlaid with its own env.<NAME> options.
type Environment struct {
	engine.Base
	vars map[string]string
}

func (k *kit) newEnvironment(name string, options engine.Options) (engine.Recipe, error) {
	e := &Environment{
		Base: engine.NewBase(name, nil, options),
		vars: make(map[string]string),
	}
	for key, value := range options {
		if strings.HasPrefix(key, envOptionPrefix) && len(key) > len(envOptionPrefix) {
			e.vars[strings.TrimPrefix(key, envOptionPrefix)] = value
		}
	}
	return e, nil
}

// Vars returns the variables the environment sets.
func (e *Environment) Vars() map[string]string {
	return e.vars
}

// EnterContext pushes the environment name and the merged env map.
func (e *Environment) EnterContext(context.Context) error {
	st := e.Stack()
	env, err := CurrentEnv(st)
	if err != nil {
		return err
	}
	for k, v := range e.vars {
		env[k] = v
	}

	pushFrame(st, KeyEnvironment, e.Name())
	pushFrame(st, KeyEnv, env)
	return nil
}

// ExitContext pops the frames pushed by EnterContext.
func (e *Environment) ExitContext(context.Context) error {
	return popFrames(e.Stack(), KeyEnv, KeyEnvironment)
}

// User runs the commands of its subtree as another user.
type User struct {
	engine.Base
	user string
}

func (k *kit) newUser(name string, options engine.Options) (engine.Recipe, error) {
	u := &User{
		Base: engine.NewBase(name, nil, options),
		user: options.Get("user"),
	}
	if u.user == "" {
		u.user = name
	}
	return u, nil
}

// EnterContext pushes the user.
func (u *User) EnterContext(context.Context) error {
	pushFrame(u.Stack(), KeyUser, u.user)
	return nil
}

// ExitContext pops the user.
func (u *User) ExitContext(context.Context) error {
	return popFrames(u.Stack(), KeyUser)
}

// popFrames pops one frame of every key, collecting the failures.
func popFrames(st *stack.Stack, keys ...string) error {
	var result *multierror.Error
	for _, key := range keys {
		if _, err := st.Pop(key); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
