package recipes

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"sort"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"

	sshtransport "github.com/openfroyo/cookbot/pkg/transports/ssh"
)

// DefaultShell runs command lines when a recipe sets no shell.
var DefaultShell = []string{"/bin/sh"}

// Command is a shell line run through a Transport.
type Command struct {
	// Line is the shell line.
	Line string

	// Args are appended to Line, each quoted for the shell.
	Args []string

	// Shell is the interpreter argv; "-c" and the script follow it.
	Shell []string

	// Dir is the working directory, empty for the transport default.
	Dir string

	// Env is added to the environment of the command.
	Env map[string]string

	// User runs the command through "sudo -n -u" when it is not the login
	// user of the transport.
	User string

	// Stdin is fed to the command when not nil.
	Stdin []byte
}

// Script returns Line followed by the quoted Args.
func (c Command) Script() string {
	if len(c.Args) == 0 {
		return c.Line
	}
	return c.Line + " " + shellquote.Join(c.Args...)
}

// argv builds the process arguments. With inlineEnv, Env is passed through
// env(1) so it survives sudo.
func (c Command) argv(login string, inlineEnv bool) []string {
	shell := c.Shell
	if len(shell) == 0 {
		shell = DefaultShell
	}

	var argv []string
	if c.User != "" && c.User != login {
		argv = append(argv, "sudo", "-n", "-u", c.User, "--")
		inlineEnv = true
	}
	if inlineEnv && len(c.Env) > 0 {
		argv = append(argv, "env")
		argv = append(argv, envPairs(c.Env)...)
	}
	argv = append(argv, shell...)
	return append(argv, "-c", c.Script())
}

func envPairs(env map[string]string) []string {
	pairs := make([]string, 0, len(env))
	for k, v := range env {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}

// Result is the outcome of a command that ran.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Script   string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("command %q exited with code %d", e.Script, e.ExitCode)
	}
	return fmt.Sprintf("command %q exited with code %d: %s", e.Script, e.ExitCode, e.Stderr)
}

// Check returns an ExitError when the command exited non-zero.
func (r *Result) Check(cmd Command) error {
	if r.ExitCode == 0 {
		return nil
	}
	return &ExitError{Script: cmd.Script(), ExitCode: r.ExitCode, Stderr: r.Stderr}
}

// Transport runs commands and manages files on the machine a recipe targets.
type Transport interface {
	// Run executes cmd. A command that exits non-zero is not an error;
	// its status is in Result.ExitCode.
	Run(ctx context.Context, cmd Command) (*Result, error)

	// WriteFile writes data to path, creating parent directories.
	WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error

	// ReadFile reads the whole file at path.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// Remove deletes path, with its contents when recursive. A missing
	// path is not an error.
	Remove(ctx context.Context, path string, recursive bool) error

	// MkdirAll creates path and its parents with mode.
	MkdirAll(ctx context.Context, path string, mode os.FileMode) error

	// Stat reports whether path exists.
	Stat(ctx context.Context, path string) (bool, error)

	// Close releases the connection behind the transport.
	Close() error
}

// LocalTransport runs commands and touches files on this machine.
type LocalTransport struct {
	login  string
	logger zerolog.Logger
}

// NewLocalTransport creates a transport for the local machine.
func NewLocalTransport(logger zerolog.Logger) *LocalTransport {
	login := os.Getenv("USER")
	if u, err := user.Current(); err == nil {
		login = u.Username
	}
	return &LocalTransport{
		login:  login,
		logger: logger.With().Str("component", "local-transport").Logger(),
	}
}

// Run executes cmd with os/exec.
func (t *LocalTransport) Run(ctx context.Context, cmd Command) (*Result, error) {
	argv := cmd.argv(t.login, false)
	proc := exec.CommandContext(ctx, argv[0], argv[1:]...)
	proc.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		proc.Env = append(os.Environ(), envPairs(cmd.Env)...)
	}
	if cmd.Stdin != nil {
		proc.Stdin = bytes.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	t.logger.Debug().Strs("argv", argv).Str("dir", cmd.Dir).Msg("Running command")

	start := time.Now()
	err := proc.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		return result, fmt.Errorf("failed to execute command: %w", err)
	}
	return result, nil
}

// WriteFile writes data to path and applies mode.
func (t *LocalTransport) WriteFile(_ context.Context, path string, data []byte, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	return nil
}

// ReadFile reads the file at path.
func (t *LocalTransport) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Remove deletes path.
func (t *LocalTransport) Remove(_ context.Context, path string, recursive bool) error {
	var err error
	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// MkdirAll creates path and applies mode to it.
func (t *LocalTransport) MkdirAll(_ context.Context, path string, mode os.FileMode) error {
	if err := os.MkdirAll(path, mode); err != nil {
		return err
	}
	return os.Chmod(path, mode)
}

// Stat reports whether path exists.
func (t *LocalTransport) Stat(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

// Close does nothing.
func (t *LocalTransport) Close() error { return nil }

// RemoteTransport runs commands over SSH and moves files over SFTP.
type RemoteTransport struct {
	client *sshtransport.Client
}

// NewRemoteTransport wraps a connected client.
func NewRemoteTransport(client *sshtransport.Client) *RemoteTransport {
	return &RemoteTransport{client: client}
}

// Run executes cmd through the remote shell.
func (t *RemoteTransport) Run(ctx context.Context, cmd Command) (*Result, error) {
	line := shellquote.Join(cmd.argv(t.client.User(), true)...)
	if cmd.Dir != "" {
		line = "cd " + shellquote.Join(cmd.Dir) + " && " + line
	}

	var stdin io.Reader
	if cmd.Stdin != nil {
		stdin = bytes.NewReader(cmd.Stdin)
	}

	res, err := t.client.Execute(ctx, line, stdin)
	if err != nil {
		return nil, err
	}
	return &Result{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
		Duration: res.Duration,
	}, nil
}

// WriteFile uploads data to path.
func (t *RemoteTransport) WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	return t.client.Upload(ctx, path, data, mode)
}

// ReadFile downloads the file at path.
func (t *RemoteTransport) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return t.client.Download(ctx, path)
}

// Remove deletes the remote path.
func (t *RemoteTransport) Remove(ctx context.Context, path string, recursive bool) error {
	return t.client.Remove(ctx, path, recursive)
}

// MkdirAll creates the remote directory.
func (t *RemoteTransport) MkdirAll(ctx context.Context, path string, mode os.FileMode) error {
	return t.client.MkdirAll(ctx, path, mode)
}

// Stat reports whether the remote path exists.
func (t *RemoteTransport) Stat(ctx context.Context, path string) (bool, error) {
	return t.client.Stat(ctx, path)
}

// Close disconnects the SSH client.
func (t *RemoteTransport) Close() error {
	return t.client.Disconnect()
}
