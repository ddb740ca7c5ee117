package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/ssh"
)

// ExecResult represents the result of a command execution.
type ExecResult struct {
	// Stdout is the standard output from the command
	Stdout string

	// Stderr is the standard error output from the command
	Stderr string

	// ExitCode is the command's exit code
	ExitCode int

	// Duration is the total execution time
	Duration time.Duration
}

// Execute runs cmd through the remote shell, feeding it stdin when not nil.
// A command that runs and exits non-zero is not an error: its status is in
// ExitCode. Session and connection failures are temporary TransportErrors.
func (c *Client) Execute(ctx context.Context, cmd string, stdin io.Reader) (*ExecResult, error) {
	client, err := c.sshClient("execute")
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.CommandTimeout)
		defer cancel()
	}

	c.logger.Debug().Str("command", cmd).Msg("Executing command")
	startTime := time.Now()

	session, err := client.NewSession()
	if err != nil {
		return nil, temporary("execute", fmt.Errorf("failed to create session: %w", err))
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf
	if stdin != nil {
		session.Stdin = stdin
	}

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		_ = session.Close()
		<-doneChan
		execErr = ctx.Err()
	case execErr = <-doneChan:
	}

	result := &ExecResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(startTime),
	}

	c.logger.Debug().
		Str("command", cmd).
		Int("stdout_len", len(result.Stdout)).
		Int("stderr_len", len(result.Stderr)).
		Dur("duration", result.Duration).
		Err(execErr).
		Msg("Command completed")

	if execErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(execErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return result, temporary("execute", execErr)
	}

	return result, nil
}
