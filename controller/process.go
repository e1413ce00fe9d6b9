package controller

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// ProcessConfig configures a worker launch.
type ProcessConfig struct {
	// Path is the worker binary.
	Path string
	// Args are passed after the binary name.
	Args []string
	// Env is appended to the inherited environment.
	Env []string
	// Stderr receives the worker's diagnostics. Nil captures them into
	// ExitResult.Stderr.
	Stderr io.Writer
	Client ClientOptions
}

// ExitResult describes how a worker process ended.
type ExitResult struct {
	// ExitCode is the process exit code, or -1 when a signal ended it.
	ExitCode int
	// Signal is the terminating signal, if any.
	Signal syscall.Signal
	// Stderr holds captured diagnostics when ProcessConfig.Stderr was nil.
	Stderr []byte
}

// Process is a launched worker with a connected Client.
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	client *Client
	stderr *bytes.Buffer
}

// Start launches the worker with piped stdin and stdout.
func Start(ctx context.Context, cfg ProcessConfig) (*Process, error) {
	if cfg.Path == "" {
		return nil, errors.New("worker path is required")
	}

	cmd := exec.CommandContext(ctx, cfg.Path, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	p := &Process{cmd: cmd}
	if cfg.Stderr != nil {
		cmd.Stderr = cfg.Stderr
	} else {
		p.stderr = &bytes.Buffer{}
		cmd.Stderr = p.stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	// A plain pipe rather than StdoutPipe: Wait must not close the read end
	// while the client is still draining the last envelopes.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	_ = stdoutW.Close()

	p.stdin = stdin
	p.stdout = stdout
	p.client = NewClient(stdin, stdout, cfg.Client)
	return p, nil
}

// Client returns the protocol client bound to the worker's streams.
func (p *Process) Client() *Client {
	return p.client
}

// Pid returns the worker's process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Signal sends sig to the worker.
func (p *Process) Signal(sig syscall.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// CloseInput closes the worker's stdin.
func (p *Process) CloseInput() error {
	return p.stdin.Close()
}

// Kill terminates the worker.
func (p *Process) Kill() error {
	if p.cmd.Process != nil {
		return p.cmd.Process.Kill()
	}
	return nil
}

// Close releases the client and the read end of the worker's stdout. Call it
// once no more envelopes are wanted.
func (p *Process) Close() error {
	p.client.Close()
	return p.stdout.Close()
}

// Wait waits for the worker to exit. A non-zero exit is reported in the
// result, not as an error.
func (p *Process) Wait() (*ExitResult, error) {
	err := p.cmd.Wait()

	result := &ExitResult{}
	if p.stderr != nil {
		result.Stderr = p.stderr.Bytes()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("worker wait failed: %w", err)
		}
		status, ok := exitErr.Sys().(syscall.WaitStatus)
		switch {
		case !ok:
			result.ExitCode = -1
		case status.Signaled():
			result.ExitCode = -1
			result.Signal = status.Signal()
		default:
			result.ExitCode = status.ExitStatus()
		}
	}
	return result, nil
}
