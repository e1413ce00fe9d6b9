// Package controller implements the supervising side of the worker line
// protocol: a Client that talks to a worker over its standard streams and a
// Process that launches a worker binary for development and testing.
//
// Checkpoint capture itself is outside this package. A Process is a plain
// child; whatever snapshots it does so from the outside.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/justapithecus/warmstart/ipc"
	"github.com/justapithecus/warmstart/types"
)

// ErrClosed is returned once the worker's output stream has ended.
var ErrClosed = errors.New("worker output closed")

// WorkerError is an Error envelope received while waiting for a reply.
type WorkerError struct {
	Msg string
}

func (e *WorkerError) Error() string {
	return "worker error: " + e.Msg
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// MaxLineBytes bounds one worker output line (default ipc.DefaultMaxLineSize).
	MaxLineBytes int
	// OnEnvelope observes every envelope before it is consumed. It runs on
	// the reader goroutine.
	OnEnvelope func(types.Envelope)
}

// Client is the controller end of one worker's line protocol. Calls that wait
// for replies are not safe for concurrent use; the protocol has one
// outstanding request at a time.
type Client struct {
	enc  *ipc.LineEncoder
	envs chan types.Envelope
	done chan struct{}

	skipped atomic.Int64

	mu      sync.Mutex
	readErr error

	closeOnce sync.Once
}

// NewClient starts reading envelopes from stdout. Lines that are not
// envelopes are skipped, so a worker's stray output never stalls a wait.
func NewClient(stdin io.Writer, stdout io.Reader, opts ClientOptions) *Client {
	c := &Client{
		enc:  ipc.NewLineEncoder(stdin),
		envs: make(chan types.Envelope, 64),
		done: make(chan struct{}),
	}
	go c.read(ipc.NewLineDecoder(stdout, opts.MaxLineBytes), opts.OnEnvelope)
	return c
}

func (c *Client) read(dec *ipc.LineDecoder, observe func(types.Envelope)) {
	defer close(c.envs)
	for {
		line, err := dec.ReadLine()
		if err != nil {
			if ipc.IsLineError(err, ipc.LineErrorTooLarge) {
				c.skipped.Add(1)
				continue
			}
			if !errors.Is(err, io.EOF) {
				c.mu.Lock()
				c.readErr = err
				c.mu.Unlock()
			}
			return
		}

		env, err := ipc.DecodeEnvelope(line)
		if err != nil {
			c.skipped.Add(1)
			continue
		}
		if observe != nil {
			observe(*env)
		}
		select {
		case c.envs <- *env:
		case <-c.done:
			return
		}
	}
}

// Skipped returns how many output lines were not envelopes.
func (c *Client) Skipped() int64 {
	return c.skipped.Load()
}

// Close stops delivering envelopes. It does not close the worker's streams.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Next returns the next envelope from the worker.
func (c *Client) Next(ctx context.Context) (types.Envelope, error) {
	select {
	case env, ok := <-c.envs:
		if !ok {
			c.mu.Lock()
			err := c.readErr
			c.mu.Unlock()
			if err != nil {
				return types.Envelope{}, fmt.Errorf("%w: %v", ErrClosed, err)
			}
			return types.Envelope{}, ErrClosed
		}
		return env, nil
	case <-ctx.Done():
		return types.Envelope{}, ctx.Err()
	}
}

// AwaitLog reads until a Log envelope whose text equals text, returning every
// envelope read including the match. An Error envelope ends the wait with a
// *WorkerError.
func (c *Client) AwaitLog(ctx context.Context, text string) ([]types.Envelope, error) {
	var seen []types.Envelope
	for {
		env, err := c.Next(ctx)
		if err != nil {
			return seen, err
		}
		seen = append(seen, env)
		switch env.Kind {
		case types.KindLog:
			if s, ok := env.Text(); ok && s == text {
				return seen, nil
			}
		case types.KindError:
			return seen, errorFrom(env)
		}
	}
}

// SendFunction sends the handler source and waits for FunctionLoaded.
func (c *Client) SendFunction(ctx context.Context, source string) error {
	if err := c.enc.WriteMessage(types.HandlerMessage{Handler: source}); err != nil {
		return fmt.Errorf("send handler: %w", err)
	}
	_, err := c.await(ctx, types.KindFunctionLoaded)
	return err
}

// SendRequest sends one request value, double-encoded as the worker expects,
// and waits for its Response.
func (c *Client) SendRequest(ctx context.Context, value json.RawMessage) (json.RawMessage, error) {
	if !json.Valid(value) {
		return nil, errors.New("request is not valid JSON")
	}
	encoded, err := json.Marshal(string(value))
	if err != nil {
		return nil, err
	}
	if err := c.enc.WriteMessage(types.RequestMessage{Data: encoded}); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	env, err := c.await(ctx, types.KindResponse)
	if err != nil {
		return nil, err
	}
	return env.Data, nil
}

// await reads past Log envelopes until kind arrives or the worker reports an
// error.
func (c *Client) await(ctx context.Context, kind types.EnvelopeKind) (types.Envelope, error) {
	for {
		env, err := c.Next(ctx)
		if err != nil {
			return types.Envelope{}, err
		}
		switch env.Kind {
		case kind:
			return env, nil
		case types.KindError:
			return types.Envelope{}, errorFrom(env)
		}
	}
}

func errorFrom(env types.Envelope) error {
	msg, ok := env.Text()
	if !ok {
		msg = string(env.Data)
	}
	return &WorkerError{Msg: msg}
}
