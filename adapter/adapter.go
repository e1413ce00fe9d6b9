// Package adapter publishes worker lifecycle notifications to downstream
// systems once a controller has finished driving a worker.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventWorkerFinished is the event_type of WorkerFinishedEvent.
const EventWorkerFinished = "worker_finished"

// Outcomes reported in WorkerFinishedEvent.
const (
	// OutcomeFinished means the worker served and acknowledged a stop.
	OutcomeFinished = "finished"
	// OutcomeFailed means the worker exited with a fatal error.
	OutcomeFailed = "failed"
	// OutcomeAborted means the controller gave up before the worker finished.
	OutcomeAborted = "aborted"
)

// WorkerFinishedEvent is the payload published after a worker run.
type WorkerFinishedEvent struct {
	ProtocolVersion string `json:"protocol_version"`
	EventType       string `json:"event_type"` // always "worker_finished"
	WorkerID        string `json:"worker_id"`
	Pid             int    `json:"pid"`
	Engine          string `json:"engine"`
	Handler         string `json:"handler"` // artifact reference
	Outcome         string `json:"outcome"`
	Error           string `json:"error,omitempty"`
	ExitCode        int    `json:"exit_code"`
	Requests        int    `json:"requests"`
	Failures        int    `json:"failures"`
	Timestamp       string `json:"timestamp"` // RFC 3339
	DurationMs      int64  `json:"duration_ms"`
}

// Adapter publishes worker events to a downstream system.
type Adapter interface {
	// Publish sends the event. Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *WorkerFinishedEvent) error

	// Close releases adapter resources.
	Close() error
}

// DefaultBackoff is the delay before the first retry; it doubles each retry.
const DefaultBackoff = 500 * time.Millisecond

// ErrPermanent marks an error that retrying cannot fix.
var ErrPermanent = errors.New("permanent failure")

// Retry calls fn up to 1+retries times with exponential backoff between
// attempts. An error wrapping ErrPermanent stops immediately.
func Retry(ctx context.Context, name string, retries int, backoff time.Duration, fn func(context.Context) error) error {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	attempts := 1 + retries

	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		if i > 0 {
			delay := time.Duration(1<<uint(i-1)) * backoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) {
			return fmt.Errorf("%s: non-retriable error: %w", name, lastErr)
		}
	}
	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
