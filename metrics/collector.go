// Package metrics provides per-worker counters.
//
// The Collector accumulates counters over one worker process lifetime. It is a
// leaf package with no internal dependencies; the worker reports a Snapshot as
// its closing summary when it reaches the finished state.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Snapshot is an immutable point-in-time view of the worker's counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Requests
	RequestsReceived int64
	RequestsServed   int64
	InvocationErrors int64
	ProtocolErrors   int64

	// Handshake
	CheckpointSignals int64
	StopSignals       int64

	// Output
	EnvelopesEmitted int64
	EnvelopesByKind  map[string]int64
	JournalErrors    int64

	// Timings
	HandlerLoadTime time.Duration
	InvokeTime      time.Duration

	// Dimensions (informational, set at construction)
	WorkerID string
	Engine   string
}

// Fields flattens the snapshot into log fields.
func (s Snapshot) Fields() map[string]any {
	fields := map[string]any{
		"requests_received":  s.RequestsReceived,
		"requests_served":    s.RequestsServed,
		"invocation_errors":  s.InvocationErrors,
		"protocol_errors":    s.ProtocolErrors,
		"checkpoint_signals": s.CheckpointSignals,
		"stop_signals":       s.StopSignals,
		"envelopes_emitted":  s.EnvelopesEmitted,
		"journal_errors":     s.JournalErrors,
		"handler_load_ms":    s.HandlerLoadTime.Milliseconds(),
		"invoke_ms":          s.InvokeTime.Milliseconds(),
	}
	kinds := make([]string, 0, len(s.EnvelopesByKind))
	for k := range s.EnvelopesByKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fields["envelopes_"+k] = s.EnvelopesByKind[k]
	}
	return fields
}

// Collector accumulates metrics for a single worker.
// Thread-safe via sync.Mutex. All recording methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	requestsReceived int64
	requestsServed   int64
	invocationErrors int64
	protocolErrors   int64

	checkpointSignals int64
	stopSignals       int64

	envelopesEmitted int64
	envelopesByKind  map[string]int64
	journalErrors    int64

	handlerLoadTime time.Duration
	invokeTime      time.Duration

	workerID string
	engine   string
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(workerID, engine string) *Collector {
	return &Collector{
		envelopesByKind: make(map[string]int64),
		workerID:        workerID,
		engine:          engine,
	}
}

// --- Requests ---

// IncRequestReceived records a request line read from the controller.
func (c *Collector) IncRequestReceived() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requestsReceived++
	c.mu.Unlock()
}

// ObserveServed records a successful invocation and its duration.
func (c *Collector) ObserveServed(d time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requestsServed++
	c.invokeTime += d
	c.mu.Unlock()
}

// ObserveInvocationError records a failed invocation and its duration.
func (c *Collector) ObserveInvocationError(d time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.invocationErrors++
	c.invokeTime += d
	c.mu.Unlock()
}

// IncProtocolError records a malformed or oversized request line.
func (c *Collector) IncProtocolError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.protocolErrors++
	c.mu.Unlock()
}

// --- Handshake ---

// SetSignals records the handshake's observed notification counts.
// Counts come from the handshake itself, so this overwrites.
func (c *Collector) SetSignals(checkpoint, stop int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.checkpointSignals = checkpoint
	c.stopSignals = stop
	c.mu.Unlock()
}

// SetHandlerLoadTime records how long the handler took to load.
func (c *Collector) SetHandlerLoadTime(d time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.handlerLoadTime = d
	c.mu.Unlock()
}

// --- Output ---

// IncEnvelope records one emitted envelope of the given kind.
func (c *Collector) IncEnvelope(kind string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.envelopesEmitted++
	c.envelopesByKind[kind]++
	c.mu.Unlock()
}

// IncJournalError records a failed journal append.
func (c *Collector) IncJournalError() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.journalErrors++
	c.mu.Unlock()
}

// Snapshot returns an immutable copy of the current counters.
// The EnvelopesByKind map is a deep copy, safe to read without synchronization.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{EnvelopesByKind: map[string]int64{}}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.envelopesByKind))
	for k, v := range c.envelopesByKind {
		byKind[k] = v
	}

	return Snapshot{
		RequestsReceived:  c.requestsReceived,
		RequestsServed:    c.requestsServed,
		InvocationErrors:  c.invocationErrors,
		ProtocolErrors:    c.protocolErrors,
		CheckpointSignals: c.checkpointSignals,
		StopSignals:       c.stopSignals,
		EnvelopesEmitted:  c.envelopesEmitted,
		EnvelopesByKind:   byKind,
		JournalErrors:     c.journalErrors,
		HandlerLoadTime:   c.handlerLoadTime,
		InvokeTime:        c.invokeTime,
		WorkerID:          c.workerID,
		Engine:            c.engine,
	}
}
