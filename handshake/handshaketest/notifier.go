// Package handshaketest provides an in-memory signal notifier for tests.
package handshaketest

import (
	"os"
	"sync"
	"syscall"
)

// Notifier records raised signals and relays them to subscribed channels
// synchronously, like a process with no signal latency.
type Notifier struct {
	mu        sync.Mutex
	subs      map[os.Signal][]chan<- os.Signal
	raised    []syscall.Signal
	unhandled []syscall.Signal
	onRaise   func(syscall.Signal) bool
}

// New creates an empty notifier.
func New() *Notifier {
	return &Notifier{subs: map[os.Signal][]chan<- os.Signal{}}
}

// Intercept installs fn to run before delivery of every raised signal.
// When fn returns false the signal is swallowed, as a tracing controller
// suppressing a signal-delivery stop would.
func (n *Notifier) Intercept(fn func(syscall.Signal) bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onRaise = fn
}

// Notify implements handshake.Notifier.
func (n *Notifier) Notify(c chan<- os.Signal, sig ...os.Signal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, s := range sig {
		n.subs[s] = append(n.subs[s], c)
	}
}

// Stop implements handshake.Notifier.
func (n *Notifier) Stop(c chan<- os.Signal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for s, chans := range n.subs {
		kept := chans[:0]
		for _, ch := range chans {
			if ch != c {
				kept = append(kept, ch)
			}
		}
		n.subs[s] = kept
	}
}

// Raise implements handshake.Notifier.
func (n *Notifier) Raise(sig syscall.Signal) error {
	n.mu.Lock()
	n.raised = append(n.raised, sig)
	intercept := n.onRaise
	n.mu.Unlock()

	if intercept != nil && !intercept(sig) {
		return nil
	}
	n.Deliver(sig)
	return nil
}

// Deliver relays sig as if it came from another process.
func (n *Notifier) Deliver(sig syscall.Signal) {
	n.mu.Lock()
	defer n.mu.Unlock()
	chans := n.subs[sig]
	if len(chans) == 0 {
		n.unhandled = append(n.unhandled, sig)
		return
	}
	for _, ch := range chans {
		select {
		case ch <- sig:
		default:
		}
	}
}

// Raised returns every signal raised so far, in order.
func (n *Notifier) Raised() []syscall.Signal {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]syscall.Signal(nil), n.raised...)
}

// Unhandled returns signals delivered while nothing was subscribed.
func (n *Notifier) Unhandled() []syscall.Signal {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]syscall.Signal(nil), n.unhandled...)
}

// Subscribed reports whether any channel receives sig.
func (n *Notifier) Subscribed(sig syscall.Signal) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[sig]) > 0
}
