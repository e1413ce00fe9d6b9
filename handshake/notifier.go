package handshake

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// Notifier is the process signal surface used by the handshake.
type Notifier interface {
	// Notify relays the given signals to c.
	Notify(c chan<- os.Signal, sig ...os.Signal)
	// Stop ends relaying to c.
	Stop(c chan<- os.Signal)
	// Raise sends sig to the current process.
	Raise(sig syscall.Signal) error
}

// OSNotifier delivers real process signals.
type OSNotifier struct{}

// Notify implements Notifier.
func (OSNotifier) Notify(c chan<- os.Signal, sig ...os.Signal) {
	signal.Notify(c, sig...)
}

// Stop implements Notifier.
func (OSNotifier) Stop(c chan<- os.Signal) {
	signal.Stop(c)
}

// Raise implements Notifier.
func (OSNotifier) Raise(sig syscall.Signal) error {
	if err := unix.Kill(unix.Getpid(), sig); err != nil {
		return fmt.Errorf("raise %s: %w", unix.SignalName(sig), err)
	}
	return nil
}

// ParseSignal resolves a signal name such as "SIGUSR1" or "usr1".
func ParseSignal(name string) (syscall.Signal, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if !strings.HasPrefix(n, "SIG") {
		n = "SIG" + n
	}
	sig := unix.SignalNum(n)
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", name)
	}
	return sig, nil
}
