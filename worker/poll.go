package worker

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Poller reports whether input can be read without blocking.
type Poller interface {
	Ready(timeout time.Duration) (bool, error)
}

// FDPoller polls a file descriptor for readability.
type FDPoller struct {
	fd int
}

// NewFDPoller polls f. Calling Fd puts f in blocking mode, which is what the
// line decoder wants once the poll says data is there.
func NewFDPoller(f *os.File) *FDPoller {
	return &FDPoller{fd: int(f.Fd())}
}

// Ready waits up to timeout. Hangup and error conditions count as ready so
// the following read can observe end of input. An interrupted poll is
// reported as not ready.
func (p *FDPoller) Ready(timeout time.Duration) (bool, error) {
	ms := int(timeout.Milliseconds())
	if ms < 1 {
		ms = 1
	}
	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, ms)
	if errors.Is(err, unix.EINTR) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	return fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0, nil
}

// alwaysReady serves readers without a descriptor. Reads then block, so a
// stop is only noticed between lines.
type alwaysReady struct{}

func (alwaysReady) Ready(time.Duration) (bool, error) { return true, nil }
