package reader

import (
	"fmt"
	"strings"
)

// ParseServed extracts the counters from the worker's closing
// "served N requests (X invocation errors, Y protocol errors)" log line.
func ParseServed(text string) (served, invocation, protocol int, ok bool) {
	n, err := fmt.Sscanf(text, "served %d requests (%d invocation errors, %d protocol errors)",
		&served, &invocation, &protocol)
	if err != nil || n != 3 {
		return 0, 0, 0, false
	}
	return served, invocation, protocol, true
}

// ParsePid extracts the pid from the worker's "Pid: N" log line.
func ParsePid(text string) (int, bool) {
	var pid int
	if n, err := fmt.Sscanf(text, "Pid: %d", &pid); err != nil || n != 1 {
		return 0, false
	}
	return pid, true
}

// ParseEngine extracts the engine name from the "<engine> started" log line.
func ParseEngine(text string) (string, bool) {
	name, found := strings.CutSuffix(text, " started")
	if !found || name == "" || strings.ContainsAny(name, " \t") {
		return "", false
	}
	return name, true
}
