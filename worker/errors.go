package worker

import "fmt"

// FatalKind classifies errors that end the worker process.
type FatalKind int

const (
	// BootstrapFailure means the engine could not start.
	BootstrapFailure FatalKind = iota + 1
	// HandlerLoadFailure means the handler failed to load or has no entry point.
	HandlerLoadFailure
	// ProtocolFailure means the controller's startup message was unusable,
	// or the output stream broke.
	ProtocolFailure
	// HandshakeFailure means the signal handshake could not be set up.
	HandshakeFailure
	// InvocationFailure means a handler invocation failed while fatal
	// invocation errors are enabled.
	InvocationFailure
)

func (k FatalKind) String() string {
	switch k {
	case BootstrapFailure:
		return "bootstrap_failure"
	case HandlerLoadFailure:
		return "handler_load_failure"
	case ProtocolFailure:
		return "protocol_failure"
	case HandshakeFailure:
		return "handshake_failure"
	case InvocationFailure:
		return "invocation_failure"
	default:
		return "unknown_failure"
	}
}

// FatalError is returned by Run when the worker cannot continue. The matching
// Error envelope has already been written when Run returns it.
type FatalError struct {
	Kind FatalKind
	Err  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
