package types

// WorkerState is the lifecycle phase of a function worker.
// Transitions only move forward.
type WorkerState int32

const (
	StateStarting WorkerState = iota
	StateAwaitingCheckpointSignal
	StateActivated
	StateHandlerLoaded
	StateServing
	StateFinished
)

var stateNames = [...]string{
	StateStarting:                 "starting",
	StateAwaitingCheckpointSignal: "awaiting_checkpoint_signal",
	StateActivated:                "activated",
	StateHandlerLoaded:            "handler_loaded",
	StateServing:                  "serving",
	StateFinished:                 "finished",
}

func (s WorkerState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CanTransition reports whether next directly follows s.
func (s WorkerState) CanTransition(next WorkerState) bool {
	return next == s+1 && next <= StateFinished
}
