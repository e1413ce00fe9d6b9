package handshake

import "github.com/justapithecus/warmstart/types"

// Channel is a logical notification channel carried by a process signal.
type Channel int

const (
	// ChannelCheckpoint carries "ready to be checkpointed".
	ChannelCheckpoint Channel = iota
	// ChannelStop carries "resume" before serving and "stop" while serving.
	ChannelStop
)

func (c Channel) String() string {
	if c == ChannelCheckpoint {
		return "checkpoint"
	}
	return "stop"
}

// Action is what a delivered notification does to the handshake flags.
type Action int

const (
	ActionIgnore Action = iota
	ActionMarkReady
	ActionMarkResumed
	ActionMarkFinish
)

// dispatch maps the current worker state and channel to an action.
// Pairs absent from the table are ignored.
var dispatch = map[types.WorkerState]map[Channel]Action{
	// A resume can race the checkpoint observation on restore; it is kept
	// so AwaitResume does not miss it.
	types.StateAwaitingCheckpointSignal: {
		ChannelCheckpoint: ActionMarkReady,
		ChannelStop:       ActionMarkResumed,
	},
	types.StateActivated: {
		ChannelCheckpoint: ActionIgnore,
		ChannelStop:       ActionMarkResumed,
	},
	types.StateServing: {
		ChannelCheckpoint: ActionIgnore,
		ChannelStop:       ActionMarkFinish,
	},
}

// Lookup returns the action for a notification on ch while in state.
func Lookup(state types.WorkerState, ch Channel) Action {
	return dispatch[state][ch]
}
