package pipeline

import "fmt"

// State is the position of one pipeline run for a call.
type State string

const (
	StateIdle         State = "idle"
	StateTranscribing State = "transcribing"
	StateAnalyzing    State = "analyzing"
	StateReplying     State = "replying"
	StateSynthesizing State = "synthesizing"
	StateDone         State = "done"
	StateFailed       State = "failed"
)

// transitions is the full set of legal moves. Voice synthesis failure still
// ends in StateDone because the text reply survives it.
var transitions = map[State][]State{
	StateIdle:         {StateTranscribing, StateReplying},
	StateTranscribing: {StateAnalyzing, StateFailed},
	StateAnalyzing:    {StateReplying, StateFailed},
	StateReplying:     {StateSynthesizing, StateFailed},
	StateSynthesizing: {StateDone},
}

func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// run tracks the state of a single execution for one call.
type run struct {
	callID string
	state  State
	trace  []State
}

func newRun(callID string) *run {
	return &run{callID: callID, state: StateIdle, trace: []State{StateIdle}}
}

func (r *run) advance(to State) error {
	if !CanTransition(r.state, to) {
		return fmt.Errorf("pipeline: illegal transition %s -> %s for call %s", r.state, to, r.callID)
	}
	r.state = to
	r.trace = append(r.trace, to)
	return nil
}
