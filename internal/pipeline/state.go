package pipeline

// State is the per-session pipeline state. A session holds exactly one
// state at a time; Synthesizing covers the concurrent synthesis and gesture
// selection phase, whose join point is entering StateEmitting.
type State int

const (
	// StateIdle means no turn is in flight.
	StateIdle State = iota

	// StateTranscribing means audio input is being converted to text.
	StateTranscribing

	// StateGenerating means the reply is being generated.
	StateGenerating

	// StateSynthesizing means speech synthesis and gesture selection are
	// running concurrently against the reply text.
	StateSynthesizing

	// StateEmitting means the merged event timeline is being handed to the
	// transport boundary.
	StateEmitting

	// StateFailed is terminal for the turn, not the session: after the
	// failure is reported the session returns to StateIdle.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTranscribing:
		return "transcribing"
	case StateGenerating:
		return "generating"
	case StateSynthesizing:
		return "synthesizing"
	case StateEmitting:
		return "emitting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
