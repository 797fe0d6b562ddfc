package pipeline

// State is the orchestrator lifecycle position.
type State int32

const (
	StateInit State = iota
	StateFetchOffsets
	StateSubscribing
	StateStreaming
	StateTerminated
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateFetchOffsets:
		return "fetch_offsets"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateTerminated:
		return "terminated"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
