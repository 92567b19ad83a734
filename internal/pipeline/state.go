package pipeline

// State names the RangeStreamingPipeline's per-request state machine
// (spec §4.6 "State machine"): Start -> NormalizeURL -> HeaderProbe ->
// (HeaderError | HeaderOK) -> (HEAD:Emit | GET:Streaming) -> Done.
// Streaming is itself sequential over runs: PickSource ->
// (Cache:Read | Remote:Fetch) -> Splice -> PersistFullBlocks.
type State int

const (
	StateStart State = iota
	StateNormalizeURL
	StateHeaderProbe
	StateHeaderError
	StateHeaderOK
	StateHeadEmit
	StateStreaming
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "Start"
	case StateNormalizeURL:
		return "NormalizeURL"
	case StateHeaderProbe:
		return "HeaderProbe"
	case StateHeaderError:
		return "HeaderError"
	case StateHeaderOK:
		return "HeaderOK"
	case StateHeadEmit:
		return "HEAD:Emit"
	case StateStreaming:
		return "GET:Streaming"
	case StateDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// RunState is a Streaming sub-state over one contiguous run.
type RunState int

const (
	RunPickSource RunState = iota
	RunCacheRead
	RunRemoteFetch
	RunSplice
	RunPersistFullBlocks
)
