package agent

// EventType represents the type of orchestrator event.
type EventType int

const (
	EventTypeToken EventType = iota
	EventTypeToolStart
	EventTypeToolEnd
	EventTypeError
	EventTypeComplete
)

// Event is emitted by Orchestrator.Run through the event channel.
// Exactly one Error or Complete event terminates every run.
type Event struct {
	Type       EventType
	TextChunk  string // token delta, EventTypeToken only
	ToolName   string
	ToolInput  any    // raw tool arguments, EventTypeToolStart only
	ToolOutput string // tool result payload, EventTypeToolEnd only
	Error      error
	FinalText  string // assembled response, EventTypeComplete only
}
