// Package stream converts orchestrator events into the newline-delimited
// JSON protocol clients consume.
//
// Three event types cross the wire: "chatbot" for token deltas, and
// "tool_start"/"tool_end" bracketing each tool invocation. Terminal
// orchestrator events end the stream; mid-stream failures cannot change
// the HTTP status, so the stream simply stops.
package stream

import (
	"encoding/json"
	"fmt"
	"iter"

	"github.com/koopa0/crawlchat/internal/agent"
)

// Client event types.
const (
	TypeChatbot   = "chatbot"
	TypeToolStart = "tool_start"
	TypeToolEnd   = "tool_end"
)

// Placeholders sent when tool data cannot be rendered as JSON.
const (
	unserializableInput  = "Unable to serialize input"
	unserializableOutput = "Unable to serialize output"
)

// ClientEvent is one line of the NDJSON stream.
type ClientEvent struct {
	Type     string `json:"type"`
	ToolName string `json:"tool_name,omitempty"`
	Content  any    `json:"content"`
}

// Multiplex adapts an orchestrator event channel into a sequence of client
// events. Empty token deltas are dropped. Error and Complete events carry
// nothing for the client and terminate the sequence when the channel closes.
func Multiplex(events <-chan agent.Event) iter.Seq[ClientEvent] {
	return func(yield func(ClientEvent) bool) {
		for ev := range events {
			var out ClientEvent
			switch ev.Type {
			case agent.EventTypeToken:
				if ev.TextChunk == "" {
					continue
				}
				out = ClientEvent{Type: TypeChatbot, Content: ev.TextChunk}
			case agent.EventTypeToolStart:
				out = ClientEvent{Type: TypeToolStart, ToolName: ev.ToolName, Content: stringifyInput(ev.ToolInput)}
			case agent.EventTypeToolEnd:
				out = ClientEvent{Type: TypeToolEnd, ToolName: ev.ToolName, Content: stringifyOutput(ev.ToolOutput)}
			default:
				continue
			}
			if !yield(out) {
				return
			}
		}
	}
}

// stringifyInput renders tool arguments for the client. Map fields are
// stringified individually so clients get stable key/value pairs whatever
// the tool schema holds.
func stringifyInput(input any) any {
	var content any
	switch v := input.(type) {
	case nil:
		content = ""
	case map[string]any:
		m := make(map[string]string, len(v))
		for k, val := range v {
			m[k] = fmt.Sprintf("%v", val)
		}
		content = m
	case string:
		content = v
	default:
		content = fmt.Sprintf("%v", v)
	}

	if _, err := json.Marshal(content); err != nil {
		return unserializableInput
	}
	return content
}

func stringifyOutput(output string) any {
	if output == "" {
		return unserializableOutput
	}
	return output
}
