// Package agent runs the tool-calling conversation loop.
//
// The orchestrator owns one turn of a conversation: it loads the thread's
// history, streams the model's response, executes tool requests itself so
// their lifecycle can be observed, and checkpoints the exchange when the
// model settles on a final answer. Callers consume progress through the
// event channel returned by Run.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/koopa0/crawlchat/internal/log"
	"github.com/koopa0/crawlchat/internal/retrieval"
)

// ErrMaxTurns reports that the model kept requesting tools past the
// configured turn limit without producing a final answer.
var ErrMaxTurns = errors.New("model did not produce a final answer within the turn limit")

const systemPromptTemplate = `You are a friendly research assistant equipped with one advanced tool: Knowledge Base Vector Search.

**Today's Date:** %s

The user just crawled a website and created a vector store of the crawled data.
Your mission is to provide accurate, up-to-date answers to the user's question, grounding your findings in the crawled data through the vector search tool.
For generic messages and questions, you can use your own knowledge to answer the question.

Your responses must be formatted nicely in markdown format.

**Available Tool:**

1. **Internal Vector Search**

* **Purpose:** Search for crawled data in the vector store.
* **Usage:** Submit a natural language query to retrieve relevant context.

**Guidelines:**

* **Citations:** Always support your answers, claims, and findings with source URLs, clearly provided as in-text citations.
* **Accuracy:** Rely solely on data obtained via provided tools. NEVER fabricate information.`

// serializeFailurePlaceholder stands in for tool arguments or results that
// cannot be rendered as JSON, so the audit log always gets a row.
const (
	unserializableInput  = "Unable to serialize input"
	unserializableOutput = "Unable to serialize output"
)

const eventBuffer = 16

// Searcher executes one thread-scoped retrieval query. The returned string
// is the JSON payload handed back to the model.
type Searcher interface {
	Search(ctx context.Context, query string) string
}

// ToolFactory builds the retrieval tool for a thread.
type ToolFactory func(threadID string) (Searcher, error)

// Checkpointer persists conversation state between turns.
type Checkpointer interface {
	Messages(ctx context.Context, threadID string) ([]*ai.Message, error)
	AppendMessages(ctx context.Context, threadID string, messages []*ai.Message) error
	LogToolWrite(ctx context.Context, threadID, toolName, input, output string) error
}

// Orchestrator drives the model through tool calls to a final answer.
//
// Safe for concurrent use; per-run state lives on the goroutine Run spawns.
type Orchestrator struct {
	g           *genkit.Genkit
	model       ai.Model
	toolRef     ai.ToolRef
	newTool     ToolFactory
	checkpoints Checkpointer
	maxTurns    int
	logger      log.Logger
	now         func() time.Time
}

// New creates an orchestrator. toolRef must be the registered vector search
// tool so the model sees its schema; execution still happens here.
func New(g *genkit.Genkit, model ai.Model, toolRef ai.ToolRef, newTool ToolFactory, checkpoints Checkpointer, maxTurns int, logger log.Logger) (*Orchestrator, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if toolRef == nil {
		return nil, fmt.Errorf("tool reference is required")
	}
	if newTool == nil {
		return nil, fmt.Errorf("tool factory is required")
	}
	if checkpoints == nil {
		return nil, fmt.Errorf("checkpointer is required")
	}
	if maxTurns <= 0 {
		return nil, fmt.Errorf("max turns must be positive, got %d", maxTurns)
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Orchestrator{
		g:           g,
		model:       model,
		toolRef:     toolRef,
		newTool:     newTool,
		checkpoints: checkpoints,
		maxTurns:    maxTurns,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Run executes one conversation turn for the thread and returns the event
// channel. The channel is closed after the terminal Error or Complete event.
// Cancel ctx to abandon the run.
func (o *Orchestrator) Run(ctx context.Context, threadID, input string) <-chan Event {
	events := make(chan Event, eventBuffer)
	go func() {
		defer close(events)
		o.run(ctx, threadID, input, events)
	}()
	return events
}

func (o *Orchestrator) run(ctx context.Context, threadID, input string, events chan<- Event) {
	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		o.logger.Error("conversation turn failed", "thread_id", threadID, "error", err)
		emit(Event{Type: EventTypeError, Error: err})
	}

	tool, err := o.newTool(threadID)
	if err != nil {
		fail(fmt.Errorf("failed to build retrieval tool: %w", err))
		return
	}

	history, err := o.checkpoints.Messages(ctx, threadID)
	if err != nil {
		fail(fmt.Errorf("failed to load history: %w", err))
		return
	}

	system := fmt.Sprintf(systemPromptTemplate, o.now().Format("Monday, January 02, 2006"))
	userMsg := ai.NewUserMessage(ai.NewTextPart(input))

	messages := make([]*ai.Message, 0, len(history)+2)
	messages = append(messages, ai.NewSystemMessage(ai.NewTextPart(system)))
	messages = append(messages, history...)
	messages = append(messages, userMsg)

	// Everything after the system prompt that this turn adds gets
	// checkpointed together once the model finishes.
	newMessages := []*ai.Message{userMsg}

	for turn := 0; turn < o.maxTurns; turn++ {
		resp, err := genkit.Generate(ctx, o.g,
			ai.WithModel(o.model),
			ai.WithMessages(messages...),
			ai.WithTools(o.toolRef),
			ai.WithReturnToolRequests(true),
			ai.WithStreaming(func(ctx context.Context, chunk *ai.ModelResponseChunk) error {
				text := chunk.Text()
				if text == "" {
					return nil
				}
				select {
				case events <- Event{Type: EventTypeToken, TextChunk: text}:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			}),
		)
		if err != nil {
			fail(fmt.Errorf("generation failed: %w", err))
			return
		}

		requests := resp.ToolRequests()
		if len(requests) == 0 {
			newMessages = append(newMessages, resp.Message)
			if err := o.checkpoints.AppendMessages(ctx, threadID, newMessages); err != nil {
				fail(fmt.Errorf("failed to checkpoint conversation: %w", err))
				return
			}
			o.logger.Info("conversation turn completed",
				"thread_id", threadID, "turns", turn+1, "messages", len(newMessages))
			emit(Event{Type: EventTypeComplete, FinalText: resp.Text()})
			return
		}

		messages = append(messages, resp.Message)
		newMessages = append(newMessages, resp.Message)

		responseParts := make([]*ai.Part, 0, len(requests))
		for _, req := range requests {
			if !emit(Event{Type: EventTypeToolStart, ToolName: req.Name, ToolInput: req.Input}) {
				return
			}

			output := o.dispatch(ctx, tool, req)
			o.writeAudit(ctx, threadID, req, output)

			if !emit(Event{Type: EventTypeToolEnd, ToolName: req.Name, ToolOutput: output}) {
				return
			}

			responseParts = append(responseParts, ai.NewToolResponsePart(&ai.ToolResponse{
				Name:   req.Name,
				Ref:    req.Ref,
				Output: output,
			}))
		}

		toolMsg := &ai.Message{Role: ai.RoleTool, Content: responseParts}
		messages = append(messages, toolMsg)
		newMessages = append(newMessages, toolMsg)
	}

	fail(ErrMaxTurns)
}

// dispatch executes one tool request. Unknown tool names produce an error
// payload for the model rather than aborting the run.
func (o *Orchestrator) dispatch(ctx context.Context, tool Searcher, req *ai.ToolRequest) string {
	if req.Name != retrieval.ToolName {
		o.logger.Warn("model requested unknown tool", "tool", req.Name)
		return fmt.Sprintf(`{"error":"unknown tool %q"}`, req.Name)
	}
	return tool.Search(ctx, queryArgument(req.Input))
}

// writeAudit records the tool invocation. Audit failures are logged and
// swallowed so a flaky insert cannot kill the conversation.
func (o *Orchestrator) writeAudit(ctx context.Context, threadID string, req *ai.ToolRequest, output string) {
	input := unserializableInput
	if data, err := json.Marshal(req.Input); err == nil {
		input = string(data)
	}
	if output == "" {
		output = unserializableOutput
	}

	if err := o.checkpoints.LogToolWrite(ctx, threadID, req.Name, input, output); err != nil {
		o.logger.Warn("failed to record tool invocation",
			"thread_id", threadID, "tool", req.Name, "error", err)
	}
}

// queryArgument pulls the query string out of the model's tool arguments.
func queryArgument(input any) string {
	if m, ok := input.(map[string]any); ok {
		if q, ok := m["query"].(string); ok {
			return q
		}
	}
	if s, ok := input.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", input)
}
