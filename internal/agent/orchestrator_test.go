package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/crawlchat/internal/retrieval"
	"github.com/koopa0/crawlchat/internal/testutil"
)

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	payload string
}

func (f *fakeSearcher) Search(_ context.Context, query string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.payload
}

type toolWrite struct {
	threadID, toolName, input, output string
}

type fakeCheckpoints struct {
	mu          sync.Mutex
	history     map[string][]*ai.Message
	appended    map[string][]*ai.Message
	writes      []toolWrite
	messagesErr error
	appendErr   error
}

func newFakeCheckpoints() *fakeCheckpoints {
	return &fakeCheckpoints{
		history:  make(map[string][]*ai.Message),
		appended: make(map[string][]*ai.Message),
	}
}

func (f *fakeCheckpoints) Messages(_ context.Context, threadID string) ([]*ai.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.messagesErr != nil {
		return nil, f.messagesErr
	}
	return f.history[threadID], nil
}

func (f *fakeCheckpoints) AppendMessages(_ context.Context, threadID string, messages []*ai.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended[threadID] = append(f.appended[threadID], messages...)
	return nil
}

func (f *fakeCheckpoints) LogToolWrite(_ context.Context, threadID, toolName, input, output string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, toolWrite{threadID, toolName, input, output})
	return nil
}

type fixture struct {
	orch        *Orchestrator
	mock        *testutil.MockLLM
	searcher    *fakeSearcher
	checkpoints *fakeCheckpoints
}

func newFixture(t *testing.T, maxTurns int) *fixture {
	t.Helper()

	g := genkit.Init(context.Background())
	mock := testutil.NewMockLLM("fallback answer")
	model := mock.RegisterModel(g)

	toolRef := genkit.DefineTool(g, retrieval.ToolName, "search indexed pages",
		func(_ *ai.ToolContext, _ retrieval.Input) (string, error) {
			return "", errors.New("not dispatched through the registry")
		})

	searcher := &fakeSearcher{payload: `{"content":{"query":"q","results":[]}}`}
	checkpoints := newFakeCheckpoints()

	orch, err := New(g, model, toolRef,
		func(string) (Searcher, error) { return searcher, nil },
		checkpoints, maxTurns, nil)
	require.NoError(t, err)

	return &fixture{orch: orch, mock: mock, searcher: searcher, checkpoints: checkpoints}
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	require.NotEmpty(t, out)
	return out
}

func eventsOfType(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestRun_PlainAnswer(t *testing.T) {
	f := newFixture(t, 5)
	f.mock.AddResponse("hello", "Hi! How can I help?")

	events := collect(t, f.orch.Run(context.Background(), "thread-1", "hello there"))

	last := events[len(events)-1]
	require.Equal(t, EventTypeComplete, last.Type)
	assert.Equal(t, "Hi! How can I help?", last.FinalText)

	tokens := eventsOfType(events, EventTypeToken)
	require.NotEmpty(t, tokens)
	assert.Equal(t, "Hi! How can I help?", tokens[0].TextChunk)

	assert.Empty(t, eventsOfType(events, EventTypeToolStart))

	appended := f.checkpoints.appended["thread-1"]
	require.Len(t, appended, 2)
	assert.Equal(t, ai.RoleUser, appended[0].Role)
	assert.Equal(t, ai.RoleModel, appended[1].Role)
}

func TestRun_ToolCallLifecycle(t *testing.T) {
	f := newFixture(t, 5)
	f.mock.AddToolResponse("pricing page", "The plan costs $10 [example.com].",
		&ai.ToolRequest{
			Name:  retrieval.ToolName,
			Ref:   "call-1",
			Input: map[string]any{"query": "pricing"},
		})

	events := collect(t, f.orch.Run(context.Background(), "thread-1", "what does the pricing page say?"))

	starts := eventsOfType(events, EventTypeToolStart)
	require.Len(t, starts, 1)
	assert.Equal(t, retrieval.ToolName, starts[0].ToolName)

	ends := eventsOfType(events, EventTypeToolEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, f.searcher.payload, ends[0].ToolOutput)

	last := events[len(events)-1]
	require.Equal(t, EventTypeComplete, last.Type)
	assert.Equal(t, "The plan costs $10 [example.com].", last.FinalText)

	require.Len(t, f.searcher.queries, 1)
	assert.Equal(t, "pricing", f.searcher.queries[0])

	// user, tool request, tool response, final answer
	appended := f.checkpoints.appended["thread-1"]
	require.Len(t, appended, 4)
	assert.Equal(t, ai.RoleUser, appended[0].Role)
	assert.Equal(t, ai.RoleModel, appended[1].Role)
	assert.Equal(t, ai.RoleTool, appended[2].Role)
	assert.Equal(t, ai.RoleModel, appended[3].Role)

	require.Len(t, f.checkpoints.writes, 1)
	assert.Equal(t, retrieval.ToolName, f.checkpoints.writes[0].toolName)
	assert.JSONEq(t, `{"query":"pricing"}`, f.checkpoints.writes[0].input)
	assert.Equal(t, f.searcher.payload, f.checkpoints.writes[0].output)
}

func TestRun_UnknownToolReportedToModel(t *testing.T) {
	f := newFixture(t, 5)
	f.mock.AddToolResponse("weather", "I cannot check the weather.",
		&ai.ToolRequest{Name: "get_weather", Input: map[string]any{"city": "Taipei"}})

	events := collect(t, f.orch.Run(context.Background(), "thread-1", "weather today?"))

	ends := eventsOfType(events, EventTypeToolEnd)
	require.Len(t, ends, 1)
	assert.Contains(t, ends[0].ToolOutput, "unknown tool")
	assert.Empty(t, f.searcher.queries)

	assert.Equal(t, EventTypeComplete, events[len(events)-1].Type)
}

func TestRun_MaxTurnsExhausted(t *testing.T) {
	g := genkit.Init(context.Background())

	// A model that never stops asking for the tool.
	model := genkit.DefineModel(g, "mock/looping-model",
		&ai.ModelOptions{Supports: &ai.ModelSupports{Multiturn: true, Tools: true, SystemRole: true}},
		func(_ context.Context, req *ai.ModelRequest, _ ai.ModelStreamCallback) (*ai.ModelResponse, error) {
			return &ai.ModelResponse{
				Request: req,
				Message: &ai.Message{
					Role: ai.RoleModel,
					Content: []*ai.Part{{
						Kind:        ai.PartToolRequest,
						ToolRequest: &ai.ToolRequest{Name: retrieval.ToolName, Input: map[string]any{"query": "again"}},
					}},
				},
			}, nil
		})

	toolRef := genkit.DefineTool(g, retrieval.ToolName, "search",
		func(_ *ai.ToolContext, _ retrieval.Input) (string, error) { return "", nil })

	searcher := &fakeSearcher{payload: `{"content":{"query":"again","results":[]}}`}
	orch, err := New(g, model, toolRef,
		func(string) (Searcher, error) { return searcher, nil },
		newFakeCheckpoints(), 2, nil)
	require.NoError(t, err)

	events := collect(t, orch.Run(context.Background(), "thread-1", "loop forever"))

	last := events[len(events)-1]
	require.Equal(t, EventTypeError, last.Type)
	assert.ErrorIs(t, last.Error, ErrMaxTurns)
	assert.Len(t, eventsOfType(events, EventTypeToolStart), 2)
}

func TestRun_HistoryIncludedInModelRequest(t *testing.T) {
	f := newFixture(t, 5)
	f.checkpoints.history["thread-1"] = []*ai.Message{
		ai.NewUserMessage(ai.NewTextPart("earlier question")),
		ai.NewModelMessage(ai.NewTextPart("earlier answer")),
	}

	collect(t, f.orch.Run(context.Background(), "thread-1", "follow-up"))

	calls := f.mock.Calls()
	require.Len(t, calls, 1)
	// system prompt + two history messages + new user input
	require.Len(t, calls[0].Messages, 4)
	assert.Equal(t, ai.RoleSystem, calls[0].Messages[0].Role)
	assert.Equal(t, "earlier question", calls[0].Messages[1].Content[0].Text)
	assert.Equal(t, "follow-up", calls[0].Messages[3].Content[0].Text)
}

func TestRun_HistoryLoadFailure(t *testing.T) {
	f := newFixture(t, 5)
	f.checkpoints.messagesErr = errors.New("connection refused")

	events := collect(t, f.orch.Run(context.Background(), "thread-1", "hello"))

	require.Len(t, events, 1)
	require.Equal(t, EventTypeError, events[0].Type)
	assert.Contains(t, events[0].Error.Error(), "failed to load history")
}

func TestRun_CheckpointFailureSurfacesAsError(t *testing.T) {
	f := newFixture(t, 5)
	f.checkpoints.appendErr = errors.New("disk full")

	events := collect(t, f.orch.Run(context.Background(), "thread-1", "hello"))

	last := events[len(events)-1]
	require.Equal(t, EventTypeError, last.Type)
	assert.Contains(t, last.Error.Error(), "failed to checkpoint")
	assert.Empty(t, eventsOfType(events, EventTypeComplete))
}

func TestNew_Validation(t *testing.T) {
	g := genkit.Init(context.Background())
	mock := testutil.NewMockLLM("x")
	model := mock.RegisterModel(g)
	toolRef := genkit.DefineTool(g, retrieval.ToolName, "search",
		func(_ *ai.ToolContext, _ retrieval.Input) (string, error) { return "", nil })
	factory := func(string) (Searcher, error) { return &fakeSearcher{}, nil }
	checkpoints := newFakeCheckpoints()

	_, err := New(nil, model, toolRef, factory, checkpoints, 5, nil)
	assert.Error(t, err)
	_, err = New(g, nil, toolRef, factory, checkpoints, 5, nil)
	assert.Error(t, err)
	_, err = New(g, model, nil, factory, checkpoints, 5, nil)
	assert.Error(t, err)
	_, err = New(g, model, toolRef, nil, checkpoints, 5, nil)
	assert.Error(t, err)
	_, err = New(g, model, toolRef, factory, nil, 5, nil)
	assert.Error(t, err)
	_, err = New(g, model, toolRef, factory, checkpoints, 0, nil)
	assert.Error(t, err)
}
