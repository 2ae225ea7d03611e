package runner

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/platewise/platewise/assistant"
	"github.com/platewise/platewise/assistant/platform"
)

type scriptedStream struct {
	events []platform.StreamEvent
	next   int
	closed bool
}

func (s *scriptedStream) Next() (platform.StreamEvent, error) {
	if s.next >= len(s.events) {
		return platform.StreamEvent{}, io.EOF
	}
	event := s.events[s.next]
	s.next++
	return event, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

// fakeStreamer hands out one scripted scope per stream open.
type fakeStreamer struct {
	scopes    []*scriptedStream
	opened    int
	submitted [][]platform.ToolCallResult
}

func (f *fakeStreamer) StreamRun(context.Context, string, string) (platform.EventStream, error) {
	scope := f.scopes[f.opened]
	f.opened++
	return scope, nil
}

func (f *fakeStreamer) SubmitToolOutputsStream(_ context.Context, _, _ string, outputs []platform.ToolCallResult) (platform.EventStream, error) {
	f.submitted = append(f.submitted, outputs)
	scope := f.scopes[f.opened]
	f.opened++
	return scope, nil
}

func collectCallbacks(deltas *[]string, messages *[]assistant.ChatMessage) StreamCallbacks {
	return StreamCallbacks{
		OnDelta:   func(text string) { *deltas = append(*deltas, text) },
		OnMessage: func(msg assistant.ChatMessage) { *messages = append(*messages, msg) },
	}
}

func TestAdvanceTurnStreamTextSpans(t *testing.T) {
	streamer := &fakeStreamer{scopes: []*scriptedStream{{events: []platform.StreamEvent{
		{Type: platform.EventRunStepCreated, RunID: "run_1", StepID: "step_1"},
		{Type: platform.EventTextDelta, Text: "Hello"},
		{Type: platform.EventTextDelta, Text: " there"},
		{Type: platform.EventTextDone},
	}}}}
	client := &fakeClient{
		script: []*platform.Run{{ID: "run_1", Status: platform.StatusCompleted}},
	}
	c := newTestController(t, client, streamer)

	var deltas []string
	var messages []assistant.ChatMessage
	result, err := c.AdvanceTurnStream(context.Background(), "thread_test1", "hi",
		assistant.Caller{GuestID: "g-1"}, collectCallbacks(&deltas, &messages))
	require.NoError(t, err)

	require.Equal(t, []string{"Hello", " there"}, deltas)
	require.Len(t, messages, 1, "exactly one message per completed text span")
	require.Equal(t, "Hello there", messages[0].Content)
	require.Equal(t, "Hello there", result.Reply.Content)
	require.True(t, streamer.scopes[0].closed)
	require.Zero(t, client.listCalls, "spans arrived, no fallback fetch")
}

func TestAdvanceTurnStreamToolCallContinuation(t *testing.T) {
	streamer := &fakeStreamer{scopes: []*scriptedStream{
		{events: []platform.StreamEvent{
			{Type: platform.EventRunStepCreated, RunID: "run_1", StepID: "step_1"},
			{Type: platform.EventToolCallDelta, ToolCallID: "call_a", ToolName: "search_dishes", ToolKind: platform.ToolKindFunction, ArgumentsDelta: `{"query":`},
			{Type: platform.EventToolCallDelta, ArgumentsDelta: `"vegan"}`},
			{Type: platform.EventToolCallDone},
		}},
		{events: []platform.StreamEvent{
			{Type: platform.EventRunStepCreated, RunID: "run_1", StepID: "step_2"},
			{Type: platform.EventTextDelta, Text: "Found three vegan dishes."},
			{Type: platform.EventTextDone},
		}},
	}}
	client := &fakeClient{
		script: []*platform.Run{
			{ID: "run_1", Status: platform.StatusRequiresAction, PendingToolCalls: []platform.ToolCallRequest{
				{ID: "call_a", Name: "search_dishes", Arguments: `{"query":"vegan"}`},
			}},
			{ID: "run_1", Status: platform.StatusCompleted},
		},
	}
	c := newTestController(t, client, streamer)

	var deltas []string
	var messages []assistant.ChatMessage
	result, err := c.AdvanceTurnStream(context.Background(), "thread_test1", "find vegan food",
		assistant.Caller{GuestID: "g-1"}, collectCallbacks(&deltas, &messages))
	require.NoError(t, err)

	require.Len(t, streamer.submitted, 1, "one batch per requires_action pause")
	require.Equal(t, "call_a", streamer.submitted[0][0].ToolCallID)
	require.Len(t, messages, 1)
	require.Equal(t, "Found three vegan dishes.", result.Reply.Content)
	require.True(t, streamer.scopes[0].closed)
	require.True(t, streamer.scopes[1].closed)
}

func TestAdvanceTurnStreamWaitsOutNonTerminalPause(t *testing.T) {
	// A run step can complete while the run itself is still in progress;
	// the driver must wait for a terminal or actionable status instead of
	// reporting a healthy run as failed.
	streamer := &fakeStreamer{scopes: []*scriptedStream{{events: []platform.StreamEvent{
		{Type: platform.EventRunStepCreated, RunID: "run_1", StepID: "step_1"},
		{Type: platform.EventTextDelta, Text: "Hello"},
		{Type: platform.EventTextDone},
		{Type: platform.EventToolCallDone},
	}}}}
	client := &fakeClient{
		script: []*platform.Run{
			{ID: "run_1", Status: platform.StatusInProgress},
			{ID: "run_1", Status: platform.StatusCompleted},
		},
	}
	c := newTestController(t, client, streamer)

	result, err := c.AdvanceTurnStream(context.Background(), "thread_test1", "hi",
		assistant.Caller{GuestID: "g-1"}, StreamCallbacks{})
	require.NoError(t, err)
	require.Equal(t, "Hello", result.Reply.Content)
	require.Empty(t, streamer.submitted, "no pause, nothing to submit")
}

func TestAdvanceTurnStreamExceptionIsGeneric(t *testing.T) {
	streamer := &fakeStreamer{scopes: []*scriptedStream{{events: []platform.StreamEvent{
		{Type: platform.EventRunStepCreated, RunID: "run_1"},
		{Type: platform.EventTextDelta, Text: "partial"},
		{Type: platform.EventException, Err: errors.New("rate limit hit on upstream key sk-123")},
	}}}}
	client := &fakeClient{script: []*platform.Run{{ID: "run_1", Status: platform.StatusFailed}}}
	c := newTestController(t, client, streamer)

	var messages []assistant.ChatMessage
	_, err := c.AdvanceTurnStream(context.Background(), "thread_test1", "hi",
		assistant.Caller{GuestID: "g-1"}, StreamCallbacks{
			OnMessage: func(msg assistant.ChatMessage) { messages = append(messages, msg) },
		})
	require.ErrorIs(t, err, errStreamFailed)
	require.NotContains(t, err.Error(), "sk-123", "upstream detail is logged, not surfaced")
	require.Empty(t, messages, "partial text never becomes a message")
}

func TestAdvanceTurnStreamUnknownEvent(t *testing.T) {
	streamer := &fakeStreamer{scopes: []*scriptedStream{{events: []platform.StreamEvent{
		{Type: platform.EventRunStepCreated, RunID: "run_1"},
		{Type: platform.EventType("thread.renamed")},
	}}}}
	client := &fakeClient{script: []*platform.Run{{ID: "run_1", Status: platform.StatusCompleted}}}
	c := newTestController(t, client, streamer)

	_, err := c.AdvanceTurnStream(context.Background(), "thread_test1", "hi",
		assistant.Caller{GuestID: "g-1"}, StreamCallbacks{})
	require.ErrorIs(t, err, errStreamFailed)
}

func TestAdvanceTurnStreamFallsBackToThreadFetch(t *testing.T) {
	// The scope drains without a text.done; the thread is authoritative.
	streamer := &fakeStreamer{scopes: []*scriptedStream{{events: []platform.StreamEvent{
		{Type: platform.EventRunStepCreated, RunID: "run_1"},
	}}}}
	client := &fakeClient{
		script: []*platform.Run{{ID: "run_1", Status: platform.StatusCompleted}},
		messages: []platform.Message{
			{Role: "assistant", Content: "From the thread.", CreatedAt: time.Now()},
		},
	}
	c := newTestController(t, client, streamer)

	result, err := c.AdvanceTurnStream(context.Background(), "thread_test1", "hi",
		assistant.Caller{GuestID: "g-1"}, StreamCallbacks{})
	require.NoError(t, err)
	require.Equal(t, "From the thread.", result.Reply.Content)
	require.Equal(t, 1, client.listCalls)
}

func TestAdvanceTurnStreamWithoutStreamer(t *testing.T) {
	client := &fakeClient{script: []*platform.Run{{ID: "run_1", Status: platform.StatusCompleted}}}
	c := newTestController(t, client, nil)

	_, err := c.AdvanceTurnStream(context.Background(), "", "hi", assistant.Caller{GuestID: "g-1"}, StreamCallbacks{})
	require.ErrorIs(t, err, ErrStreamingUnsupported)
}
