package runner

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/platewise/platewise/assistant"
	"github.com/platewise/platewise/assistant/platform"
	"github.com/platewise/platewise/assistant/tools"
)

// fakeClient scripts the platform: CreateRun returns the first run state,
// each RetrieveRun returns the next one, and the last state repeats.
type fakeClient struct {
	mu sync.Mutex

	script []*platform.Run
	cursor int

	messages          []platform.Message
	createThreadCalls int
	userMessages      []string
	listCalls         int
	submitted         [][]platform.ToolCallResult

	// addMessageGate, when set, blocks AddUserMessage until closed;
	// addMessageEntered is signalled once on entry.
	addMessageGate    chan struct{}
	addMessageEntered chan struct{}
}

func (f *fakeClient) CreateThread(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createThreadCalls++
	return "thread_test1", nil
}

func (f *fakeClient) AddUserMessage(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	f.userMessages = append(f.userMessages, text)
	gate, entered := f.addMessageGate, f.addMessageEntered
	f.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return nil
}

func (f *fakeClient) CreateRun(_ context.Context, threadID, _ string) (*platform.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run := *f.script[0]
	run.ThreadID = threadID
	f.cursor = 1
	return &run, nil
}

func (f *fakeClient) RetrieveRun(_ context.Context, threadID, _ string) (*platform.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cursor >= len(f.script) {
		f.cursor = len(f.script) - 1
	}
	run := *f.script[f.cursor]
	run.ThreadID = threadID
	f.cursor++
	return &run, nil
}

func (f *fakeClient) SubmitToolOutputs(_ context.Context, _, _ string, outputs []platform.ToolCallResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, outputs)
	return nil
}

func (f *fakeClient) ListMessages(context.Context, string) ([]platform.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return f.messages, nil
}

type echoHandler struct {
	name string
}

func (h *echoHandler) Name() string       { return h.name }
func (h *echoHandler) RequiresAuth() bool { return false }
func (h *echoHandler) Invoke(_ context.Context, call platform.ToolCallRequest, _ assistant.Caller) (string, error) {
	return call.Arguments, nil
}

func newTestController(t *testing.T, client platform.Client, streamer platform.Streamer) *Controller {
	t.Helper()
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(&echoHandler{name: "search_dishes"}))
	require.NoError(t, registry.Register(&echoHandler{name: "get_nutrition_facts"}))
	return NewController(client, streamer, tools.NewDispatcher(registry, nil), nil, Config{
		AssistantID:  "asst_main",
		PollInterval: time.Millisecond,
		TurnTimeout:  time.Second,
	})
}

func TestAdvanceTurnCompletesWithOneReply(t *testing.T) {
	client := &fakeClient{
		script: []*platform.Run{
			{ID: "run_1", Status: platform.StatusQueued},
			{ID: "run_1", Status: platform.StatusInProgress},
			{ID: "run_1", Status: platform.StatusCompleted},
		},
		messages: []platform.Message{
			{Role: "user", Content: "what should I eat?", CreatedAt: time.Now().Add(-time.Second)},
			{Role: "assistant", Content: "How about a salad bowl?", CreatedAt: time.Now()},
		},
	}
	c := newTestController(t, client, nil)

	result, err := c.AdvanceTurn(context.Background(), "", "what should I eat?", assistant.Caller{GuestID: "g-1"})
	require.NoError(t, err)
	require.Equal(t, "thread_test1", result.ThreadID)
	require.Equal(t, assistant.RoleAssistant, result.Reply.Role)
	require.Equal(t, "How about a salad bowl?", result.Reply.Content)
	require.Equal(t, 1, client.createThreadCalls)
	require.Equal(t, []string{"what should I eat?"}, client.userMessages)
	require.Equal(t, 1, client.listCalls, "exactly one message fetch per completed turn")
}

func TestAdvanceTurnDispatchesToolBatch(t *testing.T) {
	client := &fakeClient{
		script: []*platform.Run{
			{ID: "run_1", Status: platform.StatusQueued},
			{ID: "run_1", Status: platform.StatusRequiresAction, PendingToolCalls: []platform.ToolCallRequest{
				{ID: "call_a", Name: "search_dishes", Arguments: `{"query":"low carb"}`},
				{ID: "call_b", Name: "get_nutrition_facts", Arguments: `{"dish":"tofu"}`},
			}},
			{ID: "run_1", Status: platform.StatusCompleted},
		},
		messages: []platform.Message{
			{Role: "assistant", Content: "Here are some ideas.", CreatedAt: time.Now()},
		},
	}
	c := newTestController(t, client, nil)

	result, err := c.AdvanceTurn(context.Background(), "thread_test1", "plan my day", assistant.Caller{GuestID: "g-1"})
	require.NoError(t, err)
	require.Equal(t, "Here are some ideas.", result.Reply.Content)

	require.Len(t, client.submitted, 1, "tool outputs go up as one batch")
	batch := client.submitted[0]
	require.Len(t, batch, 2)
	require.Equal(t, "call_a", batch[0].ToolCallID)
	require.Equal(t, "call_b", batch[1].ToolCallID)

	var args map[string]any
	require.NoError(t, json.Unmarshal([]byte(batch[0].Output), &args))
	require.Equal(t, "g-1", args["guest_id"], "caller context reaches the handler")
}

func TestAdvanceTurnFailedRun(t *testing.T) {
	client := &fakeClient{
		script: []*platform.Run{
			{ID: "run_1", Status: platform.StatusQueued},
			{ID: "run_1", Status: platform.StatusFailed},
		},
	}
	c := newTestController(t, client, nil)

	_, err := c.AdvanceTurn(context.Background(), "thread_test1", "hi", assistant.Caller{GuestID: "g-1"})
	var runFailed *assistant.RunFailedError
	require.ErrorAs(t, err, &runFailed)
	require.Equal(t, string(platform.StatusFailed), runFailed.Status)
	require.Zero(t, client.listCalls, "no message fetch after a failed run")
}

func TestAdvanceTurnRejectsBadInputBeforeAnyCall(t *testing.T) {
	client := &fakeClient{script: []*platform.Run{{ID: "run_1", Status: platform.StatusCompleted}}}
	c := newTestController(t, client, nil)

	_, err := c.AdvanceTurn(context.Background(), "bogus-id", "hi", assistant.Caller{GuestID: "g-1"})
	require.ErrorIs(t, err, assistant.ErrInvalidThreadID)

	_, err = c.AdvanceTurn(context.Background(), "", "", assistant.Caller{GuestID: "g-1"})
	require.ErrorIs(t, err, assistant.ErrEmptyMessage)

	require.Zero(t, client.createThreadCalls)
	require.Empty(t, client.userMessages)
}

func TestAdvanceTurnActiveRunConflict(t *testing.T) {
	client := &fakeClient{
		script: []*platform.Run{
			{ID: "run_1", Status: platform.StatusCompleted},
		},
		messages: []platform.Message{
			{Role: "assistant", Content: "done", CreatedAt: time.Now()},
		},
		addMessageGate:    make(chan struct{}),
		addMessageEntered: make(chan struct{}, 1),
	}
	c := newTestController(t, client, nil)
	caller := assistant.Caller{GuestID: "g-1"}

	firstDone := make(chan error, 1)
	go func() {
		_, err := c.AdvanceTurn(context.Background(), "", "first", caller)
		firstDone <- err
	}()
	<-client.addMessageEntered

	// A second turn for the same caller must fail fast without touching
	// the platform.
	_, err := c.AdvanceTurn(context.Background(), "", "second", caller)
	require.ErrorIs(t, err, assistant.ErrActiveRunConflict)
	require.Equal(t, 1, client.createThreadCalls)

	// A different caller is unaffected by the lock; it fails later on its
	// own merits or succeeds, but never with a conflict.
	other := assistant.Caller{GuestID: "g-2"}
	client.mu.Lock()
	gate := client.addMessageGate
	client.addMessageGate = nil
	client.addMessageEntered = nil
	client.mu.Unlock()
	_, err = c.AdvanceTurn(context.Background(), "thread_test1", "hello", other)
	require.NotErrorIs(t, err, assistant.ErrActiveRunConflict)

	close(gate)
	require.NoError(t, <-firstDone)

	// Once the first turn finished, the caller may start another.
	_, err = c.AdvanceTurn(context.Background(), "thread_test1", "third", caller)
	require.NoError(t, err)
}

func TestAdvanceTurnDeadline(t *testing.T) {
	client := &fakeClient{
		script: []*platform.Run{
			{ID: "run_1", Status: platform.StatusInProgress},
		},
	}
	registry := tools.NewRegistry()
	c := NewController(client, nil, tools.NewDispatcher(registry, nil), nil, Config{
		AssistantID:  "asst_main",
		PollInterval: time.Millisecond,
		TurnTimeout:  25 * time.Millisecond,
	})

	_, err := c.AdvanceTurn(context.Background(), "thread_test1", "hi", assistant.Caller{GuestID: "g-1"})
	require.Error(t, err)
	require.ErrorIs(t, errors.Cause(err), context.DeadlineExceeded)
}
