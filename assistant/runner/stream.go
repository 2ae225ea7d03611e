package runner

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/platewise/platewise/assistant"
	"github.com/platewise/platewise/assistant/platform"
)

// ErrStreamingUnsupported is returned when the platform adapter offers no
// incremental delivery.
var ErrStreamingUnsupported = errors.New("streaming is not supported by the platform client")

// errStreamFailed is the generic user-facing streaming failure; the
// underlying cause is logged, never propagated to the UI.
var errStreamFailed = errors.New("the assistant could not finish this reply")

// StreamCallbacks receive incremental output while a streaming turn is
// in flight. Either callback may be nil.
type StreamCallbacks struct {
	// OnDelta receives raw text fragments as they arrive. Fragments are
	// presentation hints only; the authoritative message arrives whole.
	OnDelta func(text string)
	// OnMessage receives exactly one message per completed text span.
	OnMessage func(msg assistant.ChatMessage)
}

// streamState accumulates one event scope: partial text, the current run
// step, and pending tool-call buffers. State is never reused across a
// tool-output submission; each continuation stream gets a fresh instance.
type streamState struct {
	text      strings.Builder
	spans     []string
	runID     string
	stepID    string
	toolCalls map[string]*toolCallBuffer
	order     []string
}

type toolCallBuffer struct {
	id   string
	name string
	kind platform.ToolCallKind
	args strings.Builder
	// interpreter input/output accumulate for display only; they are
	// never dispatched to the backend.
	interpreterIn  strings.Builder
	interpreterOut strings.Builder
}

func newStreamState(runID string) *streamState {
	return &streamState{
		runID:     runID,
		toolCalls: make(map[string]*toolCallBuffer),
	}
}

func (s *streamState) buffer(id string) *toolCallBuffer {
	if id == "" {
		// Continuation deltas omit the id; they extend the last call.
		if len(s.order) == 0 {
			return nil
		}
		return s.toolCalls[s.order[len(s.order)-1]]
	}
	buf, ok := s.toolCalls[id]
	if !ok {
		buf = &toolCallBuffer{id: id}
		s.toolCalls[id] = buf
		s.order = append(s.order, id)
	}
	return buf
}

// scopeOutcome says why an event scope ended.
type scopeOutcome int

const (
	scopeDrained      scopeOutcome = iota // stream ended
	scopeToolCallDone                     // run paused; re-fetch status
)

// AdvanceTurnStream executes one turn driven by the platform event stream
// instead of polling. Semantics match AdvanceTurn: same validation, same
// one-run-per-caller guarantee, same batched tool-output submission.
func (c *Controller) AdvanceTurnStream(ctx context.Context, threadID, userText string, caller assistant.Caller, callbacks StreamCallbacks) (*TurnResult, error) {
	if c.streamer == nil {
		return nil, ErrStreamingUnsupported
	}
	if err := c.checkTurnInput(threadID, userText); err != nil {
		return nil, err
	}
	release, err := c.beginTurn(caller)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	defer c.metrics.TurnStarted()()
	defer func() {
		c.metrics.ObserveTurn(callerMode(caller), "stream", time.Since(start))
	}()

	ctx, cancel := context.WithTimeout(ctx, c.turnTimeout)
	defer cancel()

	threadID, err = c.ensureThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if err := c.platform.AddUserMessage(ctx, threadID, userText); err != nil {
		return nil, err
	}

	stream, err := c.streamer.StreamRun(ctx, threadID, c.assistantFor(caller))
	if err != nil {
		return nil, err
	}

	var spans []string
	for {
		state := newStreamState("")
		outcome, err := c.consumeScope(stream, state, callbacks)
		closeErr := stream.Close()
		if err != nil {
			slog.Error("runner: stream scope failed",
				"thread_id", threadID,
				"run_id", state.runID,
				"error", err,
			)
			return nil, errStreamFailed
		}
		if closeErr != nil {
			slog.Warn("runner: closing event stream", "error", closeErr)
		}
		spans = append(spans, state.spans...)

		if state.runID == "" {
			if outcome == scopeToolCallDone {
				slog.Error("runner: tool_call.done without run_step.created",
					"thread_id", threadID,
				)
				return nil, errStreamFailed
			}
			if len(spans) > 0 {
				// The terminal span arrived; the run id was never
				// surfaced but the turn is complete.
				return c.finishStreamTurn(ctx, threadID, nil, spans, start, caller)
			}
			return nil, errStreamFailed
		}

		// The retrieved state is authoritative for whether the run
		// completed, paused for tool calls, or failed. A scope can end
		// while the run is still moving (a message-creation step
		// completing mid-run), so non-terminal statuses are waited out,
		// never treated as failure.
		run, err := c.awaitActionable(ctx, threadID, state.runID)
		if err != nil {
			return nil, err
		}
		switch {
		case run.Status == platform.StatusCompleted:
			return c.finishStreamTurn(ctx, threadID, run, spans, start, caller)

		case run.Status == platform.StatusRequiresAction:
			results := c.dispatcher.DispatchAll(ctx, run.PendingToolCalls, caller)
			stream, err = c.streamer.SubmitToolOutputsStream(ctx, threadID, run.ID, results)
			if err != nil {
				return nil, err
			}
			slog.Debug("runner: continuation stream opened",
				"thread_id", threadID,
				"run_id", run.ID,
				"batch_size", len(results),
			)

		default:
			c.metrics.ObserveRun(string(run.Status), callerMode(caller))
			return nil, &assistant.RunFailedError{Status: string(run.Status)}
		}
	}
}

// awaitActionable polls the run until it pauses for action or reaches a
// terminal state. The turn deadline on ctx bounds the wait.
func (c *Controller) awaitActionable(ctx context.Context, threadID, runID string) (*platform.Run, error) {
	for {
		run, err := c.platform.RetrieveRun(ctx, threadID, runID)
		if err != nil {
			return nil, err
		}
		if run.Status.Terminal() || run.Status == platform.StatusRequiresAction {
			return run, nil
		}
		if err := sleepCtx(ctx, c.pollInterval); err != nil {
			slog.Warn("runner: turn abandoned with run still in flight",
				"thread_id", threadID,
				"run_id", runID,
				"error", err,
			)
			return nil, errors.Wrap(err, "turn deadline exceeded")
		}
	}
}

// consumeScope folds events into state until the scope ends. Exactly one
// message is emitted per completed text span; partial text never leaks.
func (c *Controller) consumeScope(stream platform.EventStream, state *streamState, callbacks StreamCallbacks) (scopeOutcome, error) {
	for {
		event, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return scopeDrained, nil
			}
			return scopeDrained, err
		}

		switch event.Type {
		case platform.EventTextDelta:
			state.text.WriteString(event.Text)
			if callbacks.OnDelta != nil {
				callbacks.OnDelta(event.Text)
			}

		case platform.EventTextDone:
			span := event.Text
			if span == "" {
				span = state.text.String()
			}
			state.text.Reset()
			state.spans = append(state.spans, span)
			if callbacks.OnMessage != nil {
				callbacks.OnMessage(assistant.ChatMessage{
					Role:      assistant.RoleAssistant,
					Content:   span,
					CreatedAt: time.Now(),
				})
			}

		case platform.EventRunStepCreated:
			state.runID = event.RunID
			state.stepID = event.StepID

		case platform.EventToolCallDelta:
			buf := state.buffer(event.ToolCallID)
			if buf == nil {
				return scopeDrained, &assistant.UnexpectedEventError{
					EventType: string(event.Type),
					Reason:    "tool call delta before any tool call id",
				}
			}
			if event.ToolName != "" {
				buf.name = event.ToolName
			}
			if event.ToolKind != "" {
				buf.kind = event.ToolKind
			}
			switch event.ToolKind {
			case platform.ToolKindInterpreter:
				buf.interpreterIn.WriteString(event.InterpreterInput)
				buf.interpreterOut.WriteString(event.InterpreterOutput)
			default:
				buf.args.WriteString(event.ArgumentsDelta)
			}

		case platform.EventToolCallDone:
			return scopeToolCallDone, nil

		case platform.EventException:
			return scopeDrained, event.Err

		default:
			return scopeDrained, &assistant.UnexpectedEventError{
				EventType: string(event.Type),
				Reason:    "not part of the streaming contract",
			}
		}
	}
}

func (c *Controller) finishStreamTurn(ctx context.Context, threadID string, run *platform.Run, spans []string, start time.Time, caller assistant.Caller) (*TurnResult, error) {
	c.metrics.ObserveRun(string(platform.StatusCompleted), callerMode(caller))
	reply := assistant.ChatMessage{
		Role:      assistant.RoleAssistant,
		CreatedAt: time.Now(),
		Content:   strings.Join(spans, "\n\n"),
	}
	if reply.Content == "" {
		// No text.done was observed; the thread is authoritative.
		fetched, err := c.lastAssistantMessage(ctx, threadID)
		if err != nil {
			return nil, err
		}
		reply = fetched
	}
	runID := ""
	if run != nil {
		runID = run.ID
	}
	slog.Info("runner: streamed run completed",
		"thread_id", threadID,
		"run_id", runID,
		"spans", len(spans),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &TurnResult{ThreadID: threadID, Reply: reply}, nil
}
