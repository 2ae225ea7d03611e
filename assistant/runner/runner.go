// Package runner owns the state machine of one conversational turn:
// ensure a thread, append the user message, create a run, and drive the
// run to a terminal state while dispatching tool calls whenever it pauses
// for required action. Two drivers exist over the same platform contract:
// a poll loop (this file) and a streaming event consumer (stream.go).
package runner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/platewise/platewise/assistant"
	"github.com/platewise/platewise/assistant/metrics"
	"github.com/platewise/platewise/assistant/platform"
	"github.com/platewise/platewise/assistant/tools"
)

// Config configures a Controller.
type Config struct {
	// AssistantID serves authenticated callers.
	AssistantID string
	// GuestAssistantID serves guest callers.
	GuestAssistantID string
	// PollInterval between run status checks. Default 500ms.
	PollInterval time.Duration
	// TurnTimeout bounds one turn end to end, including tool dispatch.
	// Default 120s. A never-completing remote run must not block the
	// session forever.
	TurnTimeout time.Duration
}

// Controller drives runs to completion.
//
// At most one run is outstanding per caller: a second turn attempted
// while one is active fails with ErrActiveRunConflict instead of racing,
// and no thread or run is created for the rejected attempt.
type Controller struct {
	platform   platform.Client
	streamer   platform.Streamer
	dispatcher *tools.Dispatcher
	metrics    *metrics.Exporter

	assistantID      string
	guestAssistantID string
	pollInterval     time.Duration
	turnTimeout      time.Duration

	mu     sync.Mutex
	active map[string]struct{} // caller key -> turn in flight
}

// NewController creates a Controller. streamer may be nil when the
// platform offers no incremental delivery; exporter may be nil.
func NewController(client platform.Client, streamer platform.Streamer, dispatcher *tools.Dispatcher, exporter *metrics.Exporter, cfg Config) *Controller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 120 * time.Second
	}
	if cfg.GuestAssistantID == "" {
		cfg.GuestAssistantID = cfg.AssistantID
	}
	return &Controller{
		platform:         client,
		streamer:         streamer,
		dispatcher:       dispatcher,
		metrics:          exporter,
		assistantID:      cfg.AssistantID,
		guestAssistantID: cfg.GuestAssistantID,
		pollInterval:     cfg.PollInterval,
		turnTimeout:      cfg.TurnTimeout,
		active:           make(map[string]struct{}),
	}
}

// TurnResult is the terminal outcome of one successful turn.
type TurnResult struct {
	// ThreadID is the thread the turn ran on; set even when the thread
	// was created by this turn.
	ThreadID string
	// Reply is the assistant message produced by the run.
	Reply assistant.ChatMessage
}

// AdvanceTurn executes one poll-driven turn. An empty threadID creates a
// new thread; a malformed one fails fast with ErrInvalidThreadID before
// any network call.
func (c *Controller) AdvanceTurn(ctx context.Context, threadID, userText string, caller assistant.Caller) (*TurnResult, error) {
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
		c.metrics.ObserveTurn(callerMode(caller), "poll", time.Since(start))
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

	run, err := c.platform.CreateRun(ctx, threadID, c.assistantFor(caller))
	if err != nil {
		return nil, err
	}
	slog.Debug("runner: run created",
		"thread_id", threadID,
		"run_id", run.ID,
		"mode", callerMode(caller),
	)

	for {
		switch {
		case run.Status == platform.StatusCompleted:
			c.metrics.ObserveRun(string(run.Status), callerMode(caller))
			reply, err := c.lastAssistantMessage(ctx, threadID)
			if err != nil {
				return nil, err
			}
			slog.Info("runner: run completed",
				"thread_id", threadID,
				"run_id", run.ID,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return &TurnResult{ThreadID: threadID, Reply: reply}, nil

		case run.Status.Terminal():
			// Failed, expired or cancelled. Never retried automatically.
			c.metrics.ObserveRun(string(run.Status), callerMode(caller))
			slog.Error("runner: run ended without completion",
				"thread_id", threadID,
				"run_id", run.ID,
				"status", run.Status,
			)
			return nil, &assistant.RunFailedError{Status: string(run.Status)}

		case run.Status == platform.StatusRequiresAction:
			// Every pending call is answered, and the results go up as
			// one batch; the run stalls server-side on a partial set.
			results := c.dispatcher.DispatchAll(ctx, run.PendingToolCalls, caller)
			if err := c.platform.SubmitToolOutputs(ctx, threadID, run.ID, results); err != nil {
				return nil, err
			}
			slog.Debug("runner: tool outputs submitted",
				"thread_id", threadID,
				"run_id", run.ID,
				"batch_size", len(results),
			)

		default:
			// Queued, in progress, cancelling: wait out one interval.
			if err := sleepCtx(ctx, c.pollInterval); err != nil {
				slog.Warn("runner: turn abandoned with run still in flight",
					"thread_id", threadID,
					"run_id", run.ID,
					"error", err,
				)
				return nil, errors.Wrap(err, "turn deadline exceeded")
			}
		}

		run, err = c.platform.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return nil, err
		}
	}
}

func (c *Controller) checkTurnInput(threadID, userText string) error {
	if userText == "" {
		return assistant.ErrEmptyMessage
	}
	return assistant.CheckThreadID(threadID)
}

// beginTurn claims the caller's turn slot, enforcing the one-run-per-
// caller guarantee.
func (c *Controller) beginTurn(caller assistant.Caller) (func(), error) {
	key := caller.Key()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.active[key]; busy {
		return nil, assistant.ErrActiveRunConflict
	}
	c.active[key] = struct{}{}
	return func() {
		c.mu.Lock()
		delete(c.active, key)
		c.mu.Unlock()
	}, nil
}

func (c *Controller) ensureThread(ctx context.Context, threadID string) (string, error) {
	if threadID != "" {
		return threadID, nil
	}
	id, err := c.platform.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	slog.Debug("runner: thread created", "thread_id", id)
	return id, nil
}

func (c *Controller) assistantFor(caller assistant.Caller) string {
	if caller.Authenticated() {
		return c.assistantID
	}
	return c.guestAssistantID
}

// lastAssistantMessage returns the newest assistant message of a thread.
func (c *Controller) lastAssistantMessage(ctx context.Context, threadID string) (assistant.ChatMessage, error) {
	messages, err := c.platform.ListMessages(ctx, threadID)
	if err != nil {
		return assistant.ChatMessage{}, err
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == string(assistant.RoleAssistant) {
			return assistant.ChatMessage{
				Role:      assistant.RoleAssistant,
				Content:   messages[i].Content,
				CreatedAt: messages[i].CreatedAt,
			}, nil
		}
	}
	return assistant.ChatMessage{}, errors.New("completed run produced no assistant message")
}

func callerMode(caller assistant.Caller) string {
	if caller.Authenticated() {
		return "user"
	}
	return "guest"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
