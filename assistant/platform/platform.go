// Package platform defines the contract the orchestration engine has with
// the assistant platform: threads, runs, tool calls, and the typed event
// stream of the streaming run variant. The platform itself is external;
// this package only models its request/response and event surface.
package platform

import (
	"context"
	"time"
)

// RunStatus is the lifecycle status of one assistant run.
type RunStatus string

const (
	StatusQueued         RunStatus = "queued"
	StatusInProgress     RunStatus = "in_progress"
	StatusRequiresAction RunStatus = "requires_action"
	StatusCancelling     RunStatus = "cancelling"
	StatusCompleted      RunStatus = "completed"
	StatusFailed         RunStatus = "failed"
	StatusExpired        RunStatus = "expired"
	StatusCancelled      RunStatus = "cancelled"
)

// Terminal reports whether no further transitions occur after s.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// ToolCallRequest is emitted by the assistant when a run pauses for a
// backend function result.
type ToolCallRequest struct {
	ID        string `json:"id"`
	Name      string `json:"function"`
	Arguments string `json:"arguments"` // JSON object as declared by the assistant
}

// ToolCallResult answers one ToolCallRequest. ToolCallID correlates 1:1
// with the request and must be copied through unchanged.
type ToolCallResult struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"` // JSON-serialized exactly once
}

// Run is one assistant-side processing cycle over a thread.
// PendingToolCalls is populated only while Status is requires_action.
type Run struct {
	ID               string
	ThreadID         string
	Status           RunStatus
	PendingToolCalls []ToolCallRequest
}

// Message is a thread message as stored by the platform.
type Message struct {
	Role      string
	Content   string
	CreatedAt time.Time
}

// Client is the poll-driven platform surface.
type Client interface {
	// CreateThread creates an empty conversation thread and returns its id.
	CreateThread(ctx context.Context) (string, error)

	// AddUserMessage appends a user message to the thread.
	AddUserMessage(ctx context.Context, threadID, text string) error

	// CreateRun starts a run of the given assistant over the thread.
	CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error)

	// RetrieveRun fetches the current run state.
	RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error)

	// SubmitToolOutputs answers a requires_action pause. The platform
	// expects the complete output set in one batch; partial submissions
	// stall the run server-side.
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolCallResult) error

	// ListMessages returns the thread's messages ordered oldest first.
	ListMessages(ctx context.Context, threadID string) ([]Message, error)
}

// Streamer is the event-driven platform surface. Both methods open an
// event scope that ends when the run pauses or reaches a terminal state.
type Streamer interface {
	// StreamRun starts a run and streams its events.
	StreamRun(ctx context.Context, threadID, assistantID string) (EventStream, error)

	// SubmitToolOutputsStream answers a requires_action pause and streams
	// the continuation. A fresh event scope starts per submission.
	SubmitToolOutputsStream(ctx context.Context, threadID, runID string, outputs []ToolCallResult) (EventStream, error)
}

// EventStream yields typed events for one event scope.
type EventStream interface {
	// Next returns the next event, or io.EOF once the scope is drained.
	Next() (StreamEvent, error)
	Close() error
}
