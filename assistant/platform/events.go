package platform

// EventType tags a StreamEvent. The set mirrors the platform's streaming
// contract for runs; anything outside it is reported as EventException.
type EventType string

const (
	// EventTextDelta carries an incremental fragment of assistant text.
	EventTextDelta EventType = "text.delta"
	// EventTextDone carries one complete assistant text span.
	EventTextDone EventType = "text.done"
	// EventRunStepCreated announces a run step; it carries the run and
	// step ids used to correlate later tool-call events.
	EventRunStepCreated EventType = "run_step.created"
	// EventToolCallDelta carries an incremental fragment of a tool call.
	EventToolCallDelta EventType = "tool_call.delta"
	// EventToolCallDone marks the end of tool-call accumulation; the run
	// state must be re-fetched to learn whether action is required.
	EventToolCallDone EventType = "tool_call.done"
	// EventException reports a platform-side failure in the stream.
	EventException EventType = "exception"
)

// ToolCallKind discriminates tool-call delta payloads.
type ToolCallKind string

const (
	// ToolKindFunction is a backend function call; its arguments are
	// accumulated and dispatched.
	ToolKindFunction ToolCallKind = "function"
	// ToolKindInterpreter is platform-side code execution; its input and
	// output are accumulated for display only, never dispatched.
	ToolKindInterpreter ToolCallKind = "code_interpreter"
)

// StreamEvent is the tagged union consumed by the streaming run driver.
// Only the fields relevant to Type are populated.
type StreamEvent struct {
	Type EventType

	// Text is the fragment for text.delta, the full span for text.done.
	Text string

	// RunID and StepID are set on run_step.created.
	RunID  string
	StepID string

	// Tool-call fields, set on tool_call.delta.
	ToolCallID     string
	ToolName       string
	ToolKind       ToolCallKind
	ArgumentsDelta string
	// Interpreter input/output fragments for code_interpreter deltas.
	InterpreterInput  string
	InterpreterOutput string

	// Err is set on exception events.
	Err error
}
