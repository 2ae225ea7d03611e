package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/platewise/platewise/assistant"
	"github.com/platewise/platewise/assistant/metrics"
	"github.com/platewise/platewise/assistant/platform"
)

// Dispatcher resolves and executes tool calls emitted by paused runs.
//
// A dispatch never fails past this boundary: unknown functions, malformed
// arguments and backend failures all come back as a well-formed result
// whose output encodes the error, so the run can proceed and the
// assistant can react in natural language instead of the turn crashing.
type Dispatcher struct {
	registry *Registry
	metrics  *metrics.Exporter
}

// NewDispatcher creates a dispatcher over the given registry.
// The metrics exporter may be nil.
func NewDispatcher(registry *Registry, exporter *metrics.Exporter) *Dispatcher {
	return &Dispatcher{registry: registry, metrics: exporter}
}

// Dispatch executes one tool call for the caller. The tool_call_id is
// copied from request to result unchanged; correlation is 1:1.
func (d *Dispatcher) Dispatch(ctx context.Context, call platform.ToolCallRequest, caller assistant.Caller) platform.ToolCallResult {
	start := time.Now()

	handler, ok := d.registry.Lookup(call.Name)
	if !ok {
		slog.Warn("dispatch: unknown function requested",
			"function", call.Name,
			"tool_call_id", call.ID,
		)
		d.metrics.ObserveToolCall(call.Name, "unknown", time.Since(start))
		return errorResult(call.ID, "unknown function: "+call.Name)
	}

	// The authorization decision is evaluated per call, never cached:
	// protected functions invoked by a guest are served through the
	// guest-scoped backend variant.
	guestVariant := !caller.Authenticated()
	if handler.RequiresAuth() && guestVariant {
		slog.Debug("dispatch: protected function served via guest variant",
			"function", call.Name,
			"tool_call_id", call.ID,
		)
	}

	args, err := injectCallerContext(call.Arguments, caller)
	if err != nil {
		slog.Warn("dispatch: malformed tool arguments",
			"function", call.Name,
			"tool_call_id", call.ID,
			"error", err,
		)
		d.metrics.ObserveToolCall(call.Name, "bad_arguments", time.Since(start))
		return errorResult(call.ID, "arguments are not a JSON object")
	}
	call.Arguments = args

	output, err := handler.Invoke(ctx, call, caller)
	if err != nil {
		slog.Error("dispatch: function failed",
			"function", call.Name,
			"tool_call_id", call.ID,
			"authenticated", caller.Authenticated(),
			"error", err,
		)
		d.metrics.ObserveToolCall(call.Name, "error", time.Since(start))
		return errorResult(call.ID, "function "+call.Name+" failed: "+err.Error())
	}

	slog.Debug("dispatch: function completed",
		"function", call.Name,
		"tool_call_id", call.ID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	d.metrics.ObserveToolCall(call.Name, "success", time.Since(start))
	return platform.ToolCallResult{ToolCallID: call.ID, Output: output}
}

// DispatchAll executes every pending call of one requires_action pause and
// returns the complete batch, ordered like the input. The batch must be
// submitted as a whole; partial submissions stall the run server-side.
func (d *Dispatcher) DispatchAll(ctx context.Context, calls []platform.ToolCallRequest, caller assistant.Caller) []platform.ToolCallResult {
	results := make([]platform.ToolCallResult, 0, len(calls))
	for _, call := range calls {
		results = append(results, d.Dispatch(ctx, call, caller))
	}
	return results
}

// injectCallerContext merges the resolved caller identity into the
// assistant-declared arguments. The assistant is never trusted to supply
// identity itself, so any identity keys it set are overwritten.
func injectCallerContext(rawArgs string, caller assistant.Caller) (string, error) {
	args := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return "", err
		}
	}
	delete(args, "user_id")
	delete(args, "guest_id")
	if caller.Authenticated() {
		args["user_id"] = caller.UserID
	} else if caller.GuestID != "" {
		args["guest_id"] = caller.GuestID
	}
	merged, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(merged), nil
}

func errorResult(toolCallID, message string) platform.ToolCallResult {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return platform.ToolCallResult{ToolCallID: toolCallID, Output: string(payload)}
}
