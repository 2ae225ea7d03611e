package platform

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// sseClient drives the streaming variant of run creation over the
// platform's server-sent-events endpoints. The go-openai SDK covers only
// the poll-driven assistant surface, so the event stream is read directly.
type sseClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func newSSEClient(baseURL, apiKey string, timeout time.Duration) *sseClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &sseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			// No overall timeout: the body stays open for the life of
			// the run. Cancellation comes from the request context.
			Transport: &http.Transport{ResponseHeaderTimeout: timeout},
		},
	}
}

func (c *sseClient) openRun(ctx context.Context, threadID, assistantID string) (EventStream, error) {
	body := map[string]any{
		"assistant_id": assistantID,
		"stream":       true,
	}
	url := fmt.Sprintf("%s/threads/%s/runs", c.baseURL, threadID)
	return c.open(ctx, url, body)
}

func (c *sseClient) openToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolCallResult) (EventStream, error) {
	body := map[string]any{
		"tool_outputs": outputs,
		"stream":       true,
	}
	url := fmt.Sprintf("%s/threads/%s/runs/%s/submit_tool_outputs", c.baseURL, threadID, runID)
	return c.open(ctx, url, body)
}

func (c *sseClient) open(ctx context.Context, url string, body any) (EventStream, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "marshal stream request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrap(err, "build stream request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "open event stream")
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, errors.Errorf("event stream rejected: status %d: %s", resp.StatusCode, string(detail))
	}
	return &sseStream{body: resp.Body, scanner: newEventScanner(resp.Body)}, nil
}

// maxEventSize bounds one SSE line. Completed-message frames carry the
// whole assistant reply in a single data line, far past bufio.Scanner's
// 64 KiB default.
const maxEventSize = 4 << 20

func newEventScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)
	return scanner
}

// sseStream decodes server-sent events into the StreamEvent union.
// One wire frame can fan out into several events (a step delta may carry
// multiple tool calls), so decoded events are queued.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	queue   []StreamEvent
	done    bool
}

func (s *sseStream) Next() (StreamEvent, error) {
	for {
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			return ev, nil
		}
		if s.done {
			return StreamEvent{}, io.EOF
		}
		name, data, err := s.readFrame()
		if err != nil {
			return StreamEvent{}, err
		}
		s.decodeFrame(name, data)
	}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

// readFrame reads one "event:"/"data:" frame, ending at a blank line.
func (s *sseStream) readFrame() (name string, data []byte, err error) {
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			if name != "" || len(data) > 0 {
				return name, data, nil
			}
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			// Multiple data lines in one frame join with a newline.
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:"))...)
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", nil, errors.Wrap(err, "read event stream")
	}
	return "", nil, io.EOF
}

func (s *sseStream) decodeFrame(name string, data []byte) {
	if bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]")) || name == "done" {
		s.done = true
		return
	}
	switch name {
	case "thread.message.delta":
		var frame messageDeltaFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.pushDecodeError(name, err)
			return
		}
		var sb strings.Builder
		for _, part := range frame.Delta.Content {
			sb.WriteString(part.Text.Value)
		}
		if sb.Len() > 0 {
			s.queue = append(s.queue, StreamEvent{Type: EventTextDelta, Text: sb.String()})
		}
	case "thread.message.completed":
		var frame messageFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.pushDecodeError(name, err)
			return
		}
		var sb strings.Builder
		for _, part := range frame.Content {
			sb.WriteString(part.Text.Value)
		}
		s.queue = append(s.queue, StreamEvent{Type: EventTextDone, Text: sb.String()})
	case "thread.run.step.created":
		var frame runStepFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.pushDecodeError(name, err)
			return
		}
		s.queue = append(s.queue, StreamEvent{Type: EventRunStepCreated, RunID: frame.RunID, StepID: frame.ID})
	case "thread.run.step.delta":
		var frame runStepDeltaFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.pushDecodeError(name, err)
			return
		}
		for _, tc := range frame.Delta.StepDetails.ToolCalls {
			ev := StreamEvent{
				Type:       EventToolCallDelta,
				ToolCallID: tc.ID,
				ToolKind:   ToolCallKind(tc.Type),
			}
			switch ToolCallKind(tc.Type) {
			case ToolKindFunction:
				ev.ToolName = tc.Function.Name
				ev.ArgumentsDelta = tc.Function.Arguments
			case ToolKindInterpreter:
				ev.InterpreterInput = tc.CodeInterpreter.Input
				for _, out := range tc.CodeInterpreter.Outputs {
					ev.InterpreterOutput += out.Logs
				}
			default:
				// Unknown tool kinds are accumulated nowhere; skip.
				continue
			}
			s.queue = append(s.queue, ev)
		}
	case "thread.run.requires_action", "thread.run.step.completed":
		s.queue = append(s.queue, StreamEvent{Type: EventToolCallDone})
	case "error":
		var frame errorFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.pushDecodeError(name, err)
			return
		}
		s.queue = append(s.queue, StreamEvent{
			Type: EventException,
			Err:  errors.Errorf("platform stream error: %s", frame.Message),
		})
	default:
		// Lifecycle notifications (run created, queued, in_progress,
		// message created, ...) carry no state the driver needs.
		slog.Debug("platform: ignoring stream event", "event", name)
	}
}

func (s *sseStream) pushDecodeError(name string, err error) {
	s.queue = append(s.queue, StreamEvent{
		Type: EventException,
		Err:  errors.Wrapf(err, "decode %s event", name),
	})
}

// Wire frame shapes, reduced to the fields the driver consumes.

type textValue struct {
	Value string `json:"value"`
}

type contentPart struct {
	Type string    `json:"type"`
	Text textValue `json:"text"`
}

type messageFrame struct {
	Content []contentPart `json:"content"`
}

type messageDeltaFrame struct {
	Delta struct {
		Content []contentPart `json:"content"`
	} `json:"delta"`
}

type runStepFrame struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`
}

type runStepDeltaFrame struct {
	Delta struct {
		StepDetails struct {
			Type      string `json:"type"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
				CodeInterpreter struct {
					Input   string `json:"input"`
					Outputs []struct {
						Type string `json:"type"`
						Logs string `json:"logs"`
					} `json:"outputs"`
				} `json:"code_interpreter"`
			} `json:"tool_calls"`
		} `json:"step_details"`
	} `json:"delta"`
}

type errorFrame struct {
	Message string `json:"message"`
}
