package platform

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the assistant platform adapter.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // optional override, e.g. for a proxy
	Timeout time.Duration
}

// OpenAIClient implements Client and Streamer over the OpenAI Assistants
// API via sashabaranov/go-openai. The streaming variant is carried by the
// SSE reader in stream.go because the SDK covers only the poll-driven
// assistant surface.
type OpenAIClient struct {
	api    *openai.Client
	stream *sseClient
}

// NewOpenAIClient creates a platform adapter from cfg.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIClient{
		api:    openai.NewClientWithConfig(clientConfig),
		stream: newSSEClient(clientConfig.BaseURL, cfg.APIKey, cfg.Timeout),
	}
}

// CreateThread creates an empty conversation thread.
func (c *OpenAIClient) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.api.CreateThread(ctx, openai.ThreadRequest{})
	if err != nil {
		return "", errors.Wrap(err, "create thread")
	}
	return thread.ID, nil
}

// AddUserMessage appends a user message to the thread.
func (c *OpenAIClient) AddUserMessage(ctx context.Context, threadID, text string) error {
	_, err := c.api.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	return errors.Wrap(err, "append user message")
}

// CreateRun starts a run of the given assistant over the thread.
func (c *OpenAIClient) CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error) {
	run, err := c.api.CreateRun(ctx, threadID, openai.RunRequest{
		AssistantID: assistantID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create run")
	}
	return convertRun(&run), nil
}

// RetrieveRun fetches the current run state.
func (c *OpenAIClient) RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error) {
	run, err := c.api.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return nil, errors.Wrap(err, "retrieve run")
	}
	return convertRun(&run), nil
}

// SubmitToolOutputs answers a requires_action pause with the complete
// output batch.
func (c *OpenAIClient) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolCallResult) error {
	request := openai.SubmitToolOutputsRequest{
		ToolOutputs: make([]openai.ToolOutput, 0, len(outputs)),
	}
	for _, out := range outputs {
		request.ToolOutputs = append(request.ToolOutputs, openai.ToolOutput{
			ToolCallID: out.ToolCallID,
			Output:     out.Output,
		})
	}
	_, err := c.api.SubmitToolOutputs(ctx, threadID, runID, request)
	return errors.Wrap(err, "submit tool outputs")
}

// ListMessages returns the thread's messages ordered oldest first.
func (c *OpenAIClient) ListMessages(ctx context.Context, threadID string) ([]Message, error) {
	order := "asc"
	list, err := c.api.ListMessage(ctx, threadID, nil, &order, nil, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	messages := make([]Message, 0, len(list.Messages))
	for _, m := range list.Messages {
		messages = append(messages, Message{
			Role:      m.Role,
			Content:   messageText(m),
			CreatedAt: time.Unix(int64(m.CreatedAt), 0),
		})
	}
	return messages, nil
}

// StreamRun starts a run and streams its events.
func (c *OpenAIClient) StreamRun(ctx context.Context, threadID, assistantID string) (EventStream, error) {
	return c.stream.openRun(ctx, threadID, assistantID)
}

// SubmitToolOutputsStream answers a requires_action pause and streams the
// continuation.
func (c *OpenAIClient) SubmitToolOutputsStream(ctx context.Context, threadID, runID string, outputs []ToolCallResult) (EventStream, error) {
	return c.stream.openToolOutputs(ctx, threadID, runID, outputs)
}

func convertRun(run *openai.Run) *Run {
	out := &Run{
		ID:       run.ID,
		ThreadID: run.ThreadID,
		Status:   RunStatus(run.Status),
	}
	if run.RequiredAction != nil && run.RequiredAction.SubmitToolOutputs != nil {
		for _, tc := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
			out.PendingToolCalls = append(out.PendingToolCalls, ToolCallRequest{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	return out
}

// messageText concatenates the text parts of a platform message.
// Non-text parts (images, files) are skipped.
func messageText(m openai.Message) string {
	var sb strings.Builder
	for _, part := range m.Content {
		if part.Text != nil {
			sb.WriteString(part.Text.Value)
		}
	}
	return sb.String()
}
