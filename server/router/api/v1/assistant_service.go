package v1

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/platewise/platewise/assistant"
	"github.com/platewise/platewise/assistant/runner"
	"github.com/platewise/platewise/assistant/session"
	"github.com/platewise/platewise/backend"
	"github.com/platewise/platewise/server/auth"
)

// ChatRequest is one dashboard turn.
type ChatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

// ChatMessagePayload is a transcript message as rendered for the UI.
type ChatMessagePayload struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	HTML      string    `json:"html,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatResponse is the terminal result of one turn.
type ChatResponse struct {
	ThreadID  string             `json:"thread_id"`
	Message   ChatMessagePayload `json:"message"`
	FollowUps []string           `json:"follow_ups,omitempty"`
}

// Chat executes one poll-driven conversational turn.
func (s *APIV1Service) Chat(c echo.Context) error {
	ctx := c.Request().Context()

	req := &ChatRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request")
	}

	sess, err := s.sessionFor(c)
	if err != nil {
		return err
	}
	if !s.limiter.Allow(sess.Caller.Key()) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}
	if !s.turnSemaphore.TryAcquire(1) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "too many conversations in flight, try again shortly")
	}
	defer s.turnSemaphore.Release(1)

	threadID, err := s.Sessions.ResolveThread(ctx, sess, req.ThreadID)
	if err != nil {
		return turnHTTPError(err)
	}

	result, err := s.Controller.AdvanceTurn(ctx, threadID, req.Message, sess.Caller)
	if err != nil {
		return turnHTTPError(err)
	}

	followUps := s.syncTurn(ctx, sess, req.Message, result)
	s.pinCookies(c, sess)
	return c.JSON(http.StatusOK, &ChatResponse{
		ThreadID:  sess.ThreadID,
		Message:   s.renderMessage(result.Reply),
		FollowUps: followUps,
	})
}

// ChatStream executes one turn over server-sent events: text deltas as
// they arrive, then the completed message, follow-ups and a done marker.
func (s *APIV1Service) ChatStream(c echo.Context) error {
	ctx := c.Request().Context()

	req := &ChatRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request")
	}

	sess, err := s.sessionFor(c)
	if err != nil {
		return err
	}
	if !s.limiter.Allow(sess.Caller.Key()) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}
	if !s.turnSemaphore.TryAcquire(1) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "too many conversations in flight, try again shortly")
	}
	defer s.turnSemaphore.Release(1)

	threadID, err := s.Sessions.ResolveThread(ctx, sess, req.ThreadID)
	if err != nil {
		return turnHTTPError(err)
	}

	// Cookies must go out before the stream starts.
	s.pinCookies(c, sess)
	response := c.Response()
	response.Header().Set(echo.HeaderContentType, "text/event-stream")
	response.Header().Set("Cache-Control", "no-cache")
	response.Header().Set("Connection", "keep-alive")
	response.WriteHeader(http.StatusOK)

	callbacks := runner.StreamCallbacks{
		OnDelta: func(text string) {
			writeSSE(response, "delta", map[string]string{"text": text})
		},
		OnMessage: func(msg assistant.ChatMessage) {
			writeSSE(response, "message", s.renderMessage(msg))
		},
	}

	result, err := s.Controller.AdvanceTurnStream(ctx, threadID, req.Message, sess.Caller, callbacks)
	if err != nil {
		// The transcript stays in its last consistent state; the UI
		// gets a single generic notice.
		slog.Error("api: streamed turn failed",
			"session_id", sess.ID,
			"thread_id", threadID,
			"error", err,
		)
		writeSSE(response, "error", map[string]string{"message": userFacingMessage(err)})
		return nil
	}

	followUps := s.syncTurn(ctx, sess, req.Message, result)
	if len(followUps) > 0 {
		writeSSE(response, "followups", followUps)
	}
	writeSSE(response, "done", map[string]string{"thread_id": sess.ThreadID})
	return nil
}

// syncTurn folds a completed turn into the session and reports it to the
// backend. The backend sync is best-effort: it may adopt a new thread id
// and produce follow-up recommendations, but its failure never fails a
// turn that already completed.
func (s *APIV1Service) syncTurn(ctx context.Context, sess *session.Session, question string, result *runner.TurnResult) []string {
	s.Sessions.AdoptThread(ctx, sess, result.ThreadID)

	var sync *backend.ChatResponse
	resp, err := s.Backend.Chat(ctx, sess.Caller, backend.ChatRequest{
		Question: question,
		ThreadID: result.ThreadID,
	})
	if err != nil {
		slog.Warn("api: backend turn sync failed",
			"session_id", sess.ID,
			"thread_id", result.ThreadID,
			"error", err,
		)
	} else {
		sync = resp
	}

	userMsg := assistant.ChatMessage{
		Role:      assistant.RoleUser,
		Content:   question,
		CreatedAt: time.Now(),
	}
	s.Sessions.RecordTurn(ctx, sess, userMsg, result.Reply, sync)

	followUps := s.Sessions.ConsumeFollowUps(ctx, sess)
	texts := make([]string, 0, len(followUps))
	for _, f := range followUps {
		texts = append(texts, f.Text)
	}
	return texts
}

func (s *APIV1Service) renderMessage(msg assistant.ChatMessage) ChatMessagePayload {
	payload := ChatMessagePayload{
		Role:      string(msg.Role),
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	if msg.Role == assistant.RoleAssistant {
		html, err := s.Markdown.Render(msg.Content)
		if err != nil {
			slog.Warn("api: markdown render failed", "error", err)
		} else {
			payload.HTML = html
		}
	}
	return payload
}

// sessionFor restores (or mints) the caller's session and reconciles the
// request identity with it.
func (s *APIV1Service) sessionFor(c echo.Context) (*session.Session, error) {
	ctx := c.Request().Context()
	caller := auth.CallerFrom(c)

	var sess *session.Session
	if cookie, err := c.Cookie(auth.SessionCookieName); err == nil {
		sess = s.Sessions.Load(ctx, cookie.Value)
	}
	if sess == nil {
		return s.Sessions.NewSession(caller), nil
	}

	// A guest request without a guest cookie keeps the persisted id.
	if !caller.Authenticated() && caller.GuestID == "" {
		caller.GuestID = sess.Caller.GuestID
	}
	s.Sessions.SwitchCaller(ctx, sess, caller)
	return sess, nil
}

func (s *APIV1Service) pinCookies(c echo.Context, sess *session.Session) {
	secure := !s.Profile.IsDev()
	auth.SetSessionCookie(c, sess.ID, secure)
	if !sess.Caller.Authenticated() {
		auth.SetGuestCookie(c, sess.Caller.GuestID, secure)
	}
}

// turnHTTPError maps engine errors onto HTTP. Local rejections carry an
// actionable message; everything else is a generic failure with the
// detail logged, never leaked.
func turnHTTPError(err error) error {
	switch {
	case errors.Is(err, assistant.ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, assistant.ErrEmptyMessage.Error())
	case errors.Is(err, assistant.ErrInvalidThreadID):
		return echo.NewHTTPError(http.StatusBadRequest, "that conversation id is not valid")
	case errors.Is(err, assistant.ErrActiveRunConflict):
		return echo.NewHTTPError(http.StatusConflict, "a reply is still being generated, start a new chat to continue")
	default:
		slog.Error("api: turn failed", "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, userFacingMessage(err))
	}
}

func userFacingMessage(err error) string {
	var runFailed *assistant.RunFailedError
	if errors.As(err, &runFailed) {
		return "the assistant could not finish this reply, please try again"
	}
	return "the assistant is unavailable right now, please try again"
}

func writeSSE(response *echo.Response, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("api: marshal sse payload", "event", event, "error", err)
		return
	}
	fmt.Fprintf(response, "event: %s\ndata: %s\n\n", event, data)
	response.Flush()
}
