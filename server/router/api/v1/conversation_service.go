package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/platewise/platewise/assistant"
)

// ConversationPayload is the session view handed to the dashboard.
type ConversationPayload struct {
	ThreadID   string               `json:"thread_id"`
	Transcript []ChatMessagePayload `json:"transcript"`
	FollowUps  []string             `json:"follow_ups,omitempty"`
}

// NewConversation resets the caller's conversation. Calling it on an
// already-empty session succeeds and returns the same empty state.
func (s *APIV1Service) NewConversation(c echo.Context) error {
	ctx := c.Request().Context()

	sess, err := s.sessionFor(c)
	if err != nil {
		return err
	}
	if err := s.Sessions.StartNewConversation(ctx, sess); err != nil {
		slog.Error("api: conversation reset failed",
			"session_id", sess.ID,
			"error", err,
		)
		return echo.NewHTTPError(http.StatusBadGateway, "could not start a new chat, please try again")
	}
	s.pinCookies(c, sess)
	return c.JSON(http.StatusOK, &ConversationPayload{
		ThreadID:   "",
		Transcript: []ChatMessagePayload{},
	})
}

// CurrentConversation returns the transcript mirror and drains pending
// follow-up recommendations.
func (s *APIV1Service) CurrentConversation(c echo.Context) error {
	ctx := c.Request().Context()

	sess, err := s.sessionFor(c)
	if err != nil {
		return err
	}
	followUps := s.Sessions.ConsumeFollowUps(ctx, sess)
	texts := make([]string, 0, len(followUps))
	for _, f := range followUps {
		texts = append(texts, f.Text)
	}

	s.pinCookies(c, sess)
	return c.JSON(http.StatusOK, &ConversationPayload{
		ThreadID:   sess.ThreadID,
		Transcript: s.renderTranscript(sess.Transcript),
		FollowUps:  texts,
	})
}

// ResolveThreadRequest selects a historical thread to resume.
type ResolveThreadRequest struct {
	ThreadID string `json:"thread_id"`
}

// ResolveThread activates a historical thread; the transcript mirror is
// replaced wholesale with the fetched history.
func (s *APIV1Service) ResolveThread(c echo.Context) error {
	ctx := c.Request().Context()

	req := &ResolveThreadRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request")
	}

	sess, err := s.sessionFor(c)
	if err != nil {
		return err
	}
	if _, err := s.Sessions.ResolveThread(ctx, sess, req.ThreadID); err != nil {
		return turnHTTPError(err)
	}

	s.pinCookies(c, sess)
	return c.JSON(http.StatusOK, &ConversationPayload{
		ThreadID:   sess.ThreadID,
		Transcript: s.renderTranscript(sess.Transcript),
	})
}

func (s *APIV1Service) renderTranscript(transcript []assistant.ChatMessage) []ChatMessagePayload {
	payloads := make([]ChatMessagePayload, 0, len(transcript))
	for _, msg := range transcript {
		payloads = append(payloads, s.renderMessage(msg))
	}
	return payloads
}
