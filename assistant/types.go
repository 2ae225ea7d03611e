// Package assistant defines the shared data model of the conversation
// orchestration engine: caller identities, transcript messages, and the
// error taxonomy surfaced by the run controller and session manager.
package assistant

import (
	"strconv"
	"time"
)

// Role identifies the author of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry of the transcript mirror. The transcript is
// append-only and ordered by CreatedAt; the engine never rewrites past
// messages.
type ChatMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// FollowUpRecommendation is an ephemeral suggestion produced alongside an
// assistant turn. It is cleared once rendered or acted upon.
type FollowUpRecommendation struct {
	Text string `json:"text"`
}

// Caller is the identity a turn executes under. Exactly one of the two
// identity classes is active: a guest (GuestID set) or an authenticated
// user (UserID and AccessToken set). The assistant is never trusted to
// supply caller identity; it is injected by the dispatcher.
type Caller struct {
	// GuestID is an opaque session id for unauthenticated callers.
	GuestID string
	// UserID identifies an authenticated dashboard user.
	UserID int64
	// AccessToken is the bearer token from login, forwarded to
	// authenticated backend endpoints.
	AccessToken string
}

// Authenticated reports whether the caller holds a logged-in identity.
func (c Caller) Authenticated() bool {
	return c.UserID != 0 && c.AccessToken != ""
}

// Key returns a stable identifier for rate limiting and run-conflict
// tracking. Authenticated and guest keys never collide.
func (c Caller) Key() string {
	if c.Authenticated() {
		return "user:" + strconv.FormatInt(c.UserID, 10)
	}
	return "guest:" + c.GuestID
}
