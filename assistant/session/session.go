// Package session reconciles conversation identity across requests: it
// owns the per-browser-session state (active thread id, transcript
// mirror, pending follow-ups, caller identity) and the transitions over
// it: thread adoption, historical resume, and start-new-conversation.
package session

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/platewise/platewise/assistant"
	"github.com/platewise/platewise/assistant/platform"
	"github.com/platewise/platewise/backend"
)

// Session is the explicit per-session state passed into every core call.
// It is initialized at session start and cleared by StartNewConversation
// or logout; nothing here lives in ambient globals.
type Session struct {
	// ID identifies the browser session (cookie value).
	ID string
	// Caller is the active identity: guest or authenticated, never both.
	Caller assistant.Caller
	// ThreadID is the active platform thread, empty before the first turn.
	ThreadID string
	// Transcript is the local mirror of the thread, append-only and
	// ordered by CreatedAt.
	Transcript []assistant.ChatMessage
	// FollowUps are pending recommendations, cleared once consumed.
	FollowUps []assistant.FollowUpRecommendation
}

// Backend is the slice of the backend client the manager needs.
type Backend interface {
	ResetConversation(ctx context.Context, caller assistant.Caller) (string, error)
}

// Store persists session state across process restarts. Persistence is
// best-effort: a store failure never fails the conversational turn.
type Store interface {
	SaveSession(ctx context.Context, sess *Session) error
	LoadSession(ctx context.Context, id string) (*Session, error)
}

// Manager applies continuity transitions to sessions.
type Manager struct {
	backend  Backend
	platform platform.Client
	store    Store
}

// NewManager creates a Manager. store may be nil for purely in-memory
// sessions.
func NewManager(b Backend, p platform.Client, s Store) *Manager {
	return &Manager{backend: b, platform: p, store: s}
}

// NewSession mints a fresh session for the caller. Guests with no id yet
// get an opaque one.
func (m *Manager) NewSession(caller assistant.Caller) *Session {
	if !caller.Authenticated() && caller.GuestID == "" {
		caller.GuestID = shortuuid.New()
	}
	return &Session{
		ID:     uuid.NewString(),
		Caller: caller,
	}
}

// Load restores a session from the store, or returns nil when unknown.
func (m *Manager) Load(ctx context.Context, id string) *Session {
	if m.store == nil || id == "" {
		return nil
	}
	sess, err := m.store.LoadSession(ctx, id)
	if err != nil {
		slog.Warn("session: load failed", "session_id", id, "error", err)
		return nil
	}
	return sess
}

// ResolveThread validates and activates the requested thread.
//
// An empty request keeps the current thread. A malformed id is rejected
// with ErrInvalidThreadID before any network call. Resuming a historical
// thread replaces the transcript mirror wholesale with the fetched,
// timestamp-sorted history.
func (m *Manager) ResolveThread(ctx context.Context, sess *Session, requestedID string) (string, error) {
	if requestedID == "" {
		return sess.ThreadID, nil
	}
	if !assistant.ValidThreadID(requestedID) {
		return "", assistant.ErrInvalidThreadID
	}
	if requestedID == sess.ThreadID {
		return sess.ThreadID, nil
	}

	messages, err := m.platform.ListMessages(ctx, requestedID)
	if err != nil {
		return "", err
	}
	transcript := make([]assistant.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		transcript = append(transcript, assistant.ChatMessage{
			Role:      assistant.Role(msg.Role),
			Content:   msg.Content,
			CreatedAt: msg.CreatedAt,
		})
	}
	sort.SliceStable(transcript, func(i, j int) bool {
		return transcript[i].CreatedAt.Before(transcript[j].CreatedAt)
	})

	sess.ThreadID = requestedID
	sess.Transcript = transcript
	sess.FollowUps = nil
	m.persist(ctx, sess)

	slog.Info("session: thread resumed",
		"session_id", sess.ID,
		"thread_id", requestedID,
		"messages", len(transcript),
	)
	return sess.ThreadID, nil
}

// AdoptThread replaces the locally held thread id. The old thread is
// abandoned, not deleted; any run still in flight on it is left to the
// platform's retention policy.
func (m *Manager) AdoptThread(ctx context.Context, sess *Session, newThreadID string) {
	if newThreadID == "" || newThreadID == sess.ThreadID {
		return
	}
	if sess.ThreadID != "" {
		slog.Info("session: thread replaced",
			"session_id", sess.ID,
			"old_thread_id", sess.ThreadID,
			"new_thread_id", newThreadID,
		)
	}
	sess.ThreadID = newThreadID
	m.persist(ctx, sess)
}

// RecordTurn folds one completed turn into the session: the user and
// assistant messages are appended to the mirror, a backend-issued
// new_thread_id is adopted, and follow-up recommendations are replaced.
func (m *Manager) RecordTurn(ctx context.Context, sess *Session, userMsg, reply assistant.ChatMessage, sync *backend.ChatResponse) {
	sess.Transcript = append(sess.Transcript, userMsg, reply)
	if sync != nil {
		m.AdoptThread(ctx, sess, sync.NewThreadID)
		sess.FollowUps = ExtractFollowUps(sync)
	}
	m.persist(ctx, sess)
}

// StartNewConversation resets the conversation for the caller.
//
// The caller-appropriate backend reset endpoint is invoked, the local
// thread id, transcript mirror and pending follow-ups are cleared, and a
// backend-rotated guest id is adopted. The call is idempotent; resetting
// an already-empty session succeeds. A remote run still in flight is NOT
// cancelled here.
func (m *Manager) StartNewConversation(ctx context.Context, sess *Session) error {
	rotatedGuestID, err := m.backend.ResetConversation(ctx, sess.Caller)
	if err != nil {
		return err
	}

	if sess.ThreadID != "" {
		slog.Info("session: conversation reset, thread abandoned",
			"session_id", sess.ID,
			"thread_id", sess.ThreadID,
		)
	}
	sess.ThreadID = ""
	sess.Transcript = nil
	sess.FollowUps = nil
	if !sess.Caller.Authenticated() && rotatedGuestID != "" {
		sess.Caller.GuestID = rotatedGuestID
	}
	m.persist(ctx, sess)
	return nil
}

// SwitchCaller installs a new identity on the session. Moving between
// identity classes (guest to authenticated or back) drops the thread and
// transcript: history is not carried over.
//
// A persisted session carries no access token, so an authenticated
// identity is recognized by user id; the fresh token from the request is
// installed on every match.
func (m *Manager) SwitchCaller(ctx context.Context, sess *Session, caller assistant.Caller) {
	if sameIdentity(sess.Caller, caller) {
		sess.Caller = caller
		return
	}
	sess.Caller = caller
	if !caller.Authenticated() && caller.GuestID == "" {
		sess.Caller.GuestID = shortuuid.New()
	}
	sess.ThreadID = ""
	sess.Transcript = nil
	sess.FollowUps = nil
	m.persist(ctx, sess)
}

// sameIdentity reports whether two callers are the same principal. User
// ids are compared directly; access tokens are ignored because stored
// sessions never hold one.
func sameIdentity(current, next assistant.Caller) bool {
	if current.UserID != 0 || next.UserID != 0 {
		return current.UserID == next.UserID
	}
	return current.GuestID == next.GuestID
}

// ConsumeFollowUps returns pending recommendations and clears them; they
// are a one-shot UI affordance.
func (m *Manager) ConsumeFollowUps(ctx context.Context, sess *Session) []assistant.FollowUpRecommendation {
	followUps := sess.FollowUps
	sess.FollowUps = nil
	if len(followUps) > 0 {
		m.persist(ctx, sess)
	}
	return followUps
}

func (m *Manager) persist(ctx context.Context, sess *Session) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveSession(ctx, sess); err != nil {
		slog.Warn("session: persist failed", "session_id", sess.ID, "error", err)
	}
}
