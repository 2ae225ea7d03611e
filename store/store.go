// Package store persists session state (active thread id, transcript
// mirror, pending follow-ups) so dashboard sessions survive process
// restarts.
package store

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/platewise/platewise/assistant"
	"github.com/platewise/platewise/assistant/session"
)

// SessionRow is the persisted shape of one session.
type SessionRow struct {
	ID         string
	UserID     int64
	GuestID    string
	ThreadID   string
	Transcript string // JSON array of messages
	FollowUps  string // JSON array of strings
	UpdatedTs  int64
}

// Driver provides row-level access to the underlying database.
type Driver interface {
	Migrate(ctx context.Context) error
	UpsertSession(ctx context.Context, row *SessionRow) error
	GetSession(ctx context.Context, id string) (*SessionRow, error)
	DeleteSessionsBefore(ctx context.Context, updatedTs int64) (int64, error)
	Close() error
}

// Store converts between engine sessions and persisted rows.
type Store struct {
	driver Driver
	now    func() int64
}

// New creates a Store over the driver.
func New(driver Driver, now func() int64) *Store {
	return &Store{driver: driver, now: now}
}

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	return s.driver.Migrate(ctx)
}

func (s *Store) Close() error {
	return s.driver.Close()
}

// SaveSession implements session.Store.
func (s *Store) SaveSession(ctx context.Context, sess *session.Session) error {
	transcript, err := json.Marshal(sess.Transcript)
	if err != nil {
		return errors.Wrap(err, "marshal transcript")
	}
	texts := make([]string, 0, len(sess.FollowUps))
	for _, f := range sess.FollowUps {
		texts = append(texts, f.Text)
	}
	followUps, err := json.Marshal(texts)
	if err != nil {
		return errors.Wrap(err, "marshal follow-ups")
	}
	return s.driver.UpsertSession(ctx, &SessionRow{
		ID:         sess.ID,
		UserID:     sess.Caller.UserID,
		GuestID:    sess.Caller.GuestID,
		ThreadID:   sess.ThreadID,
		Transcript: string(transcript),
		FollowUps:  string(followUps),
		UpdatedTs:  s.now(),
	})
}

// LoadSession implements session.Store. Unknown ids return (nil, nil).
//
// The access token is deliberately not persisted; an authenticated
// session re-presents its bearer token on every request, and the session
// manager matches the stored identity by user id and installs the fresh
// token.
func (s *Store) LoadSession(ctx context.Context, id string) (*session.Session, error) {
	row, err := s.driver.GetSession(ctx, id)
	if err != nil || row == nil {
		return nil, err
	}

	var transcript []assistant.ChatMessage
	if row.Transcript != "" {
		if err := json.Unmarshal([]byte(row.Transcript), &transcript); err != nil {
			return nil, errors.Wrap(err, "unmarshal transcript")
		}
	}
	var texts []string
	if row.FollowUps != "" {
		if err := json.Unmarshal([]byte(row.FollowUps), &texts); err != nil {
			return nil, errors.Wrap(err, "unmarshal follow-ups")
		}
	}
	followUps := make([]assistant.FollowUpRecommendation, 0, len(texts))
	for _, text := range texts {
		followUps = append(followUps, assistant.FollowUpRecommendation{Text: text})
	}

	return &session.Session{
		ID: row.ID,
		Caller: assistant.Caller{
			UserID:  row.UserID,
			GuestID: row.GuestID,
		},
		ThreadID:   row.ThreadID,
		Transcript: transcript,
		FollowUps:  followUps,
	}, nil
}

// Vacuum removes sessions idle since before the cutoff.
func (s *Store) Vacuum(ctx context.Context, beforeTs int64) (int64, error) {
	return s.driver.DeleteSessionsBefore(ctx, beforeTs)
}
