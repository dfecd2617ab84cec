// Package store defines the persistence contracts of the live-session
// engine. Saves of concurrently-mutated entities take the version the
// caller loaded; a mismatch returns ErrVersionConflict and the engine
// retries the whole read-modify-write.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/coursedeck/backend/internal/models"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrVersionConflict is returned when a Save's expected version does
	// not match the stored one (concurrent writer won).
	ErrVersionConflict = errors.New("store: version conflict")
	// ErrDuplicate is returned when a uniqueness constraint is violated
	// (e.g. a second vote by the same user on the same poll).
	ErrDuplicate = errors.New("store: duplicate")
)

// SessionStore persists session aggregates.
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id uuid.UUID) (*models.Session, error)
	// Save persists s if its stored version equals expectedVersion, then
	// bumps the version.
	Save(ctx context.Context, s *models.Session, expectedVersion int64) error
	List(ctx context.Context, hostID *uuid.UUID) ([]*models.Session, error)
	// ListDueReminders returns scheduled sessions with reminders_sent=false
	// starting within the lookahead window from now.
	ListDueReminders(ctx context.Context, now time.Time, lookahead time.Duration) ([]*models.Session, error)
	// MarkRemindersSent flips reminders_sent false→true. It reports whether
	// this call performed the flip; only the winner sends notifications.
	MarkRemindersSent(ctx context.Context, id uuid.UUID) (bool, error)
}

// ParticipantStore persists per-session participant records.
type ParticipantStore interface {
	Create(ctx context.Context, p *models.Participant) error
	Get(ctx context.Context, sessionID, userID uuid.UUID) (*models.Participant, error)
	Save(ctx context.Context, p *models.Participant, expectedVersion int64) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Participant, error)
	// ListJoined returns participants currently in status joined.
	ListJoined(ctx context.Context, sessionID uuid.UUID) ([]*models.Participant, error)
	CountJoined(ctx context.Context, sessionID uuid.UUID) (int, error)
}

// PollStore persists polls.
type PollStore interface {
	Create(ctx context.Context, p *models.Poll) error
	Get(ctx context.Context, id uuid.UUID) (*models.Poll, error)
	Save(ctx context.Context, p *models.Poll, expectedVersion int64) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Poll, error)
	// ListActiveBySession returns polls not yet ended.
	ListActiveBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Poll, error)
}

// PollVoteStore persists poll votes with a (poll, user) uniqueness
// constraint; Create returns ErrDuplicate when the pair already voted.
type PollVoteStore interface {
	Create(ctx context.Context, v *models.PollVote) error
	// Delete removes the (poll, user) vote if present, so a failed tally
	// update can roll back its insert. Deleting a missing vote is not an
	// error.
	Delete(ctx context.Context, pollID, userID uuid.UUID) error
	ExistsForUser(ctx context.Context, pollID, userID uuid.UUID) (bool, error)
	ListByPoll(ctx context.Context, pollID uuid.UUID) ([]*models.PollVote, error)
}

// QuestionStore persists Q&A questions. ListBySession returns the host
// triage ordering: pinned desc, upvotes desc, askedAt asc.
type QuestionStore interface {
	Create(ctx context.Context, q *models.Question) error
	Get(ctx context.Context, id uuid.UUID) (*models.Question, error)
	Save(ctx context.Context, q *models.Question, expectedVersion int64) error
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Question, error)
}

// RecordingStore persists session recordings (attach-once, 1:1).
type RecordingStore interface {
	Create(ctx context.Context, r *models.Recording) error
	Get(ctx context.Context, id uuid.UUID) (*models.Recording, error)
	GetBySession(ctx context.Context, sessionID uuid.UUID) (*models.Recording, error)
	IncrementViews(ctx context.Context, id uuid.UUID) error
}

// Stores bundles every store contract for service wiring.
type Stores struct {
	Sessions     SessionStore
	Participants ParticipantStore
	Polls        PollStore
	PollVotes    PollVoteStore
	Questions    QuestionStore
	Recordings   RecordingStore
}
