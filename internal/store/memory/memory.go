// Package memory holds an in-memory implementation of the store contracts.
// It enforces the same version compare-and-swap and uniqueness semantics as
// the Postgres implementation and backs the engine test suites.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/internal/store"
)

type participantKey struct {
	sessionID uuid.UUID
	userID    uuid.UUID
}

type voteKey struct {
	pollID uuid.UUID
	userID uuid.UUID
}

// state is the shared backing storage; every sub-store locks it as a whole.
type state struct {
	mu           sync.Mutex
	sessions     map[uuid.UUID]*models.Session
	participants map[participantKey]*models.Participant
	polls        map[uuid.UUID]*models.Poll
	votes        map[voteKey]*models.PollVote
	questions    map[uuid.UUID]*models.Question
	recordings   map[uuid.UUID]*models.Recording
}

// New creates an empty in-memory store bundle.
func New() store.Stores {
	st := &state{
		sessions:     make(map[uuid.UUID]*models.Session),
		participants: make(map[participantKey]*models.Participant),
		polls:        make(map[uuid.UUID]*models.Poll),
		votes:        make(map[voteKey]*models.PollVote),
		questions:    make(map[uuid.UUID]*models.Question),
		recordings:   make(map[uuid.UUID]*models.Recording),
	}
	return store.Stores{
		Sessions:     &sessionStore{st},
		Participants: &participantStore{st},
		Polls:        &pollStore{st},
		PollVotes:    &pollVoteStore{st},
		Questions:    &questionStore{st},
		Recordings:   &recordingStore{st},
	}
}

func cloneSession(s *models.Session) *models.Session {
	c := *s
	c.CoHostIDs = append([]uuid.UUID(nil), s.CoHostIDs...)
	c.RegisteredUserIDs = append([]uuid.UUID(nil), s.RegisteredUserIDs...)
	c.ScheduledEndTime = cloneTime(s.ScheduledEndTime)
	c.ActualStartTime = cloneTime(s.ActualStartTime)
	c.ActualEndTime = cloneTime(s.ActualEndTime)
	c.RegistrationDeadline = cloneTime(s.RegistrationDeadline)
	c.RecordingID = cloneID(s.RecordingID)
	return &c
}

func cloneParticipant(p *models.Participant) *models.Participant {
	c := *p
	c.RegisteredAt = cloneTime(p.RegisteredAt)
	c.JoinedAt = cloneTime(p.JoinedAt)
	c.LeftAt = cloneTime(p.LeftAt)
	return &c
}

func clonePoll(p *models.Poll) *models.Poll {
	c := *p
	c.Options = append([]string(nil), p.Options...)
	c.Results = make(map[int]*models.PollOptionResult, len(p.Results))
	for i, r := range p.Results {
		cr := *r
		c.Results[i] = &cr
	}
	c.EndedAt = cloneTime(p.EndedAt)
	return &c
}

func cloneVote(v *models.PollVote) *models.PollVote {
	c := *v
	c.SelectedOptions = append([]int(nil), v.SelectedOptions...)
	return &c
}

func cloneQuestion(q *models.Question) *models.Question {
	c := *q
	c.UpvoterIDs = append([]uuid.UUID(nil), q.UpvoterIDs...)
	c.AnsweredBy = cloneID(q.AnsweredBy)
	c.AnsweredAt = cloneTime(q.AnsweredAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}

// --- sessions ---

type sessionStore struct{ *state }

func (s *sessionStore) Create(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return store.ErrDuplicate
	}
	sess.Version = 1
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *sessionStore) Get(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *sessionStore) Save(_ context.Context, sess *models.Session, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[sess.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	sess.Version = expectedVersion + 1
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *sessionStore) List(_ context.Context, hostID *uuid.UUID) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Session
	for _, sess := range s.sessions {
		if hostID != nil && sess.HostID != *hostID {
			continue
		}
		out = append(out, cloneSession(sess))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledStartTime.Before(out[j].ScheduledStartTime)
	})
	return out, nil
}

func (s *sessionStore) ListDueReminders(_ context.Context, now time.Time, lookahead time.Duration) ([]*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Session
	for _, sess := range s.sessions {
		if sess.Status != models.SessionScheduled || sess.RemindersSent {
			continue
		}
		if sess.ScheduledStartTime.After(now) && sess.ScheduledStartTime.Sub(now) <= lookahead {
			out = append(out, cloneSession(sess))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledStartTime.Before(out[j].ScheduledStartTime)
	})
	return out, nil
}

func (s *sessionStore) MarkRemindersSent(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if sess.RemindersSent {
		return false, nil
	}
	sess.RemindersSent = true
	sess.Version++
	return true, nil
}

// --- participants ---

type participantStore struct{ *state }

func (s *participantStore) Create(_ context.Context, p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := participantKey{p.SessionID, p.UserID}
	if _, ok := s.participants[k]; ok {
		return store.ErrDuplicate
	}
	p.Version = 1
	s.participants[k] = cloneParticipant(p)
	return nil
}

func (s *participantStore) Get(_ context.Context, sessionID, userID uuid.UUID) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[participantKey{sessionID, userID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneParticipant(p), nil
}

func (s *participantStore) Save(_ context.Context, p *models.Participant, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := participantKey{p.SessionID, p.UserID}
	cur, ok := s.participants[k]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	p.Version = expectedVersion + 1
	s.participants[k] = cloneParticipant(p)
	return nil
}

func (s *participantStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(sessionID, false), nil
}

func (s *participantStore) ListJoined(_ context.Context, sessionID uuid.UUID) ([]*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked(sessionID, true), nil
}

func (s *participantStore) CountJoined(_ context.Context, sessionID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listLocked(sessionID, true)), nil
}

func (s *state) listLocked(sessionID uuid.UUID, joinedOnly bool) []*models.Participant {
	var out []*models.Participant
	for _, p := range s.participants {
		if p.SessionID != sessionID {
			continue
		}
		if joinedOnly && p.Status != models.ParticipantJoined {
			continue
		}
		out = append(out, cloneParticipant(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// --- polls ---

type pollStore struct{ *state }

func (s *pollStore) Create(_ context.Context, p *models.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.polls[p.ID]; ok {
		return store.ErrDuplicate
	}
	p.Version = 1
	s.polls[p.ID] = clonePoll(p)
	return nil
}

func (s *pollStore) Get(_ context.Context, id uuid.UUID) (*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clonePoll(p), nil
}

func (s *pollStore) Save(_ context.Context, p *models.Poll, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.polls[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	p.Version = expectedVersion + 1
	s.polls[p.ID] = clonePoll(p)
	return nil
}

func (s *pollStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listPollsLocked(sessionID, false), nil
}

func (s *pollStore) ListActiveBySession(_ context.Context, sessionID uuid.UUID) ([]*models.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listPollsLocked(sessionID, true), nil
}

func (s *state) listPollsLocked(sessionID uuid.UUID, activeOnly bool) []*models.Poll {
	var out []*models.Poll
	for _, p := range s.polls {
		if p.SessionID != sessionID {
			continue
		}
		if activeOnly && p.IsEnded {
			continue
		}
		out = append(out, clonePoll(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// --- poll votes ---

type pollVoteStore struct{ *state }

func (s *pollVoteStore) Create(_ context.Context, v *models.PollVote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := voteKey{v.PollID, v.UserID}
	if _, ok := s.votes[k]; ok {
		return store.ErrDuplicate
	}
	s.votes[k] = cloneVote(v)
	return nil
}

func (s *pollVoteStore) Delete(_ context.Context, pollID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.votes, voteKey{pollID, userID})
	return nil
}

func (s *pollVoteStore) ExistsForUser(_ context.Context, pollID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.votes[voteKey{pollID, userID}]
	return ok, nil
}

func (s *pollVoteStore) ListByPoll(_ context.Context, pollID uuid.UUID) ([]*models.PollVote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PollVote
	for _, v := range s.votes {
		if v.PollID == pollID {
			out = append(out, cloneVote(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VotedAt.Before(out[j].VotedAt) })
	return out, nil
}

// --- questions ---

type questionStore struct{ *state }

func (s *questionStore) Create(_ context.Context, q *models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.questions[q.ID]; ok {
		return store.ErrDuplicate
	}
	q.Version = 1
	s.questions[q.ID] = cloneQuestion(q)
	return nil
}

func (s *questionStore) Get(_ context.Context, id uuid.UUID) (*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.questions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneQuestion(q), nil
}

func (s *questionStore) Save(_ context.Context, q *models.Question, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.questions[q.ID]
	if !ok {
		return store.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	q.Version = expectedVersion + 1
	s.questions[q.ID] = cloneQuestion(q)
	return nil
}

func (s *questionStore) ListBySession(_ context.Context, sessionID uuid.UUID) ([]*models.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Question
	for _, q := range s.questions {
		if q.SessionID == sessionID {
			out = append(out, cloneQuestion(q))
		}
	}
	// Host triage ordering: pinned first, then upvotes, then oldest.
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsPinned != b.IsPinned {
			return a.IsPinned
		}
		if a.UpvoteCount != b.UpvoteCount {
			return a.UpvoteCount > b.UpvoteCount
		}
		return a.AskedAt.Before(b.AskedAt)
	})
	return out, nil
}

// --- recordings ---

type recordingStore struct{ *state }

func (s *recordingStore) Create(_ context.Context, r *models.Recording) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.recordings {
		if existing.SessionID == r.SessionID {
			return store.ErrDuplicate
		}
	}
	c := *r
	s.recordings[r.ID] = &c
	return nil
}

func (s *recordingStore) Get(_ context.Context, id uuid.UUID) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recordings[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *recordingStore) GetBySession(_ context.Context, sessionID uuid.UUID) (*models.Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recordings {
		if r.SessionID == sessionID {
			c := *r
			return &c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *recordingStore) IncrementViews(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recordings[id]
	if !ok {
		return store.ErrNotFound
	}
	r.ViewCount++
	return nil
}
