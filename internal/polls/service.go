// Package polls implements in-session polls: creation, idempotent
// one-vote-per-user aggregation, live tallies, and timed auto-close.
package polls

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursedeck/backend/internal/domain"
	"github.com/coursedeck/backend/internal/events"
	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/internal/sessionlock"
	"github.com/coursedeck/backend/internal/store"
)

const (
	saveAttempts = 4
	baseBackoff  = 20 * time.Millisecond
)

// Service implements the poll engine. All mutations of a poll run under
// the owning session's lock.
type Service struct {
	stores      store.Stores
	locks       *sessionlock.Locks
	broadcaster events.Broadcaster
	logger      *zap.Logger
	now         func() time.Time

	timerMu sync.Mutex
	timers  map[uuid.UUID]*time.Timer
}

// NewService creates a poll service sharing the session lock registry with
// the lifecycle manager.
func NewService(stores store.Stores, locks *sessionlock.Locks, broadcaster events.Broadcaster, logger *zap.Logger) *Service {
	if broadcaster == nil {
		broadcaster = events.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		stores:      stores,
		locks:       locks,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
		timers:      make(map[uuid.UUID]*time.Timer),
	}
}

// SetClock overrides the wall clock, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CreateInput is the host-provided spec for a new poll.
type CreateInput struct {
	Question         string
	Options          []string
	IsMultipleChoice bool
	IsAnonymous      bool
	// DurationSeconds schedules an auto-close; 0 means the poll runs until
	// closed manually or the session ends.
	DurationSeconds int
}

// CreatePoll creates an active poll in the session. Host or co-host only.
func (s *Service) CreatePoll(ctx context.Context, sessionID, creatorID uuid.UUID, in CreateInput) (*models.Poll, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sess, err := s.stores.Sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.E(domain.KindNotFound, "session %s not found", sessionID)
		}
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, domain.E(domain.KindClosed, "session is %s", sess.Status)
	}
	if !sess.Settings.AllowPolls {
		return nil, domain.E(domain.KindFeatureDisabled, "polls are disabled for this session")
	}
	if !sess.IsHostOrCoHost(creatorID) {
		return nil, domain.E(domain.KindForbidden, "only the host or a co-host may create polls")
	}
	if in.Question == "" {
		return nil, domain.E(domain.KindInvalidOptions, "question is required")
	}
	if len(in.Options) < 2 {
		return nil, domain.E(domain.KindInvalidOptions, "a poll needs at least 2 options")
	}
	if in.DurationSeconds < 0 {
		return nil, domain.E(domain.KindInvalidOptions, "duration must not be negative")
	}

	now := s.now()
	poll := &models.Poll{
		ID:               uuid.New(),
		SessionID:        sessionID,
		CreatorID:        creatorID,
		Question:         in.Question,
		Options:          append([]string(nil), in.Options...),
		IsMultipleChoice: in.IsMultipleChoice,
		IsAnonymous:      in.IsAnonymous,
		Results:          make(map[int]*models.PollOptionResult, len(in.Options)),
		StartedAt:        now,
		DurationSeconds:  in.DurationSeconds,
		IsActive:         true,
		CreatedAt:        now,
	}
	for i, opt := range in.Options {
		poll.Results[i] = &models.PollOptionResult{Text: opt}
	}
	if err := s.stores.Polls.Create(ctx, poll); err != nil {
		return nil, err
	}

	if in.DurationSeconds > 0 {
		s.scheduleAutoClose(poll.ID, time.Duration(in.DurationSeconds)*time.Second)
	}

	s.broadcaster.Publish(sessionID, events.PollCreated, pollPayload(poll))
	s.logger.Info("poll created",
		zap.String("poll_id", poll.ID.String()),
		zap.String("session_id", sessionID.String()),
		zap.Int("options", len(poll.Options)))
	return poll, nil
}

// Vote records one user's vote. A second vote from the same user fails
// with AlreadyVoted even under concurrent submission, because the vote
// store enforces (poll, user) uniqueness.
func (s *Service) Vote(ctx context.Context, pollID, userID uuid.UUID, selected []int) (*models.Poll, error) {
	ref, err := s.getPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ref.SessionID)
	defer unlock()

	poll, err := s.getPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if poll.IsEnded {
		return nil, domain.E(domain.KindClosed, "poll has ended")
	}
	if err := validateSelection(poll, selected); err != nil {
		return nil, err
	}

	voted, err := s.stores.PollVotes.ExistsForUser(ctx, pollID, userID)
	if err != nil {
		return nil, err
	}
	if voted {
		return nil, domain.E(domain.KindAlreadyVoted, "user has already voted on this poll")
	}

	now := s.now()
	vote := &models.PollVote{
		ID:              uuid.New(),
		PollID:          pollID,
		SessionID:       poll.SessionID,
		UserID:          userID,
		SelectedOptions: append([]int(nil), selected...),
		VotedAt:         now,
	}
	if err := s.stores.PollVotes.Create(ctx, vote); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, domain.E(domain.KindAlreadyVoted, "user has already voted on this poll")
		}
		return nil, err
	}

	poll, err = s.savePollRetry(ctx, pollID, func(p *models.Poll) error {
		if p.IsEnded {
			return domain.E(domain.KindClosed, "poll has ended")
		}
		p.TotalVotes++
		for _, idx := range selected {
			p.Results[idx].Votes++
		}
		p.RecomputePercentages()
		return nil
	})
	if err != nil {
		// Roll back the vote row: a vote that exists without being counted
		// would block the user's retry forever while never reaching the
		// tally. Detached context so a cancelled request still rolls back.
		rbCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if delErr := s.stores.PollVotes.Delete(rbCtx, pollID, userID); delErr != nil {
			s.logger.Error("vote rollback failed",
				zap.Error(delErr),
				zap.String("poll_id", pollID.String()),
				zap.String("user_id", userID.String()))
		}
		return nil, err
	}

	s.bumpPollsAnswered(ctx, poll.SessionID, userID)
	s.broadcaster.Publish(poll.SessionID, events.PollUpdated, pollPayload(poll))
	return poll, nil
}

// ClosePoll ends a poll. Manual close requires the host or a co-host;
// closing an already-ended poll is a no-op so a late auto-close timer can
// never corrupt it.
func (s *Service) ClosePoll(ctx context.Context, pollID, actorID uuid.UUID) (*models.Poll, error) {
	ref, err := s.getPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ref.SessionID)
	defer unlock()

	sess, err := s.stores.Sessions.Get(ctx, ref.SessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsHostOrCoHost(actorID) {
		return nil, domain.E(domain.KindForbidden, "only the host or a co-host may close the poll")
	}
	return s.closeLocked(ctx, pollID)
}

func (s *Service) closeLocked(ctx context.Context, pollID uuid.UUID) (*models.Poll, error) {
	poll, err := s.getPoll(ctx, pollID)
	if err != nil {
		return nil, err
	}
	if poll.IsEnded {
		return poll, nil
	}
	now := s.now()
	poll, err = s.savePollRetry(ctx, pollID, func(p *models.Poll) error {
		if p.IsEnded {
			return nil
		}
		end := now
		p.IsActive = false
		p.IsEnded = true
		p.EndedAt = &end
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cancelTimer(pollID)
	s.broadcaster.Publish(poll.SessionID, events.PollClosed, map[string]interface{}{
		"poll_id":    poll.ID.String(),
		"session_id": poll.SessionID.String(),
		"results":    poll.Results,
	})
	return poll, nil
}

// Get returns a poll by id.
func (s *Service) Get(ctx context.Context, pollID uuid.UUID) (*models.Poll, error) {
	return s.getPoll(ctx, pollID)
}

// ListBySession returns all polls of a session in creation order.
func (s *Service) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Poll, error) {
	return s.stores.Polls.ListBySession(ctx, sessionID)
}

// Shutdown stops all pending auto-close timers.
func (s *Service) Shutdown() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

func (s *Service) getPoll(ctx context.Context, pollID uuid.UUID) (*models.Poll, error) {
	poll, err := s.stores.Polls.Get(ctx, pollID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.E(domain.KindNotFound, "poll %s not found", pollID)
	}
	return poll, err
}

func validateSelection(poll *models.Poll, selected []int) error {
	if len(selected) == 0 {
		return domain.E(domain.KindInvalidSelection, "at least one option must be selected")
	}
	if !poll.IsMultipleChoice && len(selected) > 1 {
		return domain.E(domain.KindInvalidSelection, "poll allows a single choice")
	}
	seen := make(map[int]struct{}, len(selected))
	for _, idx := range selected {
		if idx < 0 || idx >= len(poll.Options) {
			return domain.E(domain.KindInvalidSelection, "option index %d out of range", idx)
		}
		if _, dup := seen[idx]; dup {
			return domain.E(domain.KindInvalidSelection, "option index %d selected twice", idx)
		}
		seen[idx] = struct{}{}
	}
	return nil
}

func (s *Service) savePollRetry(ctx context.Context, pollID uuid.UUID, fn func(*models.Poll) error) (*models.Poll, error) {
	for attempt := 0; attempt < saveAttempts; attempt++ {
		poll, err := s.getPoll(ctx, pollID)
		if err != nil {
			return nil, err
		}
		if err := fn(poll); err != nil {
			return nil, err
		}
		err = s.stores.Polls.Save(ctx, poll, poll.Version)
		if err == nil {
			return poll, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		d := baseBackoff<<uint(attempt) + time.Duration(rand.Int63n(int64(baseBackoff)))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
	}
	return nil, domain.E(domain.KindContention, "poll %s is under heavy contention", pollID)
}

// bumpPollsAnswered increments the voter's ledger counter. Best effort: a
// missing participant row (e.g. public session, never joined) is not an
// error for the vote itself.
func (s *Service) bumpPollsAnswered(ctx context.Context, sessionID, userID uuid.UUID) {
	p, err := s.stores.Participants.Get(ctx, sessionID, userID)
	if err != nil {
		return
	}
	p.PollsAnswered++
	p.UpdatedAt = s.now()
	if err := s.stores.Participants.Save(ctx, p, p.Version); err != nil {
		s.logger.Debug("polls_answered bump failed", zap.Error(err), zap.String("user_id", userID.String()))
	}
}

// scheduleAutoClose arms the poll's close timer. The timer firing against
// an already-ended poll is a no-op, so a late fire under load is harmless.
func (s *Service) scheduleAutoClose(pollID uuid.UUID, d time.Duration) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	s.timers[pollID] = time.AfterFunc(d, func() {
		s.cancelTimer(pollID)
		ref, err := s.getPoll(context.Background(), pollID)
		if err != nil {
			return
		}
		unlock := s.locks.Lock(ref.SessionID)
		defer unlock()
		if _, err := s.closeLocked(context.Background(), pollID); err != nil {
			s.logger.Warn("poll auto-close failed", zap.Error(err), zap.String("poll_id", pollID.String()))
		}
	})
}

func (s *Service) cancelTimer(pollID uuid.UUID) {
	s.timerMu.Lock()
	if t, ok := s.timers[pollID]; ok {
		t.Stop()
		delete(s.timers, pollID)
	}
	s.timerMu.Unlock()
}

func pollPayload(p *models.Poll) map[string]interface{} {
	return map[string]interface{}{
		"poll_id":            p.ID.String(),
		"session_id":         p.SessionID.String(),
		"question":           p.Question,
		"options":            p.Options,
		"is_multiple_choice": p.IsMultipleChoice,
		"is_anonymous":       p.IsAnonymous,
		"results":            p.Results,
		"total_votes":        p.TotalVotes,
		"is_active":          p.IsActive,
		"is_ended":           p.IsEnded,
	}
}
