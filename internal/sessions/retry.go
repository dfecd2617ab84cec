package sessions

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursedeck/backend/internal/domain"
	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/internal/store"
)

const (
	// saveAttempts bounds optimistic-concurrency retries before the
	// operation surfaces as Contention.
	saveAttempts = 4
	baseBackoff  = 20 * time.Millisecond
)

// mutate runs a read-modify-write of one session under its lock. When the
// save loses an optimistic-concurrency race (another instance wrote the
// aggregate between load and save), the whole closure is re-applied to a
// fresh load with jittered backoff. Domain validation errors from fn are
// returned as-is and never retried.
func (s *Service) mutate(ctx context.Context, sessionID uuid.UUID, fn func(*models.Session) error) (*models.Session, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()
	return s.mutateLocked(ctx, sessionID, fn)
}

// mutateLocked is mutate without acquiring the session lock; callers must
// already hold it.
func (s *Service) mutateLocked(ctx context.Context, sessionID uuid.UUID, fn func(*models.Session) error) (*models.Session, error) {
	for attempt := 0; attempt < saveAttempts; attempt++ {
		sess, err := s.stores.Sessions.Get(ctx, sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, domain.E(domain.KindNotFound, "session %s not found", sessionID)
			}
			return nil, err
		}
		if err := fn(sess); err != nil {
			return nil, err
		}
		err = s.stores.Sessions.Save(ctx, sess, sess.Version)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		s.logger.Debug("session save conflict, retrying",
			zap.String("session_id", sessionID.String()),
			zap.Int("attempt", attempt+1))
		if err := sleepJitter(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, domain.E(domain.KindContention, "session %s is under heavy contention", sessionID)
}

// saveParticipantRetry persists a participant mutation with the same
// conflict-retry policy as session saves.
func (s *Service) saveParticipantRetry(ctx context.Context, sessionID, userID uuid.UUID, fn func(*models.Participant) error) (*models.Participant, error) {
	for attempt := 0; attempt < saveAttempts; attempt++ {
		p, err := s.stores.Participants.Get(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		if err := fn(p); err != nil {
			return nil, err
		}
		err = s.stores.Participants.Save(ctx, p, p.Version)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		if err := sleepJitter(ctx, attempt); err != nil {
			return nil, err
		}
	}
	return nil, domain.E(domain.KindContention, "participant record is under heavy contention")
}

func sleepJitter(ctx context.Context, attempt int) error {
	d := baseBackoff << uint(attempt)
	d += time.Duration(rand.Int63n(int64(baseBackoff)))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
