package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursedeck/backend/internal/domain"
	"github.com/coursedeck/backend/internal/events"
	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/internal/store"
)

// Join records a user entering the session. It creates or reopens the
// participant record, bumps the session's participant counters, and keeps
// peak concurrency monotonic. A join by the host or a co-host starts a
// scheduled session.
func (s *Service) Join(ctx context.Context, sessionID, userID uuid.UUID) (*models.Participant, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	now := s.now()
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
	if sess.Settings.RequireRegistration && !sess.IsRegistered(userID) && !sess.IsHostOrCoHost(userID) {
		return nil, domain.E(domain.KindForbidden, "registration is required to join this session")
	}

	p, err := s.stores.Participants.Get(ctx, sessionID, userID)
	if errors.Is(err, store.ErrNotFound) {
		p = &models.Participant{
			ID:        uuid.New(),
			SessionID: sessionID,
			UserID:    userID,
			Role:      participantRole(sess, userID),
			Status:    models.ParticipantRegistered,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.stores.Participants.Create(ctx, p); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	if p.Status == models.ParticipantJoined {
		// Already in the session; a repeated join is a no-op.
		return p, nil
	}

	p, err = s.saveParticipantRetry(ctx, sessionID, userID, func(p *models.Participant) error {
		joined := now
		p.Status = models.ParticipantJoined
		p.JoinedAt = &joined
		p.LeftAt = nil
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	current, err := s.stores.Participants.CountJoined(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	started := false
	sess, err = s.mutateLocked(ctx, sessionID, func(sess *models.Session) error {
		started = false
		sess.TotalParticipants++
		sess.CurrentParticipants = current
		if current > sess.PeakParticipants {
			sess.PeakParticipants = current
		}
		if sess.Status == models.SessionScheduled && sess.IsHostOrCoHost(userID) {
			start := now
			sess.Status = models.SessionLive
			sess.ActualStartTime = &start
			started = true
		}
		sess.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if started {
		s.broadcaster.Publish(sessionID, events.SessionStarted, map[string]interface{}{
			"session_id": sessionID.String(),
			"started_at": sess.ActualStartTime,
		})
	}
	s.broadcaster.Publish(sessionID, events.ParticipantJoined, map[string]interface{}{
		"session_id":           sessionID.String(),
		"user_id":              userID.String(),
		"role":                 string(p.Role),
		"current_participants": current,
	})
	s.logger.Debug("participant joined",
		zap.String("session_id", sessionID.String()),
		zap.String("user_id", userID.String()),
		zap.Int("current", current))
	return p, nil
}

// Leave records a user exiting the session, accumulating the open interval
// into their duration and watch time. Leaving while not joined is a no-op.
func (s *Service) Leave(ctx context.Context, sessionID, userID uuid.UUID) error {
	unlock := s.locks.Lock(sessionID)
	defer unlock()
	return s.leaveLocked(ctx, sessionID, userID, s.now())
}

func (s *Service) leaveLocked(ctx context.Context, sessionID, userID uuid.UUID, now time.Time) error {
	p, err := s.stores.Participants.Get(ctx, sessionID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if p.Status != models.ParticipantJoined {
		return nil
	}

	p, err = s.saveParticipantRetry(ctx, sessionID, userID, func(p *models.Participant) error {
		if p.Status != models.ParticipantJoined {
			return nil
		}
		closeInterval(p, now)
		return nil
	})
	if err != nil {
		return err
	}

	current, err := s.stores.Participants.CountJoined(ctx, sessionID)
	if err != nil {
		return err
	}
	if _, err := s.mutateLocked(ctx, sessionID, func(sess *models.Session) error {
		sess.CurrentParticipants = current
		sess.TotalViews++
		sess.UpdatedAt = now
		return nil
	}); err != nil {
		return err
	}

	s.broadcaster.Publish(sessionID, events.ParticipantLeft, map[string]interface{}{
		"session_id":           sessionID.String(),
		"user_id":              userID.String(),
		"current_participants": current,
	})
	return nil
}

// closeInterval folds the open joined interval into the cumulative totals.
// Durations sum across intervals, never overwrite.
func closeInterval(p *models.Participant, now time.Time) {
	if p.JoinedAt != nil {
		delta := int64(now.Sub(*p.JoinedAt).Seconds())
		if delta < 0 {
			delta = 0
		}
		p.DurationSeconds += delta
		p.WatchTimeSeconds += delta
	}
	left := now
	p.Status = models.ParticipantLeft
	p.LeftAt = &left
	p.UpdatedAt = now
}

// CurrentParticipants returns the number of participants currently joined,
// computed under the session lock so it is consistent with concurrent
// join/leave traffic.
func (s *Service) CurrentParticipants(ctx context.Context, sessionID uuid.UUID) (int, error) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()
	return s.stores.Participants.CountJoined(ctx, sessionID)
}

// Participants lists the ledger for a session.
func (s *Service) Participants(ctx context.Context, sessionID uuid.UUID) ([]*models.Participant, error) {
	return s.stores.Participants.ListBySession(ctx, sessionID)
}

func participantRole(sess *models.Session, userID uuid.UUID) models.ParticipantRole {
	switch {
	case sess.HostID == userID:
		return models.RoleHost
	case sess.IsHostOrCoHost(userID):
		return models.RoleCoHost
	default:
		return models.RoleParticipant
	}
}
