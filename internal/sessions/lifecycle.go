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
	"github.com/coursedeck/backend/internal/notify"
	"github.com/coursedeck/backend/internal/store"
)

// StartIfNeeded transitions a scheduled session to live when called by the
// host or a co-host. Calling it while already live is a no-op, not an
// error. Join invokes this implicitly; the explicit entry point exists for
// hosts that want the room open before they connect.
func (s *Service) StartIfNeeded(ctx context.Context, sessionID, actorID uuid.UUID) (*models.Session, error) {
	started := false
	sess, err := s.mutate(ctx, sessionID, func(sess *models.Session) error {
		started = false
		if sess.Status == models.SessionLive {
			return nil
		}
		if sess.Status.Terminal() {
			return domain.E(domain.KindAlreadyEnded, "session is already %s", sess.Status)
		}
		if !sess.IsHostOrCoHost(actorID) {
			return domain.E(domain.KindForbidden, "only the host or a co-host may start the session")
		}
		start := s.now()
		sess.Status = models.SessionLive
		sess.ActualStartTime = &start
		sess.UpdatedAt = start
		started = true
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
	return sess, nil
}

// EndSession ends a live (or still scheduled) session: stamps the actual
// end, derives the duration in whole minutes, forces every joined
// participant to left so no duration interval stays open, and closes any
// polls still running. Host only.
func (s *Service) EndSession(ctx context.Context, sessionID, hostID uuid.UUID) (*models.Session, error) {
	// Runs after the deferred unlock; a terminal session takes no more
	// mutation, so its mutex can leave the registry.
	ended := false
	defer func() {
		if ended {
			s.locks.Forget(sessionID)
		}
	}()
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	now := s.now()
	var forcedOut []uuid.UUID
	sess, err := s.stores.Sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.E(domain.KindNotFound, "session %s not found", sessionID)
		}
		return nil, err
	}
	if !sess.IsHost(hostID) {
		return nil, domain.E(domain.KindForbidden, "only the host may end the session")
	}
	if sess.Status.Terminal() {
		return nil, domain.E(domain.KindAlreadyEnded, "session is already %s", sess.Status)
	}

	// Close all open participant intervals first so the ledger is settled
	// before the terminal state is visible.
	joined, err := s.stores.Participants.ListJoined(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, p := range joined {
		if _, err := s.saveParticipantRetry(ctx, sessionID, p.UserID, func(p *models.Participant) error {
			if p.Status != models.ParticipantJoined {
				return nil
			}
			closeInterval(p, now)
			return nil
		}); err != nil {
			return nil, err
		}
		forcedOut = append(forcedOut, p.UserID)
	}

	closedPolls, err := s.closeOpenPolls(ctx, sessionID, now)
	if err != nil {
		return nil, err
	}

	sess, err = s.mutateLocked(ctx, sessionID, func(sess *models.Session) error {
		end := now
		sess.Status = models.SessionEnded
		sess.ActualEndTime = &end
		if sess.ActualStartTime != nil {
			sess.DurationMinutes = int(end.Sub(*sess.ActualStartTime) / time.Minute)
		}
		sess.CurrentParticipants = 0
		sess.TotalViews += len(forcedOut)
		sess.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, pollID := range closedPolls {
		s.broadcaster.Publish(sessionID, events.PollClosed, map[string]interface{}{
			"poll_id":    pollID.String(),
			"session_id": sessionID.String(),
		})
	}
	s.broadcaster.Publish(sessionID, events.SessionEnded, map[string]interface{}{
		"session_id":       sessionID.String(),
		"ended_at":         sess.ActualEndTime,
		"duration_minutes": sess.DurationMinutes,
	})
	s.logger.Info("session ended",
		zap.String("session_id", sessionID.String()),
		zap.Int("duration_minutes", sess.DurationMinutes),
		zap.Int("participants_closed", len(forcedOut)))
	ended = true
	return sess, nil
}

// closeOpenPolls ends every still-active poll of the session. EndSession
// implicitly closes pollable activity; a vote arriving afterwards fails
// against the ended poll.
func (s *Service) closeOpenPolls(ctx context.Context, sessionID uuid.UUID, now time.Time) ([]uuid.UUID, error) {
	open, err := s.stores.Polls.ListActiveBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var closed []uuid.UUID
	for _, p := range open {
		end := now
		p.IsActive = false
		p.IsEnded = true
		p.EndedAt = &end
		if err := s.stores.Polls.Save(ctx, p, p.Version); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				continue // lost to a concurrent manual close; already ended
			}
			return nil, err
		}
		closed = append(closed, p.ID)
	}
	return closed, nil
}

// AttachRecording attaches the processed recording reference to an ended
// session. Callable once per session.
func (s *Service) AttachRecording(ctx context.Context, sessionID uuid.UUID, rec *models.Recording) error {
	attached := false
	defer func() {
		if attached {
			s.locks.Forget(sessionID)
		}
	}()
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	now := s.now()
	sess, err := s.stores.Sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.E(domain.KindNotFound, "session %s not found", sessionID)
		}
		return err
	}
	if sess.Status != models.SessionEnded {
		return domain.E(domain.KindInvalidState, "recordings can only be attached after the session ends")
	}
	if sess.RecordingID != nil {
		return domain.E(domain.KindAlreadyExists, "session already has a recording")
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.SessionID = sessionID
	if rec.Status == "" {
		rec.Status = models.RecordingStatusReady
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if err := s.stores.Recordings.Create(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.E(domain.KindAlreadyExists, "session already has a recording")
		}
		return err
	}

	if _, err := s.mutateLocked(ctx, sessionID, func(sess *models.Session) error {
		id := rec.ID
		sess.RecordingID = &id
		sess.UpdatedAt = now
		return nil
	}); err != nil {
		return err
	}

	if err := s.notifier.Notify(ctx, sess.HostID, notify.KindRecordingReady, map[string]interface{}{
		"session_id":   sessionID.String(),
		"title":        sess.Title,
		"recording_id": rec.ID.String(),
	}); err != nil {
		s.logger.Warn("recording notification failed", zap.Error(err), zap.String("session_id", sessionID.String()))
	}
	attached = true
	return nil
}
