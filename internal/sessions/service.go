// Package sessions owns the live-session lifecycle state machine and the
// participant ledger. All mutations of one session's aggregate run under
// that session's lock; saves use optimistic concurrency and benign version
// conflicts are retried internally.
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
	"github.com/coursedeck/backend/internal/sessionlock"
	"github.com/coursedeck/backend/internal/store"
)

// Service implements the session lifecycle manager and participant ledger.
type Service struct {
	stores      store.Stores
	locks       *sessionlock.Locks
	broadcaster events.Broadcaster
	notifier    notify.Notifier
	logger      *zap.Logger
	now         func() time.Time
}

// NewService creates a session service. broadcaster and notifier may be nil.
func NewService(stores store.Stores, locks *sessionlock.Locks, broadcaster events.Broadcaster, notifier notify.Notifier, logger *zap.Logger) *Service {
	if broadcaster == nil {
		broadcaster = events.Nop{}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		stores:      stores,
		locks:       locks,
		broadcaster: broadcaster,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock overrides the wall clock, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Locks exposes the per-session lock registry so the poll and Q&A engines
// serialize against the same boundary.
func (s *Service) Locks() *sessionlock.Locks { return s.locks }

// CreateInput is the host-provided spec for a new session.
type CreateInput struct {
	Title                string
	Description          string
	Type                 models.SessionType
	CoHostIDs            []uuid.UUID
	ScheduledStartTime   time.Time
	ScheduledEndTime     *time.Time
	Settings             *models.SessionSettings
	MaxParticipants      int
	RegistrationDeadline *time.Time
}

// CreateSession creates a session in scheduled state and seeds participant
// records for the host and each co-host.
func (s *Service) CreateSession(ctx context.Context, hostID uuid.UUID, in CreateInput) (*models.Session, error) {
	now := s.now()
	if in.Title == "" {
		return nil, domain.E(domain.KindInvalidSpec, "title is required")
	}
	if in.Type == "" {
		in.Type = models.SessionTypeCustom
	}
	if !models.ValidSessionType(in.Type) {
		return nil, domain.E(domain.KindInvalidSpec, "unknown session type %q", in.Type)
	}
	if !in.ScheduledStartTime.After(now) {
		return nil, domain.E(domain.KindInvalidSpec, "scheduled start time must be in the future")
	}
	if in.ScheduledEndTime != nil && !in.ScheduledEndTime.After(in.ScheduledStartTime) {
		return nil, domain.E(domain.KindInvalidSpec, "scheduled end time must be after the start time")
	}
	settings := models.DefaultSessionSettings()
	if in.Settings != nil {
		settings = *in.Settings
	}
	if settings.RequireRegistration && in.RegistrationDeadline != nil && in.RegistrationDeadline.After(in.ScheduledStartTime) {
		return nil, domain.E(domain.KindInvalidSpec, "registration deadline must not be after the scheduled start")
	}
	if in.MaxParticipants < 0 {
		return nil, domain.E(domain.KindInvalidSpec, "max participants must not be negative")
	}

	sess := &models.Session{
		ID:                   uuid.New(),
		HostID:               hostID,
		CoHostIDs:            append([]uuid.UUID(nil), in.CoHostIDs...),
		Title:                in.Title,
		Description:          in.Description,
		Type:                 in.Type,
		Status:               models.SessionScheduled,
		ScheduledStartTime:   in.ScheduledStartTime,
		ScheduledEndTime:     in.ScheduledEndTime,
		Settings:             settings,
		MaxParticipants:      in.MaxParticipants,
		RegistrationDeadline: in.RegistrationDeadline,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.stores.Sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	if err := s.seedParticipant(ctx, sess.ID, hostID, models.RoleHost, now); err != nil {
		return nil, err
	}
	for _, coHost := range in.CoHostIDs {
		if coHost == hostID {
			continue
		}
		if err := s.seedParticipant(ctx, sess.ID, coHost, models.RoleCoHost, now); err != nil {
			return nil, err
		}
	}

	s.logger.Info("session created",
		zap.String("session_id", sess.ID.String()),
		zap.String("host_id", hostID.String()),
		zap.String("type", string(sess.Type)))
	return sess, nil
}

func (s *Service) seedParticipant(ctx context.Context, sessionID, userID uuid.UUID, role models.ParticipantRole, now time.Time) error {
	p := &models.Participant{
		ID:           uuid.New(),
		SessionID:    sessionID,
		UserID:       userID,
		Role:         role,
		Status:       models.ParticipantRegistered,
		RegisteredAt: &now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := s.stores.Participants.Create(ctx, p)
	if errors.Is(err, store.ErrDuplicate) {
		return nil
	}
	return err
}

// UpdatePatch carries the fields a host may edit while scheduled.
type UpdatePatch struct {
	Title                *string
	Description          *string
	ScheduledStartTime   *time.Time
	ScheduledEndTime     *time.Time
	Settings             *models.SessionSettings
	MaxParticipants      *int
	RegistrationDeadline *time.Time
}

// UpdateSession edits the descriptive and scheduling fields of a session.
// Only the host may call it, and only while the session is still scheduled.
func (s *Service) UpdateSession(ctx context.Context, sessionID, actorID uuid.UUID, patch UpdatePatch) (*models.Session, error) {
	return s.mutate(ctx, sessionID, func(sess *models.Session) error {
		if !sess.IsHost(actorID) {
			return domain.E(domain.KindForbidden, "only the host may edit the session")
		}
		if sess.Status != models.SessionScheduled {
			return domain.E(domain.KindInvalidState, "cannot edit a session in state %q", sess.Status)
		}
		if patch.Title != nil {
			if *patch.Title == "" {
				return domain.E(domain.KindInvalidSpec, "title must not be empty")
			}
			sess.Title = *patch.Title
		}
		if patch.Description != nil {
			sess.Description = *patch.Description
		}
		if patch.ScheduledStartTime != nil {
			if !patch.ScheduledStartTime.After(s.now()) {
				return domain.E(domain.KindInvalidSpec, "scheduled start time must be in the future")
			}
			sess.ScheduledStartTime = *patch.ScheduledStartTime
		}
		if patch.ScheduledEndTime != nil {
			sess.ScheduledEndTime = patch.ScheduledEndTime
		}
		if patch.Settings != nil {
			sess.Settings = *patch.Settings
		}
		if patch.MaxParticipants != nil {
			if *patch.MaxParticipants < 0 {
				return domain.E(domain.KindInvalidSpec, "max participants must not be negative")
			}
			sess.MaxParticipants = *patch.MaxParticipants
		}
		if patch.RegistrationDeadline != nil {
			if sess.Settings.RequireRegistration && patch.RegistrationDeadline.After(sess.ScheduledStartTime) {
				return domain.E(domain.KindInvalidSpec, "registration deadline must not be after the scheduled start")
			}
			sess.RegistrationDeadline = patch.RegistrationDeadline
		}
		sess.UpdatedAt = s.now()
		return nil
	})
}

// Register adds a user to the session's registered set and seeds their
// participant record.
func (s *Service) Register(ctx context.Context, sessionID, userID uuid.UUID) (*models.Session, error) {
	now := s.now()
	sess, err := s.mutate(ctx, sessionID, func(sess *models.Session) error {
		if sess.Status.Terminal() {
			return domain.E(domain.KindClosed, "session is %s", sess.Status)
		}
		if sess.RegistrationDeadline != nil && now.After(*sess.RegistrationDeadline) {
			return domain.E(domain.KindDeadlinePassed, "registration closed at %s", sess.RegistrationDeadline.Format(time.RFC3339))
		}
		if sess.MaxParticipants > 0 && len(sess.RegisteredUserIDs) >= sess.MaxParticipants {
			return domain.E(domain.KindFull, "session is at capacity (%d)", sess.MaxParticipants)
		}
		if sess.IsRegistered(userID) {
			return domain.E(domain.KindAlreadyRegistered, "user is already registered")
		}
		sess.RegisteredUserIDs = append(sess.RegisteredUserIDs, userID)
		sess.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.seedParticipant(ctx, sessionID, userID, models.RoleParticipant, now); err != nil {
		return nil, err
	}
	if err := s.notifier.Notify(ctx, userID, notify.KindRegistrationConfirmed, map[string]interface{}{
		"session_id": sess.ID.String(),
		"title":      sess.Title,
		"starts_at":  sess.ScheduledStartTime,
	}); err != nil {
		s.logger.Warn("registration notification failed", zap.Error(err), zap.String("session_id", sess.ID.String()))
	}
	return sess, nil
}

// CancelSession cancels a session that has not yet started. Host only.
func (s *Service) CancelSession(ctx context.Context, sessionID, hostID uuid.UUID) (*models.Session, error) {
	sess, err := s.mutate(ctx, sessionID, func(sess *models.Session) error {
		if !sess.IsHost(hostID) {
			return domain.E(domain.KindForbidden, "only the host may cancel the session")
		}
		if sess.Status.Terminal() {
			return domain.E(domain.KindAlreadyEnded, "session is already %s", sess.Status)
		}
		if sess.Status != models.SessionScheduled {
			return domain.E(domain.KindInvalidState, "only a scheduled session can be cancelled")
		}
		sess.Status = models.SessionCancelled
		sess.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.locks.Forget(sessionID)
	s.broadcaster.Publish(sessionID, events.SessionEnded, map[string]interface{}{
		"session_id": sessionID.String(),
		"status":     string(models.SessionCancelled),
	})
	return sess, nil
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	sess, err := s.stores.Sessions.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.E(domain.KindNotFound, "session %s not found", sessionID)
	}
	return sess, err
}

// List returns sessions, optionally filtered by host.
func (s *Service) List(ctx context.Context, hostID *uuid.UUID) ([]*models.Session, error) {
	return s.stores.Sessions.List(ctx, hostID)
}
