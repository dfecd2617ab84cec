// Package questions implements session Q&A: asking, upvote toggling,
// host answering, pinning, and dismissal.
package questions

import (
	"context"
	"errors"
	"math/rand"
	"strings"
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

const (
	maxQuestionLen = 2000

	saveAttempts = 4
	baseBackoff  = 20 * time.Millisecond
)

// Service implements the Q&A engine. Upvote toggles and moderation run
// under the owning session's lock.
type Service struct {
	stores      store.Stores
	locks       *sessionlock.Locks
	broadcaster events.Broadcaster
	notifier    notify.Notifier
	logger      *zap.Logger
	now         func() time.Time
}

// NewService creates a Q&A service.
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

// Ask submits a new audience question.
func (s *Service) Ask(ctx context.Context, sessionID, askerID uuid.UUID, text string) (*models.Question, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.E(domain.KindInvalidSpec, "question text is required")
	}
	if len(text) > maxQuestionLen {
		return nil, domain.E(domain.KindInvalidSpec, "question exceeds %d characters", maxQuestionLen)
	}

	unlock := s.locks.Lock(sessionID)
	defer unlock()

	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, domain.E(domain.KindClosed, "session is %s", sess.Status)
	}
	if !sess.Settings.AllowQuestions {
		return nil, domain.E(domain.KindFeatureDisabled, "questions are disabled for this session")
	}

	now := s.now()
	q := &models.Question{
		ID:        uuid.New(),
		SessionID: sessionID,
		AskerID:   askerID,
		Text:      text,
		Status:    models.QuestionPending,
		Priority:  models.PriorityNormal,
		IsVisible: true,
		AskedAt:   now,
		UpdatedAt: now,
	}
	if err := s.stores.Questions.Create(ctx, q); err != nil {
		return nil, err
	}

	s.bumpQuestionsAsked(ctx, sessionID, askerID)
	s.broadcaster.Publish(sessionID, events.QuestionAsked, questionPayload(q))
	return q, nil
}

// ToggleUpvote flips the user's upvote on a question and returns the
// question with the refreshed count. The asker may upvote their own
// question; the toggle is the only way the count moves.
func (s *Service) ToggleUpvote(ctx context.Context, questionID, userID uuid.UUID) (*models.Question, error) {
	ref, err := s.getQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ref.SessionID)
	defer unlock()

	q, err := s.saveQuestionRetry(ctx, questionID, func(q *models.Question) error {
		if q.HasUpvoted(userID) {
			kept := q.UpvoterIDs[:0]
			for _, id := range q.UpvoterIDs {
				if id != userID {
					kept = append(kept, id)
				}
			}
			q.UpvoterIDs = kept
		} else {
			q.UpvoterIDs = append(q.UpvoterIDs, userID)
		}
		q.UpvoteCount = len(q.UpvoterIDs)
		q.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.broadcaster.Publish(q.SessionID, events.QuestionUpdated, questionPayload(q))
	return q, nil
}

// Answer records the host's answer and notifies the asker. Host or
// co-host only; a question can be answered once.
func (s *Service) Answer(ctx context.Context, questionID, actorID uuid.UUID, answer string) (*models.Question, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return nil, domain.E(domain.KindInvalidSpec, "answer text is required")
	}

	ref, err := s.getQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ref.SessionID)
	defer unlock()

	if err := s.requireHost(ctx, ref.SessionID, actorID, "answer questions"); err != nil {
		return nil, err
	}

	q, err := s.saveQuestionRetry(ctx, questionID, func(q *models.Question) error {
		if q.Status == models.QuestionAnswered {
			return domain.E(domain.KindInvalidState, "question is already answered")
		}
		now := s.now()
		q.Status = models.QuestionAnswered
		q.Answer = answer
		q.AnsweredBy = &actorID
		q.AnsweredAt = &now
		q.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.notifier.Notify(ctx, q.AskerID, notify.KindQuestionAnswered, map[string]interface{}{
		"session_id":  q.SessionID.String(),
		"question_id": q.ID.String(),
		"question":    q.Text,
		"answer":      q.Answer,
	}); err != nil {
		s.logger.Warn("question-answered notification failed",
			zap.Error(err), zap.String("question_id", q.ID.String()))
	}

	s.broadcaster.Publish(q.SessionID, events.QuestionAnswered, questionPayload(q))
	return q, nil
}

// Pin marks or unmarks a question for triage. Host or co-host only.
func (s *Service) Pin(ctx context.Context, questionID, actorID uuid.UUID, pinned bool) (*models.Question, error) {
	return s.moderate(ctx, questionID, actorID, "pin questions", func(q *models.Question) error {
		q.IsPinned = pinned
		q.UpdatedAt = s.now()
		return nil
	})
}

// SetPriority adjusts the triage hint. Host or co-host only.
func (s *Service) SetPriority(ctx context.Context, questionID, actorID uuid.UUID, p models.QuestionPriority) (*models.Question, error) {
	switch p {
	case models.PriorityLow, models.PriorityNormal, models.PriorityHigh:
	default:
		return nil, domain.E(domain.KindInvalidSpec, "unknown priority %q", p)
	}
	return s.moderate(ctx, questionID, actorID, "set priority", func(q *models.Question) error {
		q.Priority = p
		q.UpdatedAt = s.now()
		return nil
	})
}

// Dismiss hides a question from the audience without deleting it.
// Host or co-host only.
func (s *Service) Dismiss(ctx context.Context, questionID, actorID uuid.UUID) (*models.Question, error) {
	return s.moderate(ctx, questionID, actorID, "dismiss questions", func(q *models.Question) error {
		if q.Status == models.QuestionAnswered {
			return domain.E(domain.KindInvalidState, "answered questions cannot be dismissed")
		}
		q.Status = models.QuestionDismissed
		q.IsVisible = false
		q.UpdatedAt = s.now()
		return nil
	})
}

// Get returns a question by id.
func (s *Service) Get(ctx context.Context, questionID uuid.UUID) (*models.Question, error) {
	return s.getQuestion(ctx, questionID)
}

// ListBySession returns the session's questions in triage order: pinned
// first, then by upvote count descending, ties broken oldest-first.
// Non-moderators only see visible questions.
func (s *Service) ListBySession(ctx context.Context, sessionID, viewerID uuid.UUID) ([]*models.Question, error) {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	qs, err := s.stores.Questions.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.IsHostOrCoHost(viewerID) {
		return qs, nil
	}
	visible := make([]*models.Question, 0, len(qs))
	for _, q := range qs {
		if q.IsVisible {
			visible = append(visible, q)
		}
	}
	return visible, nil
}

func (s *Service) moderate(ctx context.Context, questionID, actorID uuid.UUID, action string, fn func(*models.Question) error) (*models.Question, error) {
	ref, err := s.getQuestion(ctx, questionID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(ref.SessionID)
	defer unlock()

	if err := s.requireHost(ctx, ref.SessionID, actorID, action); err != nil {
		return nil, err
	}
	q, err := s.saveQuestionRetry(ctx, questionID, fn)
	if err != nil {
		return nil, err
	}
	s.broadcaster.Publish(q.SessionID, events.QuestionUpdated, questionPayload(q))
	return q, nil
}

func (s *Service) requireHost(ctx context.Context, sessionID, actorID uuid.UUID, action string) error {
	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.IsHostOrCoHost(actorID) {
		return domain.E(domain.KindForbidden, "only the host or a co-host may %s", action)
	}
	return nil
}

func (s *Service) getSession(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	sess, err := s.stores.Sessions.Get(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.E(domain.KindNotFound, "session %s not found", sessionID)
	}
	return sess, err
}

func (s *Service) getQuestion(ctx context.Context, questionID uuid.UUID) (*models.Question, error) {
	q, err := s.stores.Questions.Get(ctx, questionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, domain.E(domain.KindNotFound, "question %s not found", questionID)
	}
	return q, err
}

func (s *Service) saveQuestionRetry(ctx context.Context, questionID uuid.UUID, fn func(*models.Question) error) (*models.Question, error) {
	for attempt := 0; attempt < saveAttempts; attempt++ {
		q, err := s.getQuestion(ctx, questionID)
		if err != nil {
			return nil, err
		}
		if err := fn(q); err != nil {
			return nil, err
		}
		err = s.stores.Questions.Save(ctx, q, q.Version)
		if err == nil {
			return q, nil
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
	return nil, domain.E(domain.KindContention, "question %s is under heavy contention", questionID)
}

func (s *Service) bumpQuestionsAsked(ctx context.Context, sessionID, userID uuid.UUID) {
	p, err := s.stores.Participants.Get(ctx, sessionID, userID)
	if err != nil {
		return
	}
	p.QuestionsAsked++
	p.UpdatedAt = s.now()
	if err := s.stores.Participants.Save(ctx, p, p.Version); err != nil {
		s.logger.Debug("questions_asked bump failed", zap.Error(err), zap.String("user_id", userID.String()))
	}
}

func questionPayload(q *models.Question) map[string]interface{} {
	return map[string]interface{}{
		"question_id":  q.ID.String(),
		"session_id":   q.SessionID.String(),
		"asker_id":     q.AskerID.String(),
		"text":         q.Text,
		"status":       q.Status,
		"priority":     q.Priority,
		"answer":       q.Answer,
		"upvote_count": q.UpvoteCount,
		"is_pinned":    q.IsPinned,
		"is_visible":   q.IsVisible,
	}
}
