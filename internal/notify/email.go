package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/pkg/queue"
)

// UserDirectory resolves a user ID to a deliverable address.
type UserDirectory interface {
	EmailFor(ctx context.Context, userID uuid.UUID) (email, fullName string, err error)
}

// EmailLogRecorder persists one row per outbound email.
type EmailLogRecorder interface {
	Create(ctx context.Context, el *models.EmailLog) error
}

// EmailNotifier turns engine notifications into email jobs: it records an
// email_logs row and enqueues the job for the worker to deliver.
type EmailNotifier struct {
	queue     *queue.Queue
	directory UserDirectory
	logs      EmailLogRecorder
	logger    *zap.Logger
}

// NewEmailNotifier creates a queue-backed notifier. logs may be nil (no
// delivery ledger).
func NewEmailNotifier(q *queue.Queue, directory UserDirectory, logs EmailLogRecorder, logger *zap.Logger) *EmailNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailNotifier{queue: q, directory: directory, logs: logs, logger: logger}
}

// Notify implements Notifier.
func (n *EmailNotifier) Notify(ctx context.Context, userID uuid.UUID, kind string, payload map[string]interface{}) error {
	email, fullName, err := n.directory.EmailFor(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve recipient %s: %w", userID, err)
	}

	subject, body := renderEmail(kind, fullName, payload)
	logID := uuid.New()
	sessionID := sessionIDFrom(payload)

	if n.logs != nil {
		uid := userID
		el := &models.EmailLog{
			ID:             logID,
			UserID:         &uid,
			SessionID:      sessionID,
			Kind:           kind,
			RecipientEmail: email,
			Subject:        subject,
			Status:         models.EmailLogStatusPending,
		}
		if err := n.logs.Create(ctx, el); err != nil {
			n.logger.Warn("email log insert failed", zap.Error(err), zap.String("kind", kind))
		}
	}

	job := queue.EmailPayload{
		EmailLogID:     logID,
		Kind:           kind,
		UserID:         userID,
		RecipientEmail: email,
		Subject:        subject,
		BodyHTML:       body,
	}
	if sessionID != nil {
		job.SessionID = *sessionID
	}
	if err := n.queue.EnqueueEmail(ctx, job); err != nil {
		return fmt.Errorf("enqueue email: %w", err)
	}
	return nil
}

func sessionIDFrom(payload map[string]interface{}) *uuid.UUID {
	raw, ok := payload["session_id"].(string)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}

func renderEmail(kind, fullName string, payload map[string]interface{}) (subject, body string) {
	title, _ := payload["title"].(string)
	if title == "" {
		title = "your session"
	}
	greeting := "Hi"
	if fullName != "" {
		greeting = "Hi " + fullName
	}
	switch kind {
	case KindRegistrationConfirmed:
		subject = fmt.Sprintf("You're registered: %s", title)
		body = fmt.Sprintf("<p>%s,</p><p>Your spot in <b>%s</b> is confirmed. We'll remind you before it starts.</p>", greeting, title)
	case KindSessionReminder24h:
		subject = fmt.Sprintf("Starting tomorrow: %s", title)
		body = fmt.Sprintf("<p>%s,</p><p><b>%s</b> starts in about 24 hours.</p>", greeting, title)
	case KindSessionReminder1h:
		subject = fmt.Sprintf("Starting soon: %s", title)
		body = fmt.Sprintf("<p>%s,</p><p><b>%s</b> starts in about an hour. See you there!</p>", greeting, title)
	case KindQuestionAnswered:
		subject = "Your question was answered"
		body = fmt.Sprintf("<p>%s,</p><p>The host answered your question during the session.</p>", greeting)
	case KindRecordingReady:
		subject = fmt.Sprintf("Recording ready: %s", title)
		body = fmt.Sprintf("<p>%s,</p><p>The recording of <b>%s</b> is ready to watch.</p>", greeting, title)
	default:
		subject = "Notification from CourseDeck"
		body = fmt.Sprintf("<p>%s,</p><p>You have a new notification.</p>", greeting)
	}
	return subject, body
}
