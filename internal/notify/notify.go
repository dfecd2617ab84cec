// Package notify defines the notification collaborator contract. The
// engine calls Notify after a commit; failures are logged and swallowed by
// callers, never surfaced to the triggering operation.
package notify

import (
	"context"

	"github.com/google/uuid"
)

// Notification kinds emitted by the engine.
const (
	KindRegistrationConfirmed = "registration_confirmed"
	KindSessionReminder24h    = "session_reminder_24h"
	KindSessionReminder1h     = "session_reminder_1h"
	KindQuestionAnswered      = "question_answered"
	KindRecordingReady        = "recording_ready"
)

// Notifier delivers a notification of the given kind to a user.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, kind string, payload map[string]interface{}) error
}

// Nop is a Notifier that drops everything.
type Nop struct{}

// Notify implements Notifier.
func (Nop) Notify(context.Context, uuid.UUID, string, map[string]interface{}) error { return nil }
