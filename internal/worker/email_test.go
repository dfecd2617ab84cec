package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coursedeck/backend/pkg/queue"
)

type fakeMailer struct {
	sent []string
	fail bool
}

func (m *fakeMailer) Send(_ context.Context, to, subject, bodyHTML string) error {
	if m.fail {
		return errors.New("relay refused")
	}
	m.sent = append(m.sent, to)
	return nil
}

type fakeMarker struct {
	sentIDs   []uuid.UUID
	failedIDs []uuid.UUID
}

func (m *fakeMarker) MarkSent(_ context.Context, id uuid.UUID, _ time.Time) error {
	m.sentIDs = append(m.sentIDs, id)
	return nil
}

func (m *fakeMarker) MarkFailed(_ context.Context, id uuid.UUID, _ string) error {
	m.failedIDs = append(m.failedIDs, id)
	return nil
}

func emailJob(t *testing.T, payload queue.EmailPayload) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{
		ID:      uuid.New().String(),
		Type:    queue.JobTypeEmail,
		Payload: raw,
	}
}

func TestEmailProcessorMarksSent(t *testing.T) {
	mailer := &fakeMailer{}
	marker := &fakeMarker{}
	p := NewEmailProcessor(mailer, marker, zap.NewNop())

	logID := uuid.New()
	job := emailJob(t, queue.EmailPayload{
		EmailLogID:     logID,
		Kind:           "session_reminder_24h",
		RecipientEmail: "learner@example.com",
		Subject:        "Starting tomorrow",
		BodyHTML:       "<p>hi</p>",
	})

	require.NoError(t, p.Process(context.Background(), job))
	require.Equal(t, []string{"learner@example.com"}, mailer.sent)
	require.Equal(t, []uuid.UUID{logID}, marker.sentIDs)
	require.Empty(t, marker.failedIDs)
}

func TestEmailProcessorMarksFailedAndReturnsError(t *testing.T) {
	mailer := &fakeMailer{fail: true}
	marker := &fakeMarker{}
	p := NewEmailProcessor(mailer, marker, zap.NewNop())

	logID := uuid.New()
	job := emailJob(t, queue.EmailPayload{
		EmailLogID:     logID,
		Kind:           "question_answered",
		RecipientEmail: "learner@example.com",
	})

	err := p.Process(context.Background(), job)
	require.Error(t, err)
	require.Empty(t, mailer.sent)
	require.Equal(t, []uuid.UUID{logID}, marker.failedIDs)
	require.Empty(t, marker.sentIDs)
}

func TestEmailProcessorRejectsGarbagePayload(t *testing.T) {
	p := NewEmailProcessor(&fakeMailer{}, &fakeMarker{}, zap.NewNop())
	job := &queue.Job{ID: uuid.New().String(), Type: queue.JobTypeEmail, Payload: []byte("{")}
	require.Error(t, p.Process(context.Background(), job))
}
