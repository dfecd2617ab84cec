package questions

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursedeck/backend/internal/domain"
	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/internal/notify"
	"github.com/coursedeck/backend/internal/sessionlock"
	"github.com/coursedeck/backend/internal/store"
	"github.com/coursedeck/backend/internal/store/memory"
)

type captureNotifier struct {
	mu    sync.Mutex
	sent  []string
	users []uuid.UUID
}

func (n *captureNotifier) Notify(_ context.Context, userID uuid.UUID, kind string, _ map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, kind)
	n.users = append(n.users, userID)
	return nil
}

type fixture struct {
	svc       *Service
	stores    store.Stores
	notifier  *captureNotifier
	sess      *models.Session
	hostID    uuid.UUID
	studentID uuid.UUID
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stores := memory.New()
	notifier := &captureNotifier{}
	svc := NewService(stores, sessionlock.New(), nil, notifier, nil)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	hostID := uuid.New()
	sess := &models.Session{
		ID:                 uuid.New(),
		HostID:             hostID,
		Title:              "Office Hours",
		Type:               models.SessionTypeOfficeHours,
		Status:             models.SessionLive,
		ScheduledStartTime: now.Add(-5 * time.Minute),
		Settings:           models.DefaultSessionSettings(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, stores.Sessions.Create(context.Background(), sess))

	f := &fixture{
		svc:       svc,
		stores:    stores,
		notifier:  notifier,
		sess:      sess,
		hostID:    hostID,
		studentID: uuid.New(),
		now:       now,
	}
	svc.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) ask(t *testing.T, askerID uuid.UUID, text string) *models.Question {
	t.Helper()
	q, err := f.svc.Ask(context.Background(), f.sess.ID, askerID, text)
	require.NoError(t, err)
	return q
}

func TestAskQuestion(t *testing.T) {
	f := newFixture(t)
	q := f.ask(t, f.studentID, "  Does defer run on panic?  ")

	assert.Equal(t, "Does defer run on panic?", q.Text)
	assert.Equal(t, models.QuestionPending, q.Status)
	assert.Equal(t, models.PriorityNormal, q.Priority)
	assert.True(t, q.IsVisible)
	assert.Equal(t, 0, q.UpvoteCount)
	assert.Equal(t, f.now, q.AskedAt)
}

func TestAskValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ask(ctx, f.sess.ID, f.studentID, "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidSpec)

	_, err = f.svc.Ask(ctx, f.sess.ID, f.studentID, strings.Repeat("x", maxQuestionLen+1))
	assert.ErrorIs(t, err, domain.ErrInvalidSpec)
}

func TestAskFeatureDisabled(t *testing.T) {
	f := newFixture(t)
	f.sess.Settings.AllowQuestions = false
	require.NoError(t, f.stores.Sessions.Save(context.Background(), f.sess, f.sess.Version))

	_, err := f.svc.Ask(context.Background(), f.sess.ID, f.studentID, "anyone?")
	assert.ErrorIs(t, err, domain.ErrFeatureDisabled)
}

func TestAskOnEndedSession(t *testing.T) {
	f := newFixture(t)
	f.sess.Status = models.SessionEnded
	require.NoError(t, f.stores.Sessions.Save(context.Background(), f.sess, f.sess.Version))

	_, err := f.svc.Ask(context.Background(), f.sess.ID, f.studentID, "too late?")
	assert.ErrorIs(t, err, domain.ErrClosed)
}

func TestAskBumpsParticipantCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.stores.Participants.Create(ctx, &models.Participant{
		ID:        uuid.New(),
		SessionID: f.sess.ID,
		UserID:    f.studentID,
		Role:      models.RoleParticipant,
		Status:    models.ParticipantJoined,
	}))

	f.ask(t, f.studentID, "first")
	f.ask(t, f.studentID, "second")

	p, err := f.stores.Participants.Get(ctx, f.sess.ID, f.studentID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.QuestionsAsked)
}

func TestToggleUpvote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.ask(t, f.studentID, "what is GOMAXPROCS?")
	voter := uuid.New()

	got, err := f.svc.ToggleUpvote(ctx, q.ID, voter)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UpvoteCount)
	assert.True(t, got.HasUpvoted(voter))

	// second toggle removes it
	got, err = f.svc.ToggleUpvote(ctx, q.ID, voter)
	require.NoError(t, err)
	assert.Equal(t, 0, got.UpvoteCount)
	assert.False(t, got.HasUpvoted(voter))

	// asker can upvote their own question
	got, err = f.svc.ToggleUpvote(ctx, q.ID, f.studentID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UpvoteCount)
}

func TestConcurrentUpvotesDistinctUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.ask(t, f.studentID, "popular question")

	const voters = 12
	var wg sync.WaitGroup
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ToggleUpvote(ctx, q.ID, uuid.New())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.svc.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, voters, got.UpvoteCount)
	assert.Len(t, got.UpvoterIDs, voters)
}

func TestAnswerQuestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.ask(t, f.studentID, "is nil map writable?")

	got, err := f.svc.Answer(ctx, q.ID, f.hostID, "No, writing to a nil map panics.")
	require.NoError(t, err)
	assert.Equal(t, models.QuestionAnswered, got.Status)
	assert.Equal(t, "No, writing to a nil map panics.", got.Answer)
	require.NotNil(t, got.AnsweredBy)
	assert.Equal(t, f.hostID, *got.AnsweredBy)
	require.NotNil(t, got.AnsweredAt)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, notify.KindQuestionAnswered, f.notifier.sent[0])
	assert.Equal(t, f.studentID, f.notifier.users[0])

	// already answered
	_, err = f.svc.Answer(ctx, q.ID, f.hostID, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAnswerForbiddenForParticipant(t *testing.T) {
	f := newFixture(t)
	q := f.ask(t, f.studentID, "can I answer myself?")

	_, err := f.svc.Answer(context.Background(), q.ID, f.studentID, "yes")
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestPinAndPriority(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.ask(t, f.studentID, "pin me")

	got, err := f.svc.Pin(ctx, q.ID, f.hostID, true)
	require.NoError(t, err)
	assert.True(t, got.IsPinned)

	got, err = f.svc.SetPriority(ctx, q.ID, f.hostID, models.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, got.Priority)

	_, err = f.svc.SetPriority(ctx, q.ID, f.hostID, models.QuestionPriority("urgent"))
	assert.ErrorIs(t, err, domain.ErrInvalidSpec)

	_, err = f.svc.Pin(ctx, q.ID, f.studentID, true)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestDismiss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := f.ask(t, f.studentID, "off topic")

	got, err := f.svc.Dismiss(ctx, q.ID, f.hostID)
	require.NoError(t, err)
	assert.Equal(t, models.QuestionDismissed, got.Status)
	assert.False(t, got.IsVisible)

	answered := f.ask(t, f.studentID, "answered already")
	_, err = f.svc.Answer(ctx, answered.ID, f.hostID, "done")
	require.NoError(t, err)
	_, err = f.svc.Dismiss(ctx, answered.ID, f.hostID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestListTriageOrderAndVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	older := f.ask(t, f.studentID, "older, two votes")
	f.now = f.now.Add(time.Minute)
	newer := f.ask(t, f.studentID, "newer, two votes")
	f.now = f.now.Add(time.Minute)
	pinned := f.ask(t, f.studentID, "pinned, no votes")
	hidden := f.ask(t, f.studentID, "dismissed")

	_, err := f.svc.ToggleUpvote(ctx, older.ID, uuid.New())
	require.NoError(t, err)
	_, err = f.svc.ToggleUpvote(ctx, older.ID, uuid.New())
	require.NoError(t, err)
	_, err = f.svc.ToggleUpvote(ctx, newer.ID, uuid.New())
	require.NoError(t, err)
	_, err = f.svc.ToggleUpvote(ctx, newer.ID, uuid.New())
	require.NoError(t, err)
	_, err = f.svc.Pin(ctx, pinned.ID, f.hostID, true)
	require.NoError(t, err)
	_, err = f.svc.Dismiss(ctx, hidden.ID, f.hostID)
	require.NoError(t, err)

	// audience view: pinned first, then votes desc with older before newer,
	// dismissed hidden
	qs, err := f.svc.ListBySession(ctx, f.sess.ID, f.studentID)
	require.NoError(t, err)
	require.Len(t, qs, 3)
	assert.Equal(t, pinned.ID, qs[0].ID)
	assert.Equal(t, older.ID, qs[1].ID)
	assert.Equal(t, newer.ID, qs[2].ID)

	// host view includes the dismissed question
	all, err := f.svc.ListBySession(ctx, f.sess.ID, f.hostID)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
