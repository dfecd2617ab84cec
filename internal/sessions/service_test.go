package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursedeck/backend/internal/domain"
	"github.com/coursedeck/backend/internal/events"
	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/internal/notify"
	"github.com/coursedeck/backend/internal/sessionlock"
	"github.com/coursedeck/backend/internal/store"
	"github.com/coursedeck/backend/internal/store/memory"
)

type capturedEvent struct {
	SessionID uuid.UUID
	Event     string
	Payload   interface{}
}

type captureBroadcaster struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (b *captureBroadcaster) Publish(sessionID uuid.UUID, event string, payload interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, capturedEvent{SessionID: sessionID, Event: event, Payload: payload})
}

func (b *captureBroadcaster) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

type captureNotifier struct {
	mu       sync.Mutex
	sent     []string
	payloads []map[string]interface{}
}

func (n *captureNotifier) Notify(_ context.Context, _ uuid.UUID, kind string, payload map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, kind)
	n.payloads = append(n.payloads, payload)
	return nil
}

type fixture struct {
	svc      *Service
	stores   store.Stores
	bc       *captureBroadcaster
	notifier *captureNotifier
	hostID   uuid.UUID
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		stores:   memory.New(),
		bc:       &captureBroadcaster{},
		notifier: &captureNotifier{},
		hostID:   uuid.New(),
		now:      time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.stores, sessionlock.New(), f.bc, f.notifier, nil)
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) create(t *testing.T, in CreateInput) *models.Session {
	t.Helper()
	if in.Title == "" {
		in.Title = "Shipping Go Services"
	}
	if in.Type == "" {
		in.Type = models.SessionTypeWebinar
	}
	if in.ScheduledStartTime.IsZero() {
		in.ScheduledStartTime = f.now.Add(time.Hour)
	}
	sess, err := f.svc.CreateSession(context.Background(), f.hostID, in)
	require.NoError(t, err)
	return sess
}

func (f *fixture) createLive(t *testing.T) *models.Session {
	t.Helper()
	sess := f.create(t, CreateInput{})
	f.now = f.now.Add(time.Hour)
	_, err := f.svc.Join(context.Background(), sess.ID, f.hostID)
	require.NoError(t, err)
	return sess
}

func TestCreateSession(t *testing.T) {
	f := newFixture(t)
	coHost := uuid.New()
	sess := f.create(t, CreateInput{CoHostIDs: []uuid.UUID{coHost}})

	assert.Equal(t, models.SessionScheduled, sess.Status)
	assert.Equal(t, models.DefaultSessionSettings(), sess.Settings)
	assert.True(t, sess.IsHostOrCoHost(coHost))

	// host and co-host get seeded participant records
	ps, err := f.svc.Participants(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	roles := map[uuid.UUID]models.ParticipantRole{}
	for _, p := range ps {
		roles[p.UserID] = p.Role
	}
	assert.Equal(t, models.RoleHost, roles[f.hostID])
	assert.Equal(t, models.RoleCoHost, roles[coHost])
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateSession(ctx, f.hostID, CreateInput{
		ScheduledStartTime: f.now.Add(time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSpec) // no title

	_, err = f.svc.CreateSession(ctx, f.hostID, CreateInput{
		Title:              "t",
		ScheduledStartTime: f.now.Add(-time.Minute),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSpec) // start in the past

	end := f.now.Add(30 * time.Minute)
	_, err = f.svc.CreateSession(ctx, f.hostID, CreateInput{
		Title:              "t",
		ScheduledStartTime: f.now.Add(time.Hour),
		ScheduledEndTime:   &end,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSpec) // end before start

	_, err = f.svc.CreateSession(ctx, f.hostID, CreateInput{
		Title:              "t",
		Type:               models.SessionType("karaoke"),
		ScheduledStartTime: f.now.Add(time.Hour),
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSpec) // unknown type

	deadline := f.now.Add(2 * time.Hour)
	settings := models.DefaultSessionSettings()
	settings.RequireRegistration = true
	_, err = f.svc.CreateSession(ctx, f.hostID, CreateInput{
		Title:                "t",
		ScheduledStartTime:   f.now.Add(time.Hour),
		Settings:             &settings,
		RegistrationDeadline: &deadline,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidSpec) // deadline after start
}

func TestUpdateSessionRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.create(t, CreateInput{})

	title := "Renamed"
	got, err := f.svc.UpdateSession(ctx, sess.ID, f.hostID, UpdatePatch{Title: &title})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Title)

	_, err = f.svc.UpdateSession(ctx, sess.ID, uuid.New(), UpdatePatch{Title: &title})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	// no edits once live
	f.now = f.now.Add(time.Hour)
	_, err = f.svc.Join(ctx, sess.ID, f.hostID)
	require.NoError(t, err)
	_, err = f.svc.UpdateSession(ctx, sess.ID, f.hostID, UpdatePatch{Title: &title})
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.create(t, CreateInput{})
	userID := uuid.New()

	got, err := f.svc.Register(ctx, sess.ID, userID)
	require.NoError(t, err)
	assert.True(t, got.IsRegistered(userID))
	assert.Equal(t, []string{notify.KindRegistrationConfirmed}, f.notifier.sent)
	// the email renderer keys the session title as "title"
	require.Len(t, f.notifier.payloads, 1)
	assert.Equal(t, sess.Title, f.notifier.payloads[0]["title"])

	_, err = f.svc.Register(ctx, sess.ID, userID)
	assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)
}

func TestRegisterCapacityAndDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	full := f.create(t, CreateInput{MaxParticipants: 1})
	_, err := f.svc.Register(ctx, full.ID, uuid.New())
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, full.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrFull)

	deadline := f.now.Add(10 * time.Minute)
	closed := f.create(t, CreateInput{RegistrationDeadline: &deadline})
	f.now = f.now.Add(20 * time.Minute)
	_, err = f.svc.Register(ctx, closed.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrDeadlinePassed)
}

func TestRegisterOnCancelledSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.create(t, CreateInput{})
	_, err := f.svc.CancelSession(ctx, sess.ID, f.hostID)
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, sess.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrClosed)
}

func TestHostJoinStartsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.create(t, CreateInput{})
	f.now = f.now.Add(time.Hour)

	p, err := f.svc.Join(ctx, sess.ID, f.hostID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleHost, p.Role)
	assert.Equal(t, models.ParticipantJoined, p.Status)

	got, err := f.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionLive, got.Status)
	require.NotNil(t, got.ActualStartTime)
	assert.Equal(t, f.now, *got.ActualStartTime)
	assert.Equal(t, 1, f.bc.count(events.SessionStarted))
}

func TestParticipantJoinDoesNotStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.create(t, CreateInput{})
	f.now = f.now.Add(time.Hour)

	_, err := f.svc.Join(ctx, sess.ID, uuid.New())
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionScheduled, got.Status)
	assert.Equal(t, 0, f.bc.count(events.SessionStarted))
}

func TestJoinRequiresRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	settings := models.DefaultSessionSettings()
	settings.RequireRegistration = true
	sess := f.create(t, CreateInput{Settings: &settings})

	registered := uuid.New()
	_, err := f.svc.Register(ctx, sess.ID, registered)
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	_, err = f.svc.Join(ctx, sess.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.Join(ctx, sess.ID, registered)
	require.NoError(t, err)

	// the host is never gated on registration
	_, err = f.svc.Join(ctx, sess.ID, f.hostID)
	require.NoError(t, err)
}

func TestJoinLeaveDurationAccumulates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.createLive(t)
	userID := uuid.New()

	_, err := f.svc.Join(ctx, sess.ID, userID)
	require.NoError(t, err)
	f.now = f.now.Add(10 * time.Minute)
	require.NoError(t, f.svc.Leave(ctx, sess.ID, userID))

	// second interval adds, never overwrites
	_, err = f.svc.Join(ctx, sess.ID, userID)
	require.NoError(t, err)
	f.now = f.now.Add(5 * time.Minute)
	require.NoError(t, f.svc.Leave(ctx, sess.ID, userID))

	p, err := f.stores.Participants.Get(ctx, sess.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, int64(15*60), p.DurationSeconds)
	assert.Equal(t, int64(15*60), p.WatchTimeSeconds)
	assert.Equal(t, models.ParticipantLeft, p.Status)
}

func TestRepeatedJoinIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.createLive(t)
	userID := uuid.New()

	_, err := f.svc.Join(ctx, sess.ID, userID)
	require.NoError(t, err)
	before, err := f.svc.Get(ctx, sess.ID)
	require.NoError(t, err)

	_, err = f.svc.Join(ctx, sess.ID, userID)
	require.NoError(t, err)
	after, err := f.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, before.TotalParticipants, after.TotalParticipants)
	assert.Equal(t, before.CurrentParticipants, after.CurrentParticipants)
}

func TestLeaveWithoutJoinIsNoOp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.createLive(t)

	require.NoError(t, f.svc.Leave(ctx, sess.ID, uuid.New()))
	got, err := f.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.TotalViews)
}

func TestPeakParticipantsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.createLive(t)

	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	for _, u := range users {
		_, err := f.svc.Join(ctx, sess.ID, u)
		require.NoError(t, err)
	}
	got, err := f.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.PeakParticipants) // host + 3
	assert.Equal(t, 4, got.CurrentParticipants)

	for _, u := range users {
		require.NoError(t, f.svc.Leave(ctx, sess.ID, u))
	}
	got, err = f.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentParticipants)
	assert.Equal(t, 4, got.PeakParticipants) // peak never drops
}

func TestConcurrentJoins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.createLive(t)

	const joiners = 20
	var wg sync.WaitGroup
	for i := 0; i < joiners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Join(ctx, sess.ID, uuid.New())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := f.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, joiners+1, got.CurrentParticipants)
	assert.Equal(t, joiners+1, got.PeakParticipants)
	assert.Equal(t, joiners+1, got.TotalParticipants)
}

func TestJoinTerminalSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.createLive(t)
	_, err := f.svc.EndSession(ctx, sess.ID, f.hostID)
	require.NoError(t, err)

	_, err = f.svc.Join(ctx, sess.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrClosed)
}

func TestStartIfNeeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.create(t, CreateInput{})

	_, err := f.svc.StartIfNeeded(ctx, sess.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := f.svc.StartIfNeeded(ctx, sess.ID, f.hostID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionLive, got.Status)

	// idempotent while live
	_, err = f.svc.StartIfNeeded(ctx, sess.ID, f.hostID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.bc.count(events.SessionStarted))

	_, err = f.svc.EndSession(ctx, sess.ID, f.hostID)
	require.NoError(t, err)
	_, err = f.svc.StartIfNeeded(ctx, sess.ID, f.hostID)
	assert.ErrorIs(t, err, domain.ErrAlreadyEnded)
}

func TestEndSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.createLive(t)
	userID := uuid.New()
	_, err := f.svc.Join(ctx, sess.ID, userID)
	require.NoError(t, err)

	_, err = f.svc.EndSession(ctx, sess.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrForbidden)

	f.now = f.now.Add(90*time.Minute + 30*time.Second)
	got, err := f.svc.EndSession(ctx, sess.ID, f.hostID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnded, got.Status)
	assert.Equal(t, 90, got.DurationMinutes) // floor of 90m30s
	assert.Equal(t, 0, got.CurrentParticipants)
	require.NotNil(t, got.ActualEndTime)

	// joined participants forced to left with settled durations
	p, err := f.stores.Participants.Get(ctx, sess.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipantLeft, p.Status)
	assert.Equal(t, int64(90*60+30), p.DurationSeconds)

	assert.Equal(t, 1, f.bc.count(events.SessionEnded))

	// the terminal session's mutex left the registry
	assert.Equal(t, 0, f.svc.locks.Len())

	_, err = f.svc.EndSession(ctx, sess.ID, f.hostID)
	assert.ErrorIs(t, err, domain.ErrAlreadyEnded)
}

func TestEndSessionClosesOpenPolls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.createLive(t)

	poll := &models.Poll{
		ID:        uuid.New(),
		SessionID: sess.ID,
		CreatorID: f.hostID,
		Question:  "still open?",
		Options:   []string{"yes", "no"},
		Results: map[int]*models.PollOptionResult{
			0: {Text: "yes"}, 1: {Text: "no"},
		},
		StartedAt: f.now,
		IsActive:  true,
	}
	require.NoError(t, f.stores.Polls.Create(ctx, poll))

	_, err := f.svc.EndSession(ctx, sess.ID, f.hostID)
	require.NoError(t, err)

	got, err := f.stores.Polls.Get(ctx, poll.ID)
	require.NoError(t, err)
	assert.True(t, got.IsEnded)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, 1, f.bc.count(events.PollClosed))
}

func TestCancelSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.create(t, CreateInput{})

	_, err := f.svc.CancelSession(ctx, sess.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := f.svc.CancelSession(ctx, sess.ID, f.hostID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, got.Status)
	assert.Equal(t, 0, f.svc.locks.Len())

	// live sessions end, not cancel
	live := f.createLive(t)
	_, err = f.svc.CancelSession(ctx, live.ID, f.hostID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

// conflictSessionStore fails every Save with a version conflict so the
// retry loop never settles.
type conflictSessionStore struct {
	store.SessionStore
}

func (s *conflictSessionStore) Save(context.Context, *models.Session, int64) error {
	return store.ErrVersionConflict
}

func TestRetryAbortsOnCancelledContext(t *testing.T) {
	f := newFixture(t)
	sess := f.create(t, CreateInput{})

	stores := f.stores
	stores.Sessions = &conflictSessionStore{SessionStore: f.stores.Sessions}
	svc := NewService(stores, sessionlock.New(), f.bc, f.notifier, nil)
	svc.SetClock(func() time.Time { return f.now })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.CancelSession(ctx, sess.ID, f.hostID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAttachRecording(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.createLive(t)

	rec := &models.Recording{URL: "https://cdn.example.com/r1.mp4"}
	err := f.svc.AttachRecording(ctx, sess.ID, rec)
	assert.ErrorIs(t, err, domain.ErrInvalidState) // not ended yet

	_, err = f.svc.EndSession(ctx, sess.ID, f.hostID)
	require.NoError(t, err)

	require.NoError(t, f.svc.AttachRecording(ctx, sess.ID, rec))
	got, err := f.svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RecordingID)
	assert.Equal(t, rec.ID, *got.RecordingID)
	assert.Contains(t, f.notifier.sent, notify.KindRecordingReady)

	err = f.svc.AttachRecording(ctx, sess.ID, &models.Recording{URL: "https://cdn.example.com/r2.mp4"})
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}
