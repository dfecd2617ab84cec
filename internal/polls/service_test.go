package polls

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

func (b *captureBroadcaster) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.Event
	}
	return out
}

type fixture struct {
	svc       *Service
	stores    store.Stores
	bc        *captureBroadcaster
	sess      *models.Session
	hostID    uuid.UUID
	studentID uuid.UUID
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stores := memory.New()
	bc := &captureBroadcaster{}
	svc := NewService(stores, sessionlock.New(), bc, nil)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })
	t.Cleanup(svc.Shutdown)

	hostID := uuid.New()
	sess := &models.Session{
		ID:                 uuid.New(),
		HostID:             hostID,
		Title:              "Go Concurrency Deep Dive",
		Type:               models.SessionTypeWorkshop,
		Status:             models.SessionLive,
		ScheduledStartTime: now.Add(-10 * time.Minute),
		Settings:           models.DefaultSessionSettings(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	require.NoError(t, stores.Sessions.Create(context.Background(), sess))

	return &fixture{
		svc:       svc,
		stores:    stores,
		bc:        bc,
		sess:      sess,
		hostID:    hostID,
		studentID: uuid.New(),
		now:       now,
	}
}

func (f *fixture) createPoll(t *testing.T, in CreateInput) *models.Poll {
	t.Helper()
	if in.Question == "" {
		in.Question = "Which scheduler owns a goroutine?"
	}
	if in.Options == nil {
		in.Options = []string{"The OS", "The Go runtime", "The kernel"}
	}
	poll, err := f.svc.CreatePoll(context.Background(), f.sess.ID, f.hostID, in)
	require.NoError(t, err)
	return poll
}

func TestCreatePollValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePoll(ctx, f.sess.ID, f.studentID, CreateInput{
		Question: "q", Options: []string{"a", "b"},
	})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.CreatePoll(ctx, f.sess.ID, f.hostID, CreateInput{
		Question: "q", Options: []string{"only one"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOptions)

	_, err = f.svc.CreatePoll(ctx, f.sess.ID, f.hostID, CreateInput{
		Options: []string{"a", "b"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidOptions)
}

func TestCreatePollFeatureDisabled(t *testing.T) {
	f := newFixture(t)
	f.sess.Settings.AllowPolls = false
	require.NoError(t, f.stores.Sessions.Save(context.Background(), f.sess, f.sess.Version))

	_, err := f.svc.CreatePoll(context.Background(), f.sess.ID, f.hostID, CreateInput{
		Question: "q", Options: []string{"a", "b"},
	})
	assert.ErrorIs(t, err, domain.ErrFeatureDisabled)
}

func TestCreatePollZeroesResults(t *testing.T) {
	f := newFixture(t)
	poll := f.createPoll(t, CreateInput{})

	assert.True(t, poll.IsActive)
	assert.False(t, poll.IsEnded)
	assert.Equal(t, 0, poll.TotalVotes)
	require.Len(t, poll.Results, 3)
	for i, opt := range poll.Options {
		assert.Equal(t, opt, poll.Results[i].Text)
		assert.Equal(t, 0, poll.Results[i].Votes)
		assert.Equal(t, 0, poll.Results[i].Percentage)
	}
	assert.Equal(t, []string{"poll_created"}, f.bc.names())
}

func TestVoteTalliesAndPercentages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	poll := f.createPoll(t, CreateInput{})

	_, err := f.svc.Vote(ctx, poll.ID, f.studentID, []int{1})
	require.NoError(t, err)
	_, err = f.svc.Vote(ctx, poll.ID, uuid.New(), []int{1})
	require.NoError(t, err)
	got, err := f.svc.Vote(ctx, poll.ID, uuid.New(), []int{0})
	require.NoError(t, err)

	assert.Equal(t, 3, got.TotalVotes)
	assert.Equal(t, 2, got.Results[1].Votes)
	assert.Equal(t, 67, got.Results[1].Percentage)
	assert.Equal(t, 33, got.Results[0].Percentage)
	assert.Equal(t, 0, got.Results[2].Percentage)
}

func TestVoteRejectsSecondVote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	poll := f.createPoll(t, CreateInput{})

	_, err := f.svc.Vote(ctx, poll.ID, f.studentID, []int{0})
	require.NoError(t, err)
	_, err = f.svc.Vote(ctx, poll.ID, f.studentID, []int{1})
	assert.ErrorIs(t, err, domain.ErrAlreadyVoted)

	got, err := f.svc.Get(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalVotes)
}

func TestVoteSelectionRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	single := f.createPoll(t, CreateInput{})

	_, err := f.svc.Vote(ctx, single.ID, f.studentID, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidSelection)
	_, err = f.svc.Vote(ctx, single.ID, f.studentID, []int{0, 1})
	assert.ErrorIs(t, err, domain.ErrInvalidSelection)
	_, err = f.svc.Vote(ctx, single.ID, f.studentID, []int{7})
	assert.ErrorIs(t, err, domain.ErrInvalidSelection)
	_, err = f.svc.Vote(ctx, single.ID, f.studentID, []int{-1})
	assert.ErrorIs(t, err, domain.ErrInvalidSelection)

	multi := f.createPoll(t, CreateInput{IsMultipleChoice: true})
	_, err = f.svc.Vote(ctx, multi.ID, f.studentID, []int{0, 0})
	assert.ErrorIs(t, err, domain.ErrInvalidSelection)

	got, err := f.svc.Vote(ctx, multi.ID, f.studentID, []int{0, 2})
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalVotes)
	assert.Equal(t, 1, got.Results[0].Votes)
	assert.Equal(t, 1, got.Results[2].Votes)
	assert.Equal(t, 100, got.Results[0].Percentage)
}

func TestVoteOnEndedPoll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	poll := f.createPoll(t, CreateInput{})

	_, err := f.svc.ClosePoll(ctx, poll.ID, f.hostID)
	require.NoError(t, err)

	_, err = f.svc.Vote(ctx, poll.ID, f.studentID, []int{0})
	assert.ErrorIs(t, err, domain.ErrClosed)
}

func TestVoteBumpsParticipantCounter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.stores.Participants.Create(ctx, &models.Participant{
		ID:        uuid.New(),
		SessionID: f.sess.ID,
		UserID:    f.studentID,
		Role:      models.RoleParticipant,
		Status:    models.ParticipantJoined,
	}))
	poll := f.createPoll(t, CreateInput{})

	_, err := f.svc.Vote(ctx, poll.ID, f.studentID, []int{0})
	require.NoError(t, err)

	p, err := f.stores.Participants.Get(ctx, f.sess.ID, f.studentID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.PollsAnswered)
}

func TestConcurrentVotesSingleWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	poll := f.createPoll(t, CreateInput{})

	const attempts = 16
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Vote(ctx, poll.ID, f.studentID, []int{0})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case domain.KindOf(err) == domain.KindAlreadyVoted:
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, dup)

	got, err := f.svc.Get(ctx, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalVotes)
	assert.Equal(t, 1, got.Results[0].Votes)
}

// flakyPollStore fails Save with a version conflict while fail is set,
// starving the tally update without touching the vote rows.
type flakyPollStore struct {
	store.PollStore
	mu   sync.Mutex
	fail bool
}

func (s *flakyPollStore) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func (s *flakyPollStore) Save(ctx context.Context, p *models.Poll, expectedVersion int64) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return store.ErrVersionConflict
	}
	return s.PollStore.Save(ctx, p, expectedVersion)
}

func TestVoteRollsBackWhenTallySaveFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	poll := f.createPoll(t, CreateInput{})

	flaky := &flakyPollStore{PollStore: f.stores.Polls}
	stores := f.stores
	stores.Polls = flaky
	svc := NewService(stores, sessionlock.New(), f.bc, nil)
	svc.SetClock(func() time.Time { return f.now })
	t.Cleanup(svc.Shutdown)

	flaky.setFail(true)
	_, err := svc.Vote(ctx, poll.ID, f.studentID, []int{1})
	assert.Equal(t, domain.KindContention, domain.KindOf(err))

	// the failed vote must not linger: the same user votes again and is
	// counted exactly once
	flaky.setFail(false)
	got, err := svc.Vote(ctx, poll.ID, f.studentID, []int{1})
	require.NoError(t, err)
	assert.Equal(t, 1, got.TotalVotes)
	assert.Equal(t, 1, got.Results[1].Votes)
}

func TestClosePollIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	poll := f.createPoll(t, CreateInput{})

	first, err := f.svc.ClosePoll(ctx, poll.ID, f.hostID)
	require.NoError(t, err)
	assert.True(t, first.IsEnded)
	assert.False(t, first.IsActive)
	require.NotNil(t, first.EndedAt)

	again, err := f.svc.ClosePoll(ctx, poll.ID, f.hostID)
	require.NoError(t, err)
	assert.Equal(t, first.EndedAt, again.EndedAt)

	// only one poll_closed broadcast for the two calls
	var closed int
	for _, name := range f.bc.names() {
		if name == events.PollClosed {
			closed++
		}
	}
	assert.Equal(t, 1, closed)
}

func TestClosePollForbiddenForParticipant(t *testing.T) {
	f := newFixture(t)
	poll := f.createPoll(t, CreateInput{})

	_, err := f.svc.ClosePoll(context.Background(), poll.ID, f.studentID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestAutoCloseAfterDuration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	poll := f.createPoll(t, CreateInput{DurationSeconds: 1})

	require.Eventually(t, func() bool {
		got, err := f.svc.Get(ctx, poll.ID)
		return err == nil && got.IsEnded
	}, 3*time.Second, 20*time.Millisecond)

	_, err := f.svc.Vote(ctx, poll.ID, f.studentID, []int{0})
	assert.ErrorIs(t, err, domain.ErrClosed)
}

func TestCreatePollOnEndedSession(t *testing.T) {
	f := newFixture(t)
	f.sess.Status = models.SessionEnded
	require.NoError(t, f.stores.Sessions.Save(context.Background(), f.sess, f.sess.Version))

	_, err := f.svc.CreatePoll(context.Background(), f.sess.ID, f.hostID, CreateInput{
		Question: "q", Options: []string{"a", "b"},
	})
	assert.ErrorIs(t, err, domain.ErrClosed)
}
