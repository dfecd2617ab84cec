package reminders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/internal/notify"
	"github.com/coursedeck/backend/internal/store"
	"github.com/coursedeck/backend/internal/store/memory"
)

type sentReminder struct {
	UserID uuid.UUID
	Kind   string
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []sentReminder
}

func (n *captureNotifier) Notify(_ context.Context, userID uuid.UUID, kind string, _ map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentReminder{UserID: userID, Kind: kind})
	return nil
}

func newScheduler(t *testing.T, now time.Time) (*Scheduler, store.Stores, *captureNotifier) {
	t.Helper()
	stores := memory.New()
	notifier := &captureNotifier{}
	sched := NewScheduler(stores, notifier, nil, Config{
		Interval:  time.Minute,
		Lookahead: 24 * time.Hour,
	})
	sched.SetClock(func() time.Time { return now })
	return sched, stores, notifier
}

func seedSession(t *testing.T, stores store.Stores, start time.Time, registered ...uuid.UUID) *models.Session {
	t.Helper()
	sess := &models.Session{
		ID:                 uuid.New(),
		HostID:             uuid.New(),
		Title:              "Intro to Generics",
		Type:               models.SessionTypeWebinar,
		Status:             models.SessionScheduled,
		ScheduledStartTime: start,
		Settings:           models.DefaultSessionSettings(),
		RegisteredUserIDs:  registered,
	}
	require.NoError(t, stores.Sessions.Create(context.Background(), sess))
	return sess
}

func TestSweepSendsOncePerSession(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sched, stores, notifier := newScheduler(t, now)

	u1, u2 := uuid.New(), uuid.New()
	sess := seedSession(t, stores, now.Add(5*time.Hour), u1, u2)

	n, err := sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, notifier.sent, 2)
	assert.Equal(t, notify.KindSessionReminder24h, notifier.sent[0].Kind)

	// reminders_sent persisted
	got, err := stores.Sessions.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.True(t, got.RemindersSent)

	// second sweep is a no-op
	n, err = sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, notifier.sent, 2)
}

func TestSweepTiersByProximity(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sched, stores, notifier := newScheduler(t, now)

	soon := uuid.New()
	later := uuid.New()
	seedSession(t, stores, now.Add(30*time.Minute), soon)
	seedSession(t, stores, now.Add(10*time.Hour), later)

	_, err := sched.Sweep(context.Background())
	require.NoError(t, err)
	require.Len(t, notifier.sent, 2)

	kinds := map[uuid.UUID]string{}
	for _, s := range notifier.sent {
		kinds[s.UserID] = s.Kind
	}
	assert.Equal(t, notify.KindSessionReminder1h, kinds[soon])
	assert.Equal(t, notify.KindSessionReminder24h, kinds[later])
}

func TestSweepSkipsOutOfWindowAndNonScheduled(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sched, stores, notifier := newScheduler(t, now)

	// starts beyond the lookahead
	seedSession(t, stores, now.Add(48*time.Hour), uuid.New())

	// already live
	live := seedSession(t, stores, now.Add(2*time.Hour), uuid.New())
	live.Status = models.SessionLive
	require.NoError(t, stores.Sessions.Save(context.Background(), live, live.Version))

	// already started (in the past)
	seedSession(t, stores, now.Add(-time.Hour), uuid.New())

	n, err := sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, notifier.sent)
}

func TestConcurrentSweepsSingleSender(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sched, stores, notifier := newScheduler(t, now)
	other, _, _ := newScheduler(t, now)
	// second instance shares the store, simulating two processes
	other.stores = stores
	other.notifier = notifier

	seedSession(t, stores, now.Add(2*time.Hour), uuid.New())

	var wg sync.WaitGroup
	totals := make(chan int, 2)
	for _, s := range []*Scheduler{sched, other} {
		wg.Add(1)
		go func(s *Scheduler) {
			defer wg.Done()
			n, err := s.Sweep(context.Background())
			assert.NoError(t, err)
			totals <- n
		}(s)
	}
	wg.Wait()
	close(totals)

	sum := 0
	for n := range totals {
		sum += n
	}
	assert.Equal(t, 1, sum)
	assert.Len(t, notifier.sent, 1)
}

func TestStartStop(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	sched, stores, notifier := newScheduler(t, now)
	sched.interval = 10 * time.Millisecond

	seedSession(t, stores, now.Add(time.Hour), uuid.New())

	sched.Start(context.Background())
	require.Eventually(t, func() bool {
		notifier.mu.Lock()
		defer notifier.mu.Unlock()
		return len(notifier.sent) == 1
	}, 2*time.Second, 5*time.Millisecond)
	sched.Stop()
}
