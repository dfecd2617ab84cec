// Package reminders runs the periodic sweep that sends pre-session
// reminder notifications to registered users.
package reminders

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/internal/notify"
	"github.com/coursedeck/backend/internal/store"
)

// Scheduler periodically scans for scheduled sessions whose reminder
// window has opened and sends one reminder per registered user. The
// reminders_sent flip in the store is the serialization point: with
// several instances sweeping the same database, only one wins the flip
// and sends.
type Scheduler struct {
	stores   store.Stores
	notifier notify.Notifier
	logger   *zap.Logger
	now      func() time.Time

	interval  time.Duration
	lookahead time.Duration
	stop      chan struct{}
	done      chan struct{}
}

// Config tunes the sweep cadence.
type Config struct {
	// Interval between sweeps. Default 1 minute.
	Interval time.Duration
	// Lookahead is how far before the scheduled start a session becomes
	// due. Default 24 hours.
	Lookahead time.Duration
}

// NewScheduler creates a reminder scheduler. Call Start to begin
// sweeping and Stop to shut it down.
func NewScheduler(stores store.Stores, notifier notify.Notifier, logger *zap.Logger, cfg Config) *Scheduler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 24 * time.Hour
	}
	return &Scheduler{
		stores:    stores,
		notifier:  notifier,
		logger:    logger,
		now:       time.Now,
		interval:  cfg.Interval,
		lookahead: cfg.Lookahead,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// SetClock overrides the wall clock, for tests.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Start launches the sweep loop.
func (s *Scheduler) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop halts the loop and waits for the in-flight sweep to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.logger.Error("reminder sweep failed", zap.Error(err))
			} else if n > 0 {
				s.logger.Info("reminder sweep sent", zap.Int("sessions", n))
			}
		}
	}
}

// Sweep runs one pass and returns how many sessions it reminded. Exported
// for tests and for a run-once CLI mode.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.stores.Sessions.ListDueReminders(ctx, now, s.lookahead)
	if err != nil {
		return 0, err
	}

	reminded := 0
	for _, sess := range due {
		flipped, err := s.stores.Sessions.MarkRemindersSent(ctx, sess.ID)
		if err != nil {
			s.logger.Error("reminder flip failed",
				zap.Error(err), zap.String("session_id", sess.ID.String()))
			continue
		}
		if !flipped {
			// another instance won this session
			continue
		}
		s.send(ctx, sess, now)
		reminded++
	}
	return reminded, nil
}

// send delivers the reminder to every registered user, tiered by how
// close the start is: within an hour gets the 1h kind, otherwise 24h.
func (s *Scheduler) send(ctx context.Context, sess *models.Session, now time.Time) {
	kind := notify.KindSessionReminder24h
	if sess.ScheduledStartTime.Sub(now) <= time.Hour {
		kind = notify.KindSessionReminder1h
	}
	payload := map[string]interface{}{
		"session_id":           sess.ID.String(),
		"title":                sess.Title,
		"scheduled_start_time": sess.ScheduledStartTime,
	}
	for _, userID := range sess.RegisteredUserIDs {
		if err := s.notifier.Notify(ctx, userID, kind, payload); err != nil {
			s.logger.Warn("reminder delivery failed",
				zap.Error(err),
				zap.String("session_id", sess.ID.String()),
				zap.String("user_id", userID.String()))
		}
	}
}
