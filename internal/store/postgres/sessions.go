package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/internal/store"
)

// SessionStore persists session aggregates. Co-host and registered-user id
// sets plus the settings flags live in jsonb columns; everything queried or
// constrained individually has its own column.
type SessionStore struct {
	pool *pgxpool.Pool
}

const sessionColumns = `id, host_id, co_host_ids, title, description, type, status,
	scheduled_start_time, scheduled_end_time, actual_start_time, actual_end_time, duration_minutes,
	settings, max_participants, registration_deadline, registered_user_ids,
	current_participants, total_participants, peak_participants, total_views,
	reminders_sent, recording_id, version, created_at, updated_at`

func (s *SessionStore) Create(ctx context.Context, sess *models.Session) error {
	const q = `INSERT INTO sessions (` + sessionColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25)`
	coHosts, err := jsonOf(sess.CoHostIDs)
	if err != nil {
		return err
	}
	settings, err := jsonOf(sess.Settings)
	if err != nil {
		return err
	}
	registered, err := jsonOf(sess.RegisteredUserIDs)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, q,
		sess.ID, sess.HostID, coHosts, sess.Title, sess.Description, sess.Type, sess.Status,
		sess.ScheduledStartTime, sess.ScheduledEndTime, sess.ActualStartTime, sess.ActualEndTime, sess.DurationMinutes,
		settings, sess.MaxParticipants, sess.RegistrationDeadline, registered,
		sess.CurrentParticipants, sess.TotalParticipants, sess.PeakParticipants, sess.TotalViews,
		sess.RemindersSent, sess.RecordingID, sess.Version, sess.CreatedAt, sess.UpdatedAt)
	return mapErr(err)
}

func (s *SessionStore) Get(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(s.pool.QueryRow(ctx, q, id))
}

func (s *SessionStore) Save(ctx context.Context, sess *models.Session, expectedVersion int64) error {
	const q = `UPDATE sessions SET
		co_host_ids=$2, title=$3, description=$4, type=$5, status=$6,
		scheduled_start_time=$7, scheduled_end_time=$8, actual_start_time=$9, actual_end_time=$10, duration_minutes=$11,
		settings=$12, max_participants=$13, registration_deadline=$14, registered_user_ids=$15,
		current_participants=$16, total_participants=$17, peak_participants=$18, total_views=$19,
		reminders_sent=$20, recording_id=$21, version=$22, updated_at=$23
		WHERE id = $1 AND version = $24`
	coHosts, err := jsonOf(sess.CoHostIDs)
	if err != nil {
		return err
	}
	settings, err := jsonOf(sess.Settings)
	if err != nil {
		return err
	}
	registered, err := jsonOf(sess.RegisteredUserIDs)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, q,
		sess.ID, coHosts, sess.Title, sess.Description, sess.Type, sess.Status,
		sess.ScheduledStartTime, sess.ScheduledEndTime, sess.ActualStartTime, sess.ActualEndTime, sess.DurationMinutes,
		settings, sess.MaxParticipants, sess.RegistrationDeadline, registered,
		sess.CurrentParticipants, sess.TotalParticipants, sess.PeakParticipants, sess.TotalViews,
		sess.RemindersSent, sess.RecordingID, expectedVersion+1, sess.UpdatedAt, expectedVersion)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrVersionConflict
	}
	sess.Version = expectedVersion + 1
	return nil
}

func (s *SessionStore) List(ctx context.Context, hostID *uuid.UUID) ([]*models.Session, error) {
	base := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []interface{}
	if hostID != nil {
		base += ` WHERE host_id = $1`
		args = append(args, *hostID)
	}
	base += ` ORDER BY scheduled_start_time`
	rows, err := s.pool.Query(ctx, base, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *SessionStore) ListDueReminders(ctx context.Context, now time.Time, lookahead time.Duration) ([]*models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions
		WHERE status = 'scheduled' AND reminders_sent = FALSE
		AND scheduled_start_time > $1 AND scheduled_start_time <= $2
		ORDER BY scheduled_start_time`
	rows, err := s.pool.Query(ctx, q, now, now.Add(lookahead))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// MarkRemindersSent flips reminders_sent atomically; the WHERE clause makes
// the flip the cross-instance serialization point.
func (s *SessionStore) MarkRemindersSent(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `UPDATE sessions SET reminders_sent = TRUE, version = version + 1
		WHERE id = $1 AND reminders_sent = FALSE`
	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var coHosts, settings, registered []byte
	err := row.Scan(
		&sess.ID, &sess.HostID, &coHosts, &sess.Title, &sess.Description, &sess.Type, &sess.Status,
		&sess.ScheduledStartTime, &sess.ScheduledEndTime, &sess.ActualStartTime, &sess.ActualEndTime, &sess.DurationMinutes,
		&settings, &sess.MaxParticipants, &sess.RegistrationDeadline, &registered,
		&sess.CurrentParticipants, &sess.TotalParticipants, &sess.PeakParticipants, &sess.TotalViews,
		&sess.RemindersSent, &sess.RecordingID, &sess.Version, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(coHosts, &sess.CoHostIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(settings, &sess.Settings); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(registered, &sess.RegisteredUserIDs); err != nil {
		return nil, err
	}
	return &sess, nil
}
