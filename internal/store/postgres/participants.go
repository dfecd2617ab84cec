package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/internal/store"
)

// ParticipantStore persists per-session attendance records. (session_id,
// user_id) is unique; Create on an existing pair returns ErrDuplicate.
type ParticipantStore struct {
	pool *pgxpool.Pool
}

const participantColumns = `id, session_id, user_id, role, status,
	registered_at, joined_at, left_at, duration_seconds, watch_time_seconds,
	questions_asked, polls_answered, chat_messages, version, created_at, updated_at`

func (s *ParticipantStore) Create(ctx context.Context, p *models.Participant) error {
	const q = `INSERT INTO session_participants (` + participantColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err := s.pool.Exec(ctx, q,
		p.ID, p.SessionID, p.UserID, p.Role, p.Status,
		p.RegisteredAt, p.JoinedAt, p.LeftAt, p.DurationSeconds, p.WatchTimeSeconds,
		p.QuestionsAsked, p.PollsAnswered, p.ChatMessages, p.Version, p.CreatedAt, p.UpdatedAt)
	return mapErr(err)
}

func (s *ParticipantStore) Get(ctx context.Context, sessionID, userID uuid.UUID) (*models.Participant, error) {
	const q = `SELECT ` + participantColumns + ` FROM session_participants
		WHERE session_id = $1 AND user_id = $2`
	return scanParticipant(s.pool.QueryRow(ctx, q, sessionID, userID))
}

func (s *ParticipantStore) Save(ctx context.Context, p *models.Participant, expectedVersion int64) error {
	const q = `UPDATE session_participants SET
		role=$2, status=$3, registered_at=$4, joined_at=$5, left_at=$6,
		duration_seconds=$7, watch_time_seconds=$8,
		questions_asked=$9, polls_answered=$10, chat_messages=$11,
		version=$12, updated_at=$13
		WHERE id = $1 AND version = $14`
	tag, err := s.pool.Exec(ctx, q,
		p.ID, p.Role, p.Status, p.RegisteredAt, p.JoinedAt, p.LeftAt,
		p.DurationSeconds, p.WatchTimeSeconds,
		p.QuestionsAsked, p.PollsAnswered, p.ChatMessages,
		expectedVersion+1, p.UpdatedAt, expectedVersion)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrVersionConflict
	}
	p.Version = expectedVersion + 1
	return nil
}

func (s *ParticipantStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Participant, error) {
	const q = `SELECT ` + participantColumns + ` FROM session_participants
		WHERE session_id = $1 ORDER BY created_at`
	return s.queryList(ctx, q, sessionID)
}

func (s *ParticipantStore) ListJoined(ctx context.Context, sessionID uuid.UUID) ([]*models.Participant, error) {
	const q = `SELECT ` + participantColumns + ` FROM session_participants
		WHERE session_id = $1 AND status = 'joined' ORDER BY joined_at`
	return s.queryList(ctx, q, sessionID)
}

func (s *ParticipantStore) CountJoined(ctx context.Context, sessionID uuid.UUID) (int, error) {
	const q = `SELECT COUNT(*) FROM session_participants WHERE session_id = $1 AND status = 'joined'`
	var n int
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(&n)
	return n, err
}

func (s *ParticipantStore) queryList(ctx context.Context, q string, sessionID uuid.UUID) ([]*models.Participant, error) {
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanParticipant(row rowScanner) (*models.Participant, error) {
	var p models.Participant
	err := row.Scan(
		&p.ID, &p.SessionID, &p.UserID, &p.Role, &p.Status,
		&p.RegisteredAt, &p.JoinedAt, &p.LeftAt, &p.DurationSeconds, &p.WatchTimeSeconds,
		&p.QuestionsAsked, &p.PollsAnswered, &p.ChatMessages, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}
