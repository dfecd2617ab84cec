package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/internal/store"
)

// QuestionStore persists Q&A questions; ListBySession bakes the triage
// ordering into the query so every reader sees the same order.
type QuestionStore struct {
	pool *pgxpool.Pool
}

const questionColumns = `id, session_id, asker_id, text, status, priority,
	answer, answered_by, answered_at, upvoter_ids, upvote_count,
	is_pinned, is_visible, asked_at, version, updated_at`

func (s *QuestionStore) Create(ctx context.Context, q *models.Question) error {
	const query = `INSERT INTO session_questions (` + questionColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	upvoters, err := jsonOf(q.UpvoterIDs)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, query,
		q.ID, q.SessionID, q.AskerID, q.Text, q.Status, q.Priority,
		q.Answer, q.AnsweredBy, q.AnsweredAt, upvoters, q.UpvoteCount,
		q.IsPinned, q.IsVisible, q.AskedAt, q.Version, q.UpdatedAt)
	return mapErr(err)
}

func (s *QuestionStore) Get(ctx context.Context, id uuid.UUID) (*models.Question, error) {
	const q = `SELECT ` + questionColumns + ` FROM session_questions WHERE id = $1`
	return scanQuestion(s.pool.QueryRow(ctx, q, id))
}

func (s *QuestionStore) Save(ctx context.Context, q *models.Question, expectedVersion int64) error {
	const query = `UPDATE session_questions SET
		text=$2, status=$3, priority=$4, answer=$5, answered_by=$6, answered_at=$7,
		upvoter_ids=$8, upvote_count=$9, is_pinned=$10, is_visible=$11,
		version=$12, updated_at=$13
		WHERE id = $1 AND version = $14`
	upvoters, err := jsonOf(q.UpvoterIDs)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, query,
		q.ID, q.Text, q.Status, q.Priority, q.Answer, q.AnsweredBy, q.AnsweredAt,
		upvoters, q.UpvoteCount, q.IsPinned, q.IsVisible,
		expectedVersion+1, q.UpdatedAt, expectedVersion)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrVersionConflict
	}
	q.Version = expectedVersion + 1
	return nil
}

func (s *QuestionStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Question, error) {
	const q = `SELECT ` + questionColumns + ` FROM session_questions
		WHERE session_id = $1
		ORDER BY is_pinned DESC, upvote_count DESC, asked_at ASC`
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Question
	for rows.Next() {
		question, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, question)
	}
	return out, rows.Err()
}

func scanQuestion(row rowScanner) (*models.Question, error) {
	var q models.Question
	var upvoters []byte
	err := row.Scan(
		&q.ID, &q.SessionID, &q.AskerID, &q.Text, &q.Status, &q.Priority,
		&q.Answer, &q.AnsweredBy, &q.AnsweredAt, &upvoters, &q.UpvoteCount,
		&q.IsPinned, &q.IsVisible, &q.AskedAt, &q.Version, &q.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(upvoters, &q.UpvoterIDs); err != nil {
		return nil, err
	}
	return &q, nil
}
