package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursedeck/backend/internal/models"
	"github.com/coursedeck/backend/internal/store"
)

// PollStore persists polls. Options and tallies live in jsonb; the vote
// rows themselves carry the uniqueness constraint.
type PollStore struct {
	pool *pgxpool.Pool
}

const pollColumns = `id, session_id, creator_id, question, options, is_multiple_choice, is_anonymous,
	results, total_votes, started_at, ended_at, duration_seconds, is_active, is_ended, version, created_at`

func (s *PollStore) Create(ctx context.Context, p *models.Poll) error {
	const q = `INSERT INTO session_polls (` + pollColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	options, err := jsonOf(p.Options)
	if err != nil {
		return err
	}
	results, err := jsonOf(p.Results)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, q,
		p.ID, p.SessionID, p.CreatorID, p.Question, options, p.IsMultipleChoice, p.IsAnonymous,
		results, p.TotalVotes, p.StartedAt, p.EndedAt, p.DurationSeconds, p.IsActive, p.IsEnded, p.Version, p.CreatedAt)
	return mapErr(err)
}

func (s *PollStore) Get(ctx context.Context, id uuid.UUID) (*models.Poll, error) {
	const q = `SELECT ` + pollColumns + ` FROM session_polls WHERE id = $1`
	return scanPoll(s.pool.QueryRow(ctx, q, id))
}

func (s *PollStore) Save(ctx context.Context, p *models.Poll, expectedVersion int64) error {
	const q = `UPDATE session_polls SET
		question=$2, options=$3, is_multiple_choice=$4, is_anonymous=$5,
		results=$6, total_votes=$7, ended_at=$8, duration_seconds=$9,
		is_active=$10, is_ended=$11, version=$12
		WHERE id = $1 AND version = $13`
	options, err := jsonOf(p.Options)
	if err != nil {
		return err
	}
	results, err := jsonOf(p.Results)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, q,
		p.ID, p.Question, options, p.IsMultipleChoice, p.IsAnonymous,
		results, p.TotalVotes, p.EndedAt, p.DurationSeconds,
		p.IsActive, p.IsEnded, expectedVersion+1, expectedVersion)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrVersionConflict
	}
	p.Version = expectedVersion + 1
	return nil
}

func (s *PollStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Poll, error) {
	const q = `SELECT ` + pollColumns + ` FROM session_polls WHERE session_id = $1 ORDER BY created_at`
	return s.queryList(ctx, q, sessionID)
}

func (s *PollStore) ListActiveBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Poll, error) {
	const q = `SELECT ` + pollColumns + ` FROM session_polls
		WHERE session_id = $1 AND is_ended = FALSE ORDER BY created_at`
	return s.queryList(ctx, q, sessionID)
}

func (s *PollStore) queryList(ctx context.Context, q string, sessionID uuid.UUID) ([]*models.Poll, error) {
	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPoll(row rowScanner) (*models.Poll, error) {
	var p models.Poll
	var options, results []byte
	err := row.Scan(
		&p.ID, &p.SessionID, &p.CreatorID, &p.Question, &options, &p.IsMultipleChoice, &p.IsAnonymous,
		&results, &p.TotalVotes, &p.StartedAt, &p.EndedAt, &p.DurationSeconds, &p.IsActive, &p.IsEnded, &p.Version, &p.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := json.Unmarshal(options, &p.Options); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(results, &p.Results); err != nil {
		return nil, err
	}
	return &p, nil
}

// PollVoteStore persists votes; a unique index on (poll_id, user_id)
// enforces one vote per user even across instances.
type PollVoteStore struct {
	pool *pgxpool.Pool
}

func (s *PollVoteStore) Create(ctx context.Context, v *models.PollVote) error {
	const q = `INSERT INTO session_poll_votes (id, poll_id, session_id, user_id, selected_options, voted_at)
		VALUES ($1,$2,$3,$4,$5,$6)`
	selected, err := jsonOf(v.SelectedOptions)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, q, v.ID, v.PollID, v.SessionID, v.UserID, selected, v.VotedAt)
	return mapErr(err)
}

func (s *PollVoteStore) Delete(ctx context.Context, pollID, userID uuid.UUID) error {
	const q = `DELETE FROM session_poll_votes WHERE poll_id = $1 AND user_id = $2`
	_, err := s.pool.Exec(ctx, q, pollID, userID)
	return err
}

func (s *PollVoteStore) ExistsForUser(ctx context.Context, pollID, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM session_poll_votes WHERE poll_id = $1 AND user_id = $2)`
	var exists bool
	err := s.pool.QueryRow(ctx, q, pollID, userID).Scan(&exists)
	return exists, err
}

func (s *PollVoteStore) ListByPoll(ctx context.Context, pollID uuid.UUID) ([]*models.PollVote, error) {
	const q = `SELECT id, poll_id, session_id, user_id, selected_options, voted_at
		FROM session_poll_votes WHERE poll_id = $1 ORDER BY voted_at`
	rows, err := s.pool.Query(ctx, q, pollID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.PollVote
	for rows.Next() {
		var v models.PollVote
		var selected []byte
		if err := rows.Scan(&v.ID, &v.PollID, &v.SessionID, &v.UserID, &selected, &v.VotedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(selected, &v.SelectedOptions); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}
