// Package postgres implements the store contracts on PostgreSQL via pgx.
// Versioned saves compile to UPDATE ... WHERE version = $expected; zero
// rows affected means a concurrent writer won and the caller retries.
package postgres

import (
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursedeck/backend/internal/store"
)

// New wires every entity store against the shared pool.
func New(pool *pgxpool.Pool) store.Stores {
	return store.Stores{
		Sessions:     &SessionStore{pool: pool},
		Participants: &ParticipantStore{pool: pool},
		Polls:        &PollStore{pool: pool},
		PollVotes:    &PollVoteStore{pool: pool},
		Questions:    &QuestionStore{pool: pool},
		Recordings:   &RecordingStore{pool: pool},
	}
}

// mapErr translates driver errors to store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.ErrDuplicate
	}
	return err
}

// jsonOf marshals v for a jsonb column; nil-safe.
func jsonOf(v interface{}) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}
