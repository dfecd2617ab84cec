package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursedeck/backend/internal/models"
)

// RecordingStore persists session recordings. session_id is unique: one
// recording per session, enforced in the schema.
type RecordingStore struct {
	pool *pgxpool.Pool
}

const recordingColumns = `id, session_id, url, thumbnail_url, s3_key, duration, format,
	file_size, status, view_count, created_at, updated_at`

func (s *RecordingStore) Create(ctx context.Context, r *models.Recording) error {
	const q = `INSERT INTO session_recordings (` + recordingColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := s.pool.Exec(ctx, q,
		r.ID, r.SessionID, r.URL, r.ThumbnailURL, r.S3Key, r.Duration, r.Format,
		r.FileSize, r.Status, r.ViewCount, r.CreatedAt, r.UpdatedAt)
	return mapErr(err)
}

func (s *RecordingStore) Get(ctx context.Context, id uuid.UUID) (*models.Recording, error) {
	const q = `SELECT ` + recordingColumns + ` FROM session_recordings WHERE id = $1`
	return scanRecording(s.pool.QueryRow(ctx, q, id))
}

func (s *RecordingStore) GetBySession(ctx context.Context, sessionID uuid.UUID) (*models.Recording, error) {
	const q = `SELECT ` + recordingColumns + ` FROM session_recordings WHERE session_id = $1`
	return scanRecording(s.pool.QueryRow(ctx, q, sessionID))
}

func (s *RecordingStore) IncrementViews(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE session_recordings SET view_count = view_count + 1 WHERE id = $1`
	_, err := s.pool.Exec(ctx, q, id)
	return err
}

func scanRecording(row rowScanner) (*models.Recording, error) {
	var r models.Recording
	err := row.Scan(
		&r.ID, &r.SessionID, &r.URL, &r.ThumbnailURL, &r.S3Key, &r.Duration, &r.Format,
		&r.FileSize, &r.Status, &r.ViewCount, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}
