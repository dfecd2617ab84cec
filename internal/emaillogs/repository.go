package emaillogs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coursedeck/backend/internal/models"
)

// Repository handles email_logs persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an email logs repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a pending email log row.
func (r *Repository) Create(ctx context.Context, el *models.EmailLog) error {
	if el.ID == uuid.Nil {
		el.ID = uuid.New()
	}
	if el.Status == "" {
		el.Status = models.EmailLogStatusPending
	}
	if el.CreatedAt.IsZero() {
		el.CreatedAt = time.Now()
	}
	const q = `INSERT INTO email_logs (id, user_id, session_id, kind, recipient, subject, status, error, sent_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.pool.Exec(ctx, q,
		el.ID, el.UserID, el.SessionID, el.Kind, el.RecipientEmail,
		el.Subject, el.Status, el.ErrorMessage, el.SentAt, el.CreatedAt)
	return err
}

// MarkSent flips a log row to sent with the delivery time.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE email_logs SET status = $2, sent_at = $3, error = '' WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, models.EmailLogStatusSent, at)
	return err
}

// MarkFailed records a delivery failure.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	const q = `UPDATE email_logs SET status = $2, error = $3 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, models.EmailLogStatusFailed, errMsg)
	return err
}

// ListBySession returns email logs for a session, newest first.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.EmailLog, error) {
	const q = `SELECT id, user_id, session_id, kind, recipient, subject, status, error, sent_at, created_at
		FROM email_logs
		WHERE session_id = $1
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.EmailLog
	for rows.Next() {
		var el models.EmailLog
		if err := rows.Scan(&el.ID, &el.UserID, &el.SessionID, &el.Kind, &el.RecipientEmail,
			&el.Subject, &el.Status, &el.ErrorMessage, &el.SentAt, &el.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &el)
	}
	return list, rows.Err()
}
