package models

import (
	"time"

	"github.com/google/uuid"
)

// Recording processing status.
const (
	RecordingStatusProcessing = "processing"
	RecordingStatusReady      = "ready"
	RecordingStatusFailed     = "failed"
)

// Recording is the stored replay of an ended session (1:1). It is produced
// by an external processing collaborator after the session ends; the engine
// only attaches and reads the reference.
type Recording struct {
	ID           uuid.UUID `json:"id"`
	SessionID    uuid.UUID `json:"session_id"`
	URL          string    `json:"url,omitempty"`
	ThumbnailURL string    `json:"thumbnail_url,omitempty"`
	S3Key        string    `json:"s3_key,omitempty"`
	Duration     int       `json:"duration"` // seconds
	Format       string    `json:"format,omitempty"`
	FileSize     int64     `json:"file_size"`
	Status       string    `json:"status"`
	ViewCount    int       `json:"view_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
