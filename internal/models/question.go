package models

import (
	"time"

	"github.com/google/uuid"
)

// QuestionStatus is the moderation state of a Q&A question.
type QuestionStatus string

const (
	QuestionPending   QuestionStatus = "pending"
	QuestionAnswered  QuestionStatus = "answered"
	QuestionDismissed QuestionStatus = "dismissed"
)

// QuestionPriority is a host-assigned triage hint.
type QuestionPriority string

const (
	PriorityLow    QuestionPriority = "low"
	PriorityNormal QuestionPriority = "normal"
	PriorityHigh   QuestionPriority = "high"
)

// Question is an audience question in a session. UpvoteCount always equals
// the size of the upvoter set; upvoting is a set-membership toggle.
type Question struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	AskerID   uuid.UUID `json:"asker_id"`
	Text      string    `json:"text"`

	Status   QuestionStatus   `json:"status"`
	Priority QuestionPriority `json:"priority"`

	Answer     string     `json:"answer,omitempty"`
	AnsweredBy *uuid.UUID `json:"answered_by,omitempty"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`

	UpvoterIDs  []uuid.UUID `json:"upvoter_ids,omitempty"`
	UpvoteCount int         `json:"upvote_count"`
	IsPinned    bool        `json:"is_pinned"`
	IsVisible   bool        `json:"is_visible"`

	AskedAt   time.Time `json:"asked_at"`
	Version   int64     `json:"-"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasUpvoted reports whether userID is in the upvoter set.
func (q *Question) HasUpvoted(userID uuid.UUID) bool {
	for _, id := range q.UpvoterIDs {
		if id == userID {
			return true
		}
	}
	return false
}
