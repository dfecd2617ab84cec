package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// PollOptionResult is the live tally for one poll option.
type PollOptionResult struct {
	Text       string `json:"text"`
	Votes      int    `json:"votes"`
	Percentage int    `json:"percentage"`
}

// Poll is an in-session poll. Results are keyed by option index rather than
// held as a parallel array, since option identity matters more than array
// position.
type Poll struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	CreatorID uuid.UUID `json:"creator_id"`

	Question         string   `json:"question"`
	Options          []string `json:"options"`
	IsMultipleChoice bool     `json:"is_multiple_choice"`
	IsAnonymous      bool     `json:"is_anonymous"`

	// Results holds one entry per option index. TotalVotes counts distinct
	// voters, so per-option tallies can sum above it on multiple-choice
	// polls.
	Results    map[int]*PollOptionResult `json:"results"`
	TotalVotes int                       `json:"total_votes"`

	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds int        `json:"duration_seconds,omitempty"` // 0 = no auto-close
	IsActive        bool       `json:"is_active"`
	IsEnded         bool       `json:"is_ended"`

	Version   int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// RecomputePercentages refreshes every option's percentage from the current
// tallies. Percentages are rounded independently per option; they are 0
// when there are no votes and are not renormalized to sum to 100.
func (p *Poll) RecomputePercentages() {
	for _, r := range p.Results {
		if p.TotalVotes == 0 {
			r.Percentage = 0
			continue
		}
		r.Percentage = int(math.Round(float64(r.Votes) / float64(p.TotalVotes) * 100))
	}
}

// PollVote is one user's vote on one poll. Uniqueness per (poll, user) is a
// store-level constraint, not just application logic.
type PollVote struct {
	ID              uuid.UUID `json:"id"`
	PollID          uuid.UUID `json:"poll_id"`
	SessionID       uuid.UUID `json:"session_id"`
	UserID          uuid.UUID `json:"user_id"`
	SelectedOptions []int     `json:"selected_options"`
	VotedAt         time.Time `json:"voted_at"`
}
