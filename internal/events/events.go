// Package events defines the broadcaster contract between the engine and
// the realtime transport. Mutations commit first; publishing is
// fire-and-forget, so a slow or failed fan-out never blocks or rolls back
// a state change.
package events

import "github.com/google/uuid"

// Event names emitted by the engine. For one sub-entity, delivery order
// follows commit order; events about unrelated sub-entities may interleave.
const (
	SessionStarted    = "session_started"
	SessionEnded      = "session_ended"
	ParticipantJoined = "participant_joined"
	ParticipantLeft   = "participant_left"
	PollCreated       = "poll_created"
	PollUpdated       = "poll_updated"
	PollClosed        = "poll_closed"
	QuestionAsked     = "question_asked"
	QuestionAnswered  = "question_answered"
	QuestionUpdated   = "question_updated"
)

// Broadcaster fans an event out to the connected clients of one session.
type Broadcaster interface {
	Publish(sessionID uuid.UUID, event string, payload interface{})
}

// Nop is a Broadcaster that discards everything.
type Nop struct{}

// Publish implements Broadcaster.
func (Nop) Publish(uuid.UUID, string, interface{}) {}
