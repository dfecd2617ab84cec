// Package domain defines the error taxonomy shared by the live-session,
// poll, and Q&A engines. Every rejected operation carries a stable kind
// plus a human-readable message so handlers can map it to a transport
// status without string matching.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a domain error.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindForbidden         Kind = "forbidden"
	KindInvalidState      Kind = "invalid_state"
	KindFeatureDisabled   Kind = "feature_disabled"
	KindInvalidSpec       Kind = "invalid_spec"
	KindInvalidOptions    Kind = "invalid_options"
	KindInvalidSelection  Kind = "invalid_selection"
	KindAlreadyExists     Kind = "already_exists"
	KindAlreadyRegistered Kind = "already_registered"
	KindAlreadyVoted      Kind = "already_voted"
	KindAlreadyEnded      Kind = "already_ended"
	KindFull              Kind = "full"
	KindDeadlinePassed    Kind = "deadline_passed"
	KindClosed            Kind = "closed"
	KindContention        Kind = "contention"
)

// Error is a domain validation error with a stable kind.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Msg }

// Is makes two domain errors equal when their kinds match, so callers can
// test with errors.Is(err, domain.ErrNotFound) regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// E builds a domain error with a formatted message.
func E(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is checks. Messages are placeholders; real errors
// built with E carry operation-specific messages.
var (
	ErrNotFound          = &Error{Kind: KindNotFound, Msg: "not found"}
	ErrForbidden         = &Error{Kind: KindForbidden, Msg: "forbidden"}
	ErrInvalidState      = &Error{Kind: KindInvalidState, Msg: "invalid state"}
	ErrFeatureDisabled   = &Error{Kind: KindFeatureDisabled, Msg: "feature disabled"}
	ErrInvalidSpec       = &Error{Kind: KindInvalidSpec, Msg: "invalid spec"}
	ErrInvalidOptions    = &Error{Kind: KindInvalidOptions, Msg: "invalid options"}
	ErrInvalidSelection  = &Error{Kind: KindInvalidSelection, Msg: "invalid selection"}
	ErrAlreadyExists     = &Error{Kind: KindAlreadyExists, Msg: "already exists"}
	ErrAlreadyRegistered = &Error{Kind: KindAlreadyRegistered, Msg: "already registered"}
	ErrAlreadyVoted      = &Error{Kind: KindAlreadyVoted, Msg: "already voted"}
	ErrAlreadyEnded      = &Error{Kind: KindAlreadyEnded, Msg: "already ended"}
	ErrFull              = &Error{Kind: KindFull, Msg: "full"}
	ErrDeadlinePassed    = &Error{Kind: KindDeadlinePassed, Msg: "deadline passed"}
	ErrClosed            = &Error{Kind: KindClosed, Msg: "closed"}
	ErrContention        = &Error{Kind: KindContention, Msg: "too much contention, try again"}
)

// KindOf returns the kind of err if it is a domain error, or "" otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
