package app

import (
	"context"
	"errors"

	"survival-quiz-service/internal/domain"
)

// ErrPINConflict is returned by SessionStore.CreateSession when the generated
// PIN collides with another active session; the service retries with a fresh PIN.
var ErrPINConflict = errors.New("pin already in use by an active session")

// SessionStore is the durable, authoritative record of sessions, participants
// and responses. Implementations must enforce two invariants atomically, not
// as application-level pre-checks:
//
//   - AddParticipant: nickname uniqueness per session plus the capacity cap,
//     inside one transaction (or one critical section).
//   - RecordResponse: at most one response per (participant, question),
//     rejecting the loser of a concurrent double-submit with
//     domain.ErrDuplicateSubmission.
type SessionStore interface {
	CreateSession(ctx context.Context, session domain.Session) error
	// GetSession resolves a PIN to its most recent session; finished sessions
	// stay readable for leaderboard queries.
	GetSession(ctx context.Context, pin string) (domain.Session, error)
	// UpdateSession persists host-driven state transitions. The host is the
	// only writer of session rows.
	UpdateSession(ctx context.Context, session domain.Session) error

	AddParticipant(ctx context.Context, participant domain.Participant, capacity int) error
	GetParticipant(ctx context.Context, sessionID, participantID string) (domain.Participant, error)
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)

	// HasResponse reports whether a response already exists; used to surface
	// DUPLICATE_SUBMISSION ahead of later guards. RecordResponse remains the
	// authoritative race closer.
	HasResponse(ctx context.Context, participantID, questionID string) (bool, error)
	// RecordResponse inserts the response and applies the participant's new
	// score/status in one atomic step. All-or-nothing: a duplicate leaves
	// both untouched.
	RecordResponse(ctx context.Context, response domain.Response, participant domain.Participant) error
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// EventBus is the per-session fan-out channel. Publish is best-effort,
// at-most-once; subscribers that fall behind lose the oldest event first.
type EventBus interface {
	Publish(ctx context.Context, event domain.Event) error
	// Subscribe returns a channel of events for one session topic. The caller
	// must invoke the returned cancel function to avoid leaks.
	Subscribe(ctx context.Context, pin string) (<-chan domain.Event, func(), error)
}
