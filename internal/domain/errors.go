package domain

import "errors"

var (
	// ErrSessionNotFound is returned when no session exists for a PIN.
	ErrSessionNotFound = errors.New("session not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrQuestionNotFound indicates a question index is out of range.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrParticipantNotFound is returned when a participant ID is unknown to the session.
	ErrParticipantNotFound = errors.New("participant not found in session")
	// ErrCapacityExceeded rejects joins once the session is full.
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	// ErrNicknameTaken rejects joins with a nickname already claimed in the session.
	ErrNicknameTaken = errors.New("nickname already taken")
	// ErrInvalidNickname rejects empty or oversized nicknames.
	ErrInvalidNickname = errors.New("invalid nickname")
	// ErrSessionNotActive rejects writes against a session that is not accepting them.
	ErrSessionNotActive = errors.New("session not active")
	// ErrDuplicateSubmission rejects a second answer for the same question.
	ErrDuplicateSubmission = errors.New("answer already submitted for question")
	// ErrInvalidAnswer indicates the submitted option or question does not exist.
	ErrInvalidAnswer = errors.New("invalid answer")
	// ErrStaleQuestion rejects answers for a question the host has moved past.
	ErrStaleQuestion = errors.New("question no longer active")
	// ErrParticipantEliminated rejects answers from an eliminated participant.
	ErrParticipantEliminated = errors.New("participant eliminated")
	// ErrUnauthorized rejects host-only operations without a valid host token.
	ErrUnauthorized = errors.New("not authorized for host operation")
)

// ErrorCode maps a business error to its stable wire code. Unknown errors map
// to INTERNAL and should be treated as transport/storage faults.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrQuizNotFound),
		errors.Is(err, ErrParticipantNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrQuestionNotFound):
		return "QUESTION_NOT_FOUND"
	case errors.Is(err, ErrCapacityExceeded):
		return "CAPACITY_EXCEEDED"
	case errors.Is(err, ErrNicknameTaken):
		return "NICKNAME_TAKEN"
	case errors.Is(err, ErrInvalidNickname):
		return "INVALID_NICKNAME"
	case errors.Is(err, ErrSessionNotActive):
		return "SESSION_NOT_ACTIVE"
	case errors.Is(err, ErrDuplicateSubmission):
		return "DUPLICATE_SUBMISSION"
	case errors.Is(err, ErrInvalidAnswer):
		return "INVALID_ANSWER"
	case errors.Is(err, ErrStaleQuestion):
		return "STALE_QUESTION"
	case errors.Is(err, ErrParticipantEliminated):
		return "PARTICIPANT_ELIMINATED"
	case errors.Is(err, ErrUnauthorized):
		return "UNAUTHORIZED"
	default:
		return "INTERNAL"
	}
}
