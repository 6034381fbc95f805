package domain

import "time"

// SessionStatus tracks the host-driven session lifecycle.
type SessionStatus string

const (
	SessionWaiting    SessionStatus = "waiting"
	SessionInProgress SessionStatus = "in_progress"
	SessionFinished   SessionStatus = "finished"
)

// ParticipantStatus is the survival state of a participant within one session.
// Eliminated is terminal; there is no recovery inside the same session.
type ParticipantStatus string

const (
	ParticipantActive     ParticipantStatus = "active"
	ParticipantEliminated ParticipantStatus = "eliminated"
)

// Option represents a possible answer for a question. The Correct flag never
// leaves the engine; client-facing payloads use OptionView.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models a single-choice question with exactly one correct option.
type Question struct {
	ID       string   `json:"id"`
	Prompt   string   `json:"prompt"`
	Options  []Option `json:"options"`
	TimerSec int      `json:"timerSec"` // advisory countdown, defaults to 30 if zero
	Points   int      `json:"points"`   // authored value; survival scoring awards a flat point
	MediaURL string   `json:"mediaUrl,omitempty"`
	Order    int      `json:"order"`
}

// Quiz is an ordered collection of questions, immutable while a session runs.
type Quiz struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"ownerId"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Session is one live run of a quiz, addressed by a short PIN that is unique
// among active sessions. Only host operations mutate it.
type Session struct {
	ID                   string
	PIN                  string
	QuizID               string
	HostID               string
	HostToken            string
	Status               SessionStatus
	CurrentQuestionID    string // empty until the first question is pushed
	CurrentQuestionIndex int    // -1 until the first question is pushed
	QuestionStartedAt    time.Time
	TimeLimitSec         int
	CreatedAt            time.Time
}

// Participant belongs to exactly one session. Nickname is unique per session
// after normalization; Score never decreases.
type Participant struct {
	ID                   string
	SessionID            string
	Nickname             string
	Score                int
	CurrentQuestionIndex int
	Status               ParticipantStatus
	JoinedAt             time.Time
}

// Response records one participant's answer to one question. At most one
// response exists per (participant, question) pair.
type Response struct {
	ParticipantID  string
	QuestionID     string
	OptionID       string
	Correct        bool
	PointsEarned   int
	ResponseTimeMs int64
	SubmittedAt    time.Time
}

// SubmissionResult summarizes the outcome of an answer for the submitter.
type SubmissionResult struct {
	Correct      bool              `json:"isCorrect"`
	PointsEarned int               `json:"pointsEarned"`
	Status       ParticipantStatus `json:"status"`
	TotalScore   int               `json:"totalScore"`
}

// OptionView is an option with the answer key stripped.
type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuestionView is the participant-facing projection of a question.
type QuestionView struct {
	ID       string       `json:"id"`
	Prompt   string       `json:"prompt"`
	Options  []OptionView `json:"options"`
	TimerSec int          `json:"timerSec"`
	MediaURL string       `json:"mediaUrl,omitempty"`
	Order    int          `json:"order"`
}

// View strips the correct-option flag from a question payload.
func (q Question) View() QuestionView {
	options := make([]OptionView, 0, len(q.Options))
	for _, opt := range q.Options {
		options = append(options, OptionView{ID: opt.ID, Text: opt.Text})
	}
	timer := q.TimerSec
	if timer == 0 {
		timer = 30
	}
	return QuestionView{
		ID:       q.ID,
		Prompt:   q.Prompt,
		Options:  options,
		TimerSec: timer,
		MediaURL: q.MediaURL,
		Order:    q.Order,
	}
}

// ParticipantStateKind enumerates what a participant should be shown right now.
type ParticipantStateKind string

const (
	StateWaitingHost ParticipantStateKind = "waiting_host"
	StateActive      ParticipantStateKind = "active"
	StateEliminated  ParticipantStateKind = "eliminated"
	StateFinished    ParticipantStateKind = "finished"
)

// ParticipantState is the authoritative pull answer to "what is my current
// question". It is derived purely from durable state so a missed push event
// never strands a client.
type ParticipantState struct {
	Kind         ParticipantStateKind `json:"state"`
	Question     *QuestionView        `json:"question,omitempty"`
	TimeLimitSec int                  `json:"timeLimitSec,omitempty"`
	Score        int                  `json:"score"`
}

// LeaderboardEntry is a snapshot-friendly view of a participant.
type LeaderboardEntry struct {
	ParticipantID string            `json:"participantId"`
	Nickname      string            `json:"nickname"`
	Score         int               `json:"score"`
	Status        ParticipantStatus `json:"status"`
}

// Leaderboard captures the ordered scoreboard for one session.
type Leaderboard struct {
	PIN       string             `json:"pin"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// Event names pushed on the per-session topic.
const (
	EventPlayerJoined    = "player-joined"
	EventNewQuestion     = "new-question"
	EventAnswerSubmitted = "answer-submitted"
	EventSessionFinished = "session-finished"
)

// Event is the envelope fanned out on a session topic. Delivery is
// best-effort; durable state remains the source of truth.
type Event struct {
	Type    string `json:"type"`
	PIN     string `json:"pin"`
	Payload any    `json:"payload"`
}

// PlayerJoinedPayload announces a new participant to the session.
type PlayerJoinedPayload struct {
	ParticipantID    string `json:"participantId"`
	Nickname         string `json:"nickname"`
	ParticipantCount int    `json:"participantCount"`
}

// NewQuestionPayload carries the pushed question with the answer key stripped.
type NewQuestionPayload struct {
	Index        int          `json:"index"`
	Question     QuestionView `json:"question"`
	TimeLimitSec int          `json:"timeLimitSec"`
}

// AnswerSubmittedPayload reports a scored submission to the host view.
type AnswerSubmittedPayload struct {
	ParticipantID  string            `json:"participantId"`
	Nickname       string            `json:"nickname"`
	Correct        bool              `json:"isCorrect"`
	PointsEarned   int               `json:"pointsEarned"`
	ResponseTimeMs int64             `json:"responseTimeMs"`
	Status         ParticipantStatus `json:"status"`
}

// SessionFinishedPayload carries the final scoreboard.
type SessionFinishedPayload struct {
	Leaderboard Leaderboard `json:"leaderboard"`
}
