package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"survival-quiz-service/internal/domain"
)

const (
	// DefaultCapacity is the hard cap on participants per session.
	DefaultCapacity = 100
	// DefaultPINLength is the number of digits in a session PIN.
	DefaultPINLength = 6

	maxNicknameLen = 50
	pinAttempts    = 10
)

// SessionService contains the live quiz session use cases: admission, the
// host-driven state machine, answer evaluation and the read-only projections.
// It holds no session state of its own; the store is the single source of truth.
type SessionService struct {
	store    SessionStore
	quizzes  QuizRepository
	events   EventBus
	capacity int
	pinLen   int
	now      func() time.Time
}

// Option tunes a SessionService; used by tests and wiring.
type Option func(*SessionService)

// WithCapacity overrides the participant cap.
func WithCapacity(n int) Option {
	return func(s *SessionService) { s.capacity = n }
}

// WithPINLength overrides the PIN digit count.
func WithPINLength(n int) Option {
	return func(s *SessionService) { s.pinLen = n }
}

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *SessionService) { s.now = now }
}

func NewSessionService(store SessionStore, quizzes QuizRepository, events EventBus, opts ...Option) *SessionService {
	s := &SessionService{
		store:    store,
		quizzes:  quizzes,
		events:   events,
		capacity: DefaultCapacity,
		pinLen:   DefaultPINLength,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession starts a live session over a quiz and returns it with the PIN
// participants join by and the token that authorizes host operations.
func (s *SessionService) CreateSession(ctx context.Context, quizID, hostID string) (domain.Session, error) {
	if _, err := s.quizzes.GetQuiz(ctx, quizID); err != nil {
		return domain.Session{}, err
	}

	session := domain.Session{
		ID:                   uuid.NewString(),
		QuizID:               quizID,
		HostID:               hostID,
		HostToken:            uuid.NewString(),
		Status:               domain.SessionWaiting,
		CurrentQuestionIndex: -1,
		CreatedAt:            s.now(),
	}

	for attempt := 0; attempt < pinAttempts; attempt++ {
		pin, err := generatePIN(s.pinLen)
		if err != nil {
			return domain.Session{}, fmt.Errorf("generate pin: %w", err)
		}
		session.PIN = pin
		err = s.store.CreateSession(ctx, session)
		if err == nil {
			return session, nil
		}
		if err != ErrPINConflict {
			return domain.Session{}, err
		}
	}
	return domain.Session{}, fmt.Errorf("could not allocate a unique pin after %d attempts", pinAttempts)
}

// Join admits a participant into the session identified by pin. Capacity and
// nickname uniqueness are enforced atomically by the store; two concurrent
// joins with the same nickname resolve to exactly one winner.
func (s *SessionService) Join(ctx context.Context, pin, nickname string) (domain.Participant, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" || len([]rune(nickname)) > maxNicknameLen {
		return domain.Participant{}, domain.ErrInvalidNickname
	}

	session, err := s.store.GetSession(ctx, pin)
	if err != nil {
		return domain.Participant{}, err
	}
	if session.Status == domain.SessionFinished {
		return domain.Participant{}, domain.ErrSessionNotActive
	}

	participant := domain.Participant{
		ID:                   uuid.NewString(),
		SessionID:            session.ID,
		Nickname:             nickname,
		Score:                0,
		CurrentQuestionIndex: 0,
		Status:               domain.ParticipantActive,
		JoinedAt:             s.now(),
	}
	if err := s.store.AddParticipant(ctx, participant, s.capacity); err != nil {
		return domain.Participant{}, err
	}

	count := 0
	if all, err := s.store.ListParticipants(ctx, session.ID); err == nil {
		count = len(all)
	}
	s.publish(ctx, domain.Event{
		Type: domain.EventPlayerJoined,
		PIN:  pin,
		Payload: domain.PlayerJoinedPayload{
			ParticipantID:    participant.ID,
			Nickname:         participant.Nickname,
			ParticipantCount: count,
		},
	})
	return participant, nil
}

// AdvanceToQuestion is host-only. It points the session at the question with
// the given order index, stamps the question start time and forces the session
// into in_progress. The pushed payload never carries the answer key.
func (s *SessionService) AdvanceToQuestion(ctx context.Context, pin, hostToken string, questionIndex int) (domain.QuestionView, error) {
	session, err := s.store.GetSession(ctx, pin)
	if err != nil {
		return domain.QuestionView{}, err
	}
	if err := authorizeHost(session, hostToken); err != nil {
		return domain.QuestionView{}, err
	}
	if session.Status == domain.SessionFinished {
		return domain.QuestionView{}, domain.ErrSessionNotActive
	}

	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.QuestionView{}, err
	}
	questions := orderedQuestions(quiz)
	if questionIndex < 0 || questionIndex >= len(questions) {
		return domain.QuestionView{}, domain.ErrQuestionNotFound
	}
	question := questions[questionIndex]
	view := question.View()

	session.Status = domain.SessionInProgress
	session.CurrentQuestionID = question.ID
	session.CurrentQuestionIndex = questionIndex
	session.QuestionStartedAt = s.now()
	session.TimeLimitSec = view.TimerSec
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return domain.QuestionView{}, err
	}

	s.publish(ctx, domain.Event{
		Type: domain.EventNewQuestion,
		PIN:  pin,
		Payload: domain.NewQuestionPayload{
			Index:        questionIndex,
			Question:     view,
			TimeLimitSec: view.TimerSec,
		},
	})
	return view, nil
}

// Finish is host-only and terminal. Calling it on an already finished session
// just returns the final leaderboard again.
func (s *SessionService) Finish(ctx context.Context, pin, hostToken string) (domain.Leaderboard, error) {
	session, err := s.store.GetSession(ctx, pin)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	if err := authorizeHost(session, hostToken); err != nil {
		return domain.Leaderboard{}, err
	}

	if session.Status != domain.SessionFinished {
		session.Status = domain.SessionFinished
		if err := s.store.UpdateSession(ctx, session); err != nil {
			return domain.Leaderboard{}, err
		}
	}

	lb, err := s.leaderboard(ctx, session)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	s.publish(ctx, domain.Event{
		Type:    domain.EventSessionFinished,
		PIN:     pin,
		Payload: domain.SessionFinishedPayload{Leaderboard: lb},
	})
	return lb, nil
}

// SubmitAnswer evaluates one participant's answer against the currently
// active question. Evaluation is all-or-nothing: every rejection below
// happens before any write, and the duplicate guard is backed by the store's
// primary key so a concurrent double-submit scores at most once.
func (s *SessionService) SubmitAnswer(ctx context.Context, pin, participantID, questionID, optionID string, responseTimeMs int64) (domain.SubmissionResult, error) {
	session, err := s.store.GetSession(ctx, pin)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	if session.Status != domain.SessionInProgress {
		return domain.SubmissionResult{}, domain.ErrSessionNotActive
	}

	participant, err := s.store.GetParticipant(ctx, session.ID, participantID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	if questionID != session.CurrentQuestionID {
		return domain.SubmissionResult{}, domain.ErrStaleQuestion
	}

	// Duplicate detection precedes the elimination guard so that a retry of
	// the eliminating answer reports DUPLICATE_SUBMISSION, not a new failure.
	if dup, err := s.store.HasResponse(ctx, participantID, questionID); err != nil {
		return domain.SubmissionResult{}, err
	} else if dup {
		return domain.SubmissionResult{}, domain.ErrDuplicateSubmission
	}
	if participant.Status == domain.ParticipantEliminated {
		return domain.SubmissionResult{}, domain.ErrParticipantEliminated
	}

	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}
	option, err := resolveOption(quiz, questionID, optionID)
	if err != nil {
		return domain.SubmissionResult{}, err
	}

	if responseTimeMs < 0 {
		responseTimeMs = 0
	}
	points := 0
	if option.Correct {
		points = 1
		participant.Score += points
		participant.CurrentQuestionIndex++
	} else {
		participant.Status = domain.ParticipantEliminated
	}

	response := domain.Response{
		ParticipantID:  participantID,
		QuestionID:     questionID,
		OptionID:       optionID,
		Correct:        option.Correct,
		PointsEarned:   points,
		ResponseTimeMs: responseTimeMs,
		SubmittedAt:    s.now(),
	}
	if err := s.store.RecordResponse(ctx, response, participant); err != nil {
		return domain.SubmissionResult{}, err
	}

	s.publish(ctx, domain.Event{
		Type: domain.EventAnswerSubmitted,
		PIN:  pin,
		Payload: domain.AnswerSubmittedPayload{
			ParticipantID:  participantID,
			Nickname:       participant.Nickname,
			Correct:        option.Correct,
			PointsEarned:   points,
			ResponseTimeMs: responseTimeMs,
			Status:         participant.Status,
		},
	})

	return domain.SubmissionResult{
		Correct:      option.Correct,
		PointsEarned: points,
		Status:       participant.Status,
		TotalScore:   participant.Score,
	}, nil
}

// CurrentQuestionFor derives the participant-visible state purely from
// durable data, which is what keeps the push channel advisory: a client that
// missed every event still gets a correct answer here.
func (s *SessionService) CurrentQuestionFor(ctx context.Context, pin, participantID string) (domain.ParticipantState, error) {
	session, err := s.store.GetSession(ctx, pin)
	if err != nil {
		return domain.ParticipantState{}, err
	}
	participant, err := s.store.GetParticipant(ctx, session.ID, participantID)
	if err != nil {
		return domain.ParticipantState{}, err
	}

	if participant.Status == domain.ParticipantEliminated {
		return domain.ParticipantState{Kind: domain.StateEliminated, Score: participant.Score}, nil
	}
	if session.Status == domain.SessionFinished {
		return domain.ParticipantState{Kind: domain.StateFinished, Score: participant.Score}, nil
	}
	if session.Status == domain.SessionWaiting || session.CurrentQuestionID == "" {
		return domain.ParticipantState{Kind: domain.StateWaitingHost, Score: participant.Score}, nil
	}
	if participant.CurrentQuestionIndex > session.CurrentQuestionIndex {
		// Already answered the current question; nothing to show until the
		// host advances.
		return domain.ParticipantState{Kind: domain.StateWaitingHost, Score: participant.Score}, nil
	}

	quiz, err := s.quizzes.GetQuiz(ctx, session.QuizID)
	if err != nil {
		return domain.ParticipantState{}, err
	}
	questions := orderedQuestions(quiz)
	if session.CurrentQuestionIndex < 0 || session.CurrentQuestionIndex >= len(questions) {
		return domain.ParticipantState{Kind: domain.StateWaitingHost, Score: participant.Score}, nil
	}
	view := questions[session.CurrentQuestionIndex].View()
	return domain.ParticipantState{
		Kind:         domain.StateActive,
		Question:     &view,
		TimeLimitSec: session.TimeLimitSec,
		Score:        participant.Score,
	}, nil
}

// GetSessionSnapshot returns the durable session row for a PIN. Host views
// and tests read lifecycle state through this.
func (s *SessionService) GetSessionSnapshot(ctx context.Context, pin string) (domain.Session, error) {
	return s.store.GetSession(ctx, pin)
}

// Leaderboard aggregates the scoreboard for a session, live or finished.
func (s *SessionService) Leaderboard(ctx context.Context, pin string) (domain.Leaderboard, error) {
	session, err := s.store.GetSession(ctx, pin)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return s.leaderboard(ctx, session)
}

// Subscribe attaches to the session's fan-out topic.
func (s *SessionService) Subscribe(ctx context.Context, pin string) (<-chan domain.Event, func(), error) {
	if _, err := s.store.GetSession(ctx, pin); err != nil {
		return nil, nil, err
	}
	return s.events.Subscribe(ctx, pin)
}

func (s *SessionService) leaderboard(ctx context.Context, session domain.Session) (domain.Leaderboard, error) {
	participants, err := s.store.ListParticipants(ctx, session.ID)
	if err != nil {
		return domain.Leaderboard{}, err
	}

	entries := make([]domain.LeaderboardEntry, 0, len(participants))
	byID := make(map[string]domain.Participant, len(participants))
	for _, p := range participants {
		byID[p.ID] = p
		entries = append(entries, domain.LeaderboardEntry{
			ParticipantID: p.ID,
			Nickname:      p.Nickname,
			Score:         p.Score,
			Status:        p.Status,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		pi, pj := byID[entries[i].ParticipantID], byID[entries[j].ParticipantID]
		if !pi.JoinedAt.Equal(pj.JoinedAt) {
			return pi.JoinedAt.Before(pj.JoinedAt)
		}
		return entries[i].Nickname < entries[j].Nickname
	})

	return domain.Leaderboard{
		PIN:       session.PIN,
		Entries:   entries,
		UpdatedAt: s.now(),
	}, nil
}

// publish is fire-and-forget: the fan-out channel is a latency optimization,
// never a correctness dependency, so a failed publish does not fail the write.
func (s *SessionService) publish(ctx context.Context, event domain.Event) {
	_ = s.events.Publish(ctx, event)
}

func authorizeHost(session domain.Session, token string) error {
	if token == "" || token != session.HostToken {
		return domain.ErrUnauthorized
	}
	return nil
}

func orderedQuestions(quiz domain.Quiz) []domain.Question {
	questions := make([]domain.Question, len(quiz.Questions))
	copy(questions, quiz.Questions)
	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Order < questions[j].Order
	})
	return questions
}

func resolveOption(quiz domain.Quiz, questionID, optionID string) (domain.Option, error) {
	for i := range quiz.Questions {
		if quiz.Questions[i].ID != questionID {
			continue
		}
		for _, opt := range quiz.Questions[i].Options {
			if opt.ID == optionID {
				return opt, nil
			}
		}
		return domain.Option{}, domain.ErrInvalidAnswer
	}
	return domain.Option{}, domain.ErrInvalidAnswer
}

// NormalizeNickname is the uniqueness key for nicknames: outer whitespace
// trimmed, compared case-insensitively. The display form keeps its casing.
func NormalizeNickname(nickname string) string {
	return strings.ToLower(strings.TrimSpace(nickname))
}

func generatePIN(length int) (string, error) {
	const digits = "0123456789"
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = digits[int(b)%len(digits)]
	}
	return string(buf), nil
}
