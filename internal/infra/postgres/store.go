package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"survival-quiz-service/internal/app"
	"survival-quiz-service/internal/domain"
)

const (
	pgUniqueViolation = "23505"

	activePINConstraint = "sessions_active_pin_key"
	nicknameConstraint  = "participants_session_id_nickname_norm_key"
)

// Store is the authoritative durable implementation of app.SessionStore.
// The two check-then-insert races of the engine are closed here, not in
// application code: nickname uniqueness by UNIQUE(session_id, nickname_norm)
// plus a capacity count under a session row lock, and answer idempotency by
// the (participant_id, question_id) primary key.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) CreateSession(ctx context.Context, session domain.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, pin, quiz_id, host_id, host_token, status,
			current_question_id, current_question_index, question_started_at,
			time_limit_sec, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		session.ID, session.PIN, session.QuizID, session.HostID, session.HostToken,
		string(session.Status), nullIfEmpty(session.CurrentQuestionID),
		session.CurrentQuestionIndex, nullIfZeroTime(session.QuestionStartedAt),
		session.TimeLimitSec, session.CreatedAt,
	)
	if isUniqueViolation(err, activePINConstraint) {
		return app.ErrPINConflict
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, pin string) (domain.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, pin, quiz_id, host_id, host_token, status,
			current_question_id, current_question_index, question_started_at,
			time_limit_sec, created_at
		FROM sessions WHERE pin = $1
		ORDER BY created_at DESC LIMIT 1`, pin)

	var (
		session    domain.Session
		status     string
		questionID *string
		startedAt  *time.Time
	)
	err := row.Scan(&session.ID, &session.PIN, &session.QuizID, &session.HostID,
		&session.HostToken, &status, &questionID, &session.CurrentQuestionIndex,
		&startedAt, &session.TimeLimitSec, &session.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("get session: %w", err)
	}
	session.Status = domain.SessionStatus(status)
	if questionID != nil {
		session.CurrentQuestionID = *questionID
	}
	if startedAt != nil {
		session.QuestionStartedAt = *startedAt
	}
	return session, nil
}

func (s *Store) UpdateSession(ctx context.Context, session domain.Session) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions
		SET status = $2, current_question_id = $3, current_question_index = $4,
			question_started_at = $5, time_limit_sec = $6
		WHERE id = $1`,
		session.ID, string(session.Status), nullIfEmpty(session.CurrentQuestionID),
		session.CurrentQuestionIndex, nullIfZeroTime(session.QuestionStartedAt),
		session.TimeLimitSec,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func (s *Store) AddParticipant(ctx context.Context, participant domain.Participant, capacity int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin join tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the session row so concurrent joins serialize on the capacity count.
	var sessionID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM sessions WHERE id = $1 FOR UPDATE`,
		participant.SessionID).Scan(&sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("lock session: %w", err)
	}

	var count int
	if err := tx.QueryRow(ctx,
		`SELECT count(*) FROM participants WHERE session_id = $1`,
		participant.SessionID).Scan(&count); err != nil {
		return fmt.Errorf("count participants: %w", err)
	}
	if count >= capacity {
		return domain.ErrCapacityExceeded
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO participants (id, session_id, nickname, nickname_norm,
			score, current_question_index, status, joined_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		participant.ID, participant.SessionID, participant.Nickname,
		app.NormalizeNickname(participant.Nickname), participant.Score,
		participant.CurrentQuestionIndex, string(participant.Status),
		participant.JoinedAt,
	)
	if isUniqueViolation(err, nicknameConstraint) {
		return domain.ErrNicknameTaken
	}
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit join: %w", err)
	}
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, sessionID, participantID string) (domain.Participant, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, session_id, nickname, score, current_question_index, status, joined_at
		FROM participants WHERE id = $1 AND session_id = $2`,
		participantID, sessionID)

	participant, err := scanParticipant(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	if err != nil {
		return domain.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	return participant, nil
}

func (s *Store) ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, nickname, score, current_question_index, status, joined_at
		FROM participants WHERE session_id = $1
		ORDER BY joined_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		participant, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, participant)
	}
	return participants, rows.Err()
}

func (s *Store) HasResponse(ctx context.Context, participantID, questionID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM responses WHERE participant_id = $1 AND question_id = $2
		)`, participantID, questionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check response: %w", err)
	}
	return exists, nil
}

func (s *Store) RecordResponse(ctx context.Context, response domain.Response, participant domain.Participant) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin submit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// ON CONFLICT DO NOTHING turns the double-submit race into a
	// deterministic reject: the loser sees zero rows affected.
	tag, err := tx.Exec(ctx, `
		INSERT INTO responses (participant_id, question_id, option_id,
			is_correct, points_earned, response_time_ms, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (participant_id, question_id) DO NOTHING`,
		response.ParticipantID, response.QuestionID, response.OptionID,
		response.Correct, response.PointsEarned, response.ResponseTimeMs,
		response.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateSubmission
	}

	tag, err = tx.Exec(ctx, `
		UPDATE participants
		SET score = $2, current_question_index = $3, status = $4
		WHERE id = $1`,
		participant.ID, participant.Score, participant.CurrentQuestionIndex,
		string(participant.Status),
	)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrParticipantNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit submit: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanParticipant(row rowScanner) (domain.Participant, error) {
	var (
		participant domain.Participant
		status      string
	)
	err := row.Scan(&participant.ID, &participant.SessionID, &participant.Nickname,
		&participant.Score, &participant.CurrentQuestionIndex, &status,
		&participant.JoinedAt)
	if err != nil {
		return domain.Participant{}, err
	}
	participant.Status = domain.ParticipantStatus(status)
	return participant, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == constraint
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
