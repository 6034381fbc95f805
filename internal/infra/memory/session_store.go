package memory

import (
	"context"
	"sync"

	"survival-quiz-service/internal/app"
	"survival-quiz-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore used for
// development and tests. One mutex plays the role the relational constraints
// play in Postgres: the capacity check, the nickname claim and the response
// insert each happen inside a single critical section.
type SessionStore struct {
	mu        sync.RWMutex
	pins      map[string]string          // pin -> latest session ID
	sessions  map[string]*sessionState   // session ID -> state
	responses map[string]domain.Response // participantID+sep+questionID
}

type sessionState struct {
	session      domain.Session
	participants map[string]domain.Participant
	nicknames    map[string]string // normalized nickname -> participant ID
	joinOrder    []string
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		pins:      make(map[string]string),
		sessions:  make(map[string]*sessionState),
		responses: make(map[string]domain.Response),
	}
}

func (s *SessionStore) CreateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.pins[session.PIN]; ok {
		if existing, ok := s.sessions[existingID]; ok && existing.session.Status != domain.SessionFinished {
			return app.ErrPINConflict
		}
	}
	s.pins[session.PIN] = session.ID
	s.sessions[session.ID] = &sessionState{
		session:      session,
		participants: make(map[string]domain.Participant),
		nicknames:    make(map[string]string),
	}
	return nil
}

func (s *SessionStore) GetSession(_ context.Context, pin string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, err := s.statForPIN(pin)
	if err != nil {
		return domain.Session{}, err
	}
	return state.session, nil
}

func (s *SessionStore) UpdateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[session.ID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	state.session = session
	return nil
}

func (s *SessionStore) AddParticipant(_ context.Context, participant domain.Participant, capacity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[participant.SessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if len(state.participants) >= capacity {
		return domain.ErrCapacityExceeded
	}
	norm := app.NormalizeNickname(participant.Nickname)
	if _, taken := state.nicknames[norm]; taken {
		return domain.ErrNicknameTaken
	}

	state.participants[participant.ID] = participant
	state.nicknames[norm] = participant.ID
	state.joinOrder = append(state.joinOrder, participant.ID)
	return nil
}

func (s *SessionStore) GetParticipant(_ context.Context, sessionID, participantID string) (domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return domain.Participant{}, domain.ErrSessionNotFound
	}
	participant, ok := state.participants[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	return participant, nil
}

func (s *SessionStore) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	participants := make([]domain.Participant, 0, len(state.joinOrder))
	for _, id := range state.joinOrder {
		participants = append(participants, state.participants[id])
	}
	return participants, nil
}

func (s *SessionStore) HasResponse(_ context.Context, participantID, questionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.responses[responseKey(participantID, questionID)]
	return ok, nil
}

func (s *SessionStore) RecordResponse(_ context.Context, response domain.Response, participant domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := responseKey(response.ParticipantID, response.QuestionID)
	if _, exists := s.responses[key]; exists {
		return domain.ErrDuplicateSubmission
	}
	state, ok := s.sessions[participant.SessionID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if _, ok := state.participants[participant.ID]; !ok {
		return domain.ErrParticipantNotFound
	}

	s.responses[key] = response
	state.participants[participant.ID] = participant
	return nil
}

func (s *SessionStore) statForPIN(pin string) (*sessionState, error) {
	id, ok := s.pins[pin]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	state, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return state, nil
}

func responseKey(participantID, questionID string) string {
	return participantID + "\x00" + questionID
}
