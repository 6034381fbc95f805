package http

import (
	"encoding/json"
	"log"
	"net/http"

	"survival-quiz-service/internal/app"
	"survival-quiz-service/internal/domain"
)

// RESTHandler is the authoritative pull surface. Every answer here is derived
// from durable state, which is what makes the websocket push advisory.
type RESTHandler struct {
	service *app.SessionService
}

func NewRESTHandler(service *app.SessionService) *RESTHandler {
	return &RESTHandler{service: service}
}

// Register mounts the JSON routes on the mux.
func (h *RESTHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /sessions", h.createSession)
	mux.HandleFunc("POST /sessions/join", h.join)
	mux.HandleFunc("POST /sessions/answers", h.submitAnswer)
	mux.HandleFunc("POST /sessions/advance", h.advance)
	mux.HandleFunc("POST /sessions/finish", h.finish)
	mux.HandleFunc("GET /sessions/state", h.currentQuestion)
	mux.HandleFunc("GET /sessions/leaderboard", h.leaderboard)
}

type createSessionRequest struct {
	QuizID string `json:"quizId"`
	HostID string `json:"hostId"`
}

type createSessionResponse struct {
	PIN       string `json:"pin"`
	HostToken string `json:"hostToken"`
}

func (h *RESTHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	session, err := h.service.CreateSession(r.Context(), req.QuizID, req.HostID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{
		PIN:       session.PIN,
		HostToken: session.HostToken,
	})
}

type joinRequest struct {
	PIN      string `json:"pin"`
	Nickname string `json:"nickname"`
}

type joinResponse struct {
	ParticipantID string `json:"participantId"`
	Nickname      string `json:"nickname"`
}

func (h *RESTHandler) join(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decodeBody(w, r, &req) {
		return
	}
	participant, err := h.service.Join(r.Context(), req.PIN, req.Nickname)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, joinResponse{
		ParticipantID: participant.ID,
		Nickname:      participant.Nickname,
	})
}

type submitAnswerRequest struct {
	PIN            string `json:"pin"`
	ParticipantID  string `json:"participantId"`
	QuestionID     string `json:"questionId"`
	OptionID       string `json:"optionId"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
}

func (h *RESTHandler) submitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitAnswerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := h.service.SubmitAnswer(r.Context(), req.PIN, req.ParticipantID,
		req.QuestionID, req.OptionID, req.ResponseTimeMs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type advanceRequest struct {
	PIN           string `json:"pin"`
	HostToken     string `json:"hostToken"`
	QuestionIndex int    `json:"questionIndex"`
}

type advanceResponse struct {
	QuestionID string              `json:"questionId"`
	Question   domain.QuestionView `json:"question"`
}

func (h *RESTHandler) advance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	view, err := h.service.AdvanceToQuestion(r.Context(), req.PIN, req.HostToken, req.QuestionIndex)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, advanceResponse{QuestionID: view.ID, Question: view})
}

type finishRequest struct {
	PIN       string `json:"pin"`
	HostToken string `json:"hostToken"`
}

func (h *RESTHandler) finish(w http.ResponseWriter, r *http.Request) {
	var req finishRequest
	if !decodeBody(w, r, &req) {
		return
	}
	lb, err := h.service.Finish(r.Context(), req.PIN, req.HostToken)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func (h *RESTHandler) currentQuestion(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("pin")
	participantID := r.URL.Query().Get("participantId")
	if pin == "" || participantID == "" {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_REQUEST", "pin and participantId are required")
		return
	}
	state, err := h.service.CurrentQuestionFor(r.Context(), pin, participantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *RESTHandler) leaderboard(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("pin")
	if pin == "" {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_REQUEST", "pin is required")
		return
	}
	lb, err := h.service.Leaderboard(r.Context(), pin)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorCode(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body")
		return false
	}
	return true
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorPayload{Code: code, Message: message}})
}

// writeError maps business errors to stable codes; anything unrecognized is a
// transport/storage fault and surfaces as 500 without leaking details.
func writeError(w http.ResponseWriter, err error) {
	code := domain.ErrorCode(err)
	if code == "INTERNAL" {
		log.Printf("internal error: %v", err)
		writeErrorCode(w, http.StatusInternalServerError, code, "internal error")
		return
	}
	writeErrorCode(w, statusFor(code), code, err.Error())
}

func statusFor(code string) int {
	switch code {
	case "NOT_FOUND", "QUESTION_NOT_FOUND":
		return http.StatusNotFound
	case "CAPACITY_EXCEEDED", "NICKNAME_TAKEN", "SESSION_NOT_ACTIVE",
		"DUPLICATE_SUBMISSION", "STALE_QUESTION", "PARTICIPANT_ELIMINATED":
		return http.StatusConflict
	case "INVALID_ANSWER", "INVALID_NICKNAME":
		return http.StatusUnprocessableEntity
	case "UNAUTHORIZED":
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
