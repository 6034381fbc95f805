package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"survival-quiz-service/internal/app"
	"survival-quiz-service/internal/domain"
)

// WSHandler upgrades clients onto the session's fan-out topic. Players join
// with a nickname (or resume with a participant ID) and may submit answers;
// the host connects with its token and drives the question progression.
// Everything pushed here is advisory: clients that drop the socket recover
// via the REST state query.
type WSHandler struct {
	service  *app.SessionService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.SessionService) *WSHandler {
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID     string `json:"questionId"`
	OptionID       string `json:"optionId"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
}

type advancePayload struct {
	QuestionIndex int `json:"questionIndex"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type joinedPayload struct {
	ParticipantID string `json:"participantId"`
	Nickname      string `json:"nickname"`
	PIN           string `json:"pin"`
}

// ServeWS upgrades the request and wires the connection into the session.
//
//	player: /ws?pin=123456&nickname=Ali      (joins on connect)
//	resume: /ws?pin=123456&participantId=... (rejoins after a drop)
//	host:   /ws?pin=123456&role=host&token=...
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	pin := r.URL.Query().Get("pin")
	if pin == "" {
		http.Error(w, "missing pin", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	if r.URL.Query().Get("role") == "host" {
		h.serveHost(conn, r, pin)
		return
	}
	h.servePlayer(conn, r, pin)
}

func (h *WSHandler) servePlayer(conn *websocket.Conn, r *http.Request, pin string) {
	ctx := r.Context()
	nickname := r.URL.Query().Get("nickname")
	participantID := r.URL.Query().Get("participantId")

	switch {
	case participantID != "":
		// Resuming; nothing to create.
	case nickname != "":
		participant, err := h.service.Join(ctx, pin, nickname)
		if err != nil {
			writeBusinessError(conn, err)
			return
		}
		participantID = participant.ID
		nickname = participant.Nickname
	default:
		writeBusinessError(conn, domain.ErrInvalidNickname)
		return
	}

	state, err := h.service.CurrentQuestionFor(ctx, pin, participantID)
	if err != nil {
		writeBusinessError(conn, err)
		return
	}

	send, finish, ok := h.startPump(conn, ctx, pin)
	if !ok {
		return
	}
	defer finish()

	send <- outboundMessage{Type: "joined", Payload: joinedPayload{
		ParticipantID: participantID,
		Nickname:      nickname,
		PIN:           pin,
	}}
	send <- outboundMessage{Type: "state", Payload: state}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorMessage("INVALID_PAYLOAD", "invalid answer payload")
				continue
			}
			result, err := h.service.SubmitAnswer(ctx, pin, participantID,
				payload.QuestionID, payload.OptionID, payload.ResponseTimeMs)
			if err != nil {
				send <- errorMessage(domain.ErrorCode(err), err.Error())
				continue
			}
			send <- outboundMessage{Type: "answerResult", Payload: result}
		case "state":
			state, err := h.service.CurrentQuestionFor(ctx, pin, participantID)
			if err != nil {
				send <- errorMessage(domain.ErrorCode(err), err.Error())
				continue
			}
			send <- outboundMessage{Type: "state", Payload: state}
		default:
			send <- errorMessage("UNSUPPORTED", "unsupported message type")
		}
	}
}

func (h *WSHandler) serveHost(conn *websocket.Conn, r *http.Request, pin string) {
	ctx := r.Context()
	token := r.URL.Query().Get("token")
	if token == "" {
		writeBusinessError(conn, domain.ErrUnauthorized)
		return
	}

	lb, err := h.service.Leaderboard(ctx, pin)
	if err != nil {
		writeBusinessError(conn, err)
		return
	}

	send, finish, ok := h.startPump(conn, ctx, pin)
	if !ok {
		return
	}
	defer finish()

	send <- outboundMessage{Type: "leaderboard", Payload: lb}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "advance":
			var payload advancePayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorMessage("INVALID_PAYLOAD", "invalid advance payload")
				continue
			}
			view, err := h.service.AdvanceToQuestion(ctx, pin, token, payload.QuestionIndex)
			if err != nil {
				send <- errorMessage(domain.ErrorCode(err), err.Error())
				continue
			}
			send <- outboundMessage{Type: "questionAdvanced", Payload: view}
		case "finish":
			lb, err := h.service.Finish(ctx, pin, token)
			if err != nil {
				send <- errorMessage(domain.ErrorCode(err), err.Error())
				continue
			}
			send <- outboundMessage{Type: "finished", Payload: lb}
		case "leaderboard":
			lb, err := h.service.Leaderboard(ctx, pin)
			if err != nil {
				send <- errorMessage(domain.ErrorCode(err), err.Error())
				continue
			}
			send <- outboundMessage{Type: "leaderboard", Payload: lb}
		default:
			send <- errorMessage("UNSUPPORTED", "unsupported message type")
		}
	}
}

// startPump subscribes to the session topic and starts the writer goroutine
// plus the event relay. A single writer goroutine owns all writes to the
// connection, so handler code and event fan-out never write concurrently.
// The returned finish func must run before the handler returns.
func (h *WSHandler) startPump(conn *websocket.Conn, ctx context.Context, pin string) (chan outboundMessage, func(), bool) {
	updates, cancel, err := h.service.Subscribe(ctx, pin)
	if err != nil {
		writeBusinessError(conn, err)
		return nil, nil, false
	}

	send := make(chan outboundMessage, 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case event, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: event.Type, Payload: event.Payload}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	finish := func() {
		cancel()
		close(closeSignals)
		<-updatesDone
		close(send)
		<-writerDone
	}
	return send, finish, true
}

func errorMessage(code, message string) outboundMessage {
	return outboundMessage{Type: "error", Payload: errorPayload{Code: code, Message: message}}
}

func writeBusinessError(conn *websocket.Conn, err error) {
	_ = conn.WriteJSON(errorMessage(domain.ErrorCode(err), err.Error()))
}
