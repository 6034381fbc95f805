package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"survival-quiz-service/internal/app"
	"survival-quiz-service/internal/domain"
	"survival-quiz-service/internal/infra/memory"
)

func TestWebSocketPlayerFlow(t *testing.T) {
	service := newTestService()
	session := mustCreateSession(t, service)

	server := newTestServer(service)
	defer server.Close()

	conn := dial(t, server, "/ws?pin="+session.PIN+"&nickname=Ali")
	defer conn.Close()

	msgType, payload := readNext(conn, t)
	if msgType != "joined" {
		t.Fatalf("expected joined, got %s", msgType)
	}
	participantID, _ := payload["participantId"].(string)
	if participantID == "" {
		t.Fatalf("expected participantId in joined payload, got %+v", payload)
	}

	msgType, payload = readNext(conn, t)
	if msgType != "state" {
		t.Fatalf("expected state, got %s", msgType)
	}
	if payload["state"] != string(domain.StateWaitingHost) {
		t.Fatalf("expected waiting_host before first question, got %+v", payload)
	}

	// Host pushes the first question; the player sees it on the socket with
	// no correct-option flag anywhere in the payload.
	if _, err := service.AdvanceToQuestion(context.Background(), session.PIN, session.HostToken, 0); err != nil {
		t.Fatalf("advance: %v", err)
	}
	msgType, payload = readNext(conn, t)
	if msgType != domain.EventNewQuestion {
		t.Fatalf("expected new-question, got %s", msgType)
	}
	question, _ := payload["question"].(map[string]any)
	options, _ := question["options"].([]any)
	if len(options) == 0 {
		t.Fatalf("expected options in pushed question, got %+v", payload)
	}
	for _, raw := range options {
		option := raw.(map[string]any)
		if _, leaked := option["correct"]; leaked {
			t.Fatalf("answer key leaked to participant: %+v", option)
		}
	}

	answer := map[string]any{
		"type": "answer",
		"payload": map[string]any{
			"questionId":     "q1",
			"optionId":       "o2",
			"responseTimeMs": 1500,
		},
	}
	if err := conn.WriteJSON(answer); err != nil {
		t.Fatalf("write answer: %v", err)
	}

	// The direct result and the broadcast answer-submitted event race; accept
	// either order.
	resultSeen := false
	broadcastSeen := false
	for i := 0; i < 3 && !(resultSeen && broadcastSeen); i++ {
		msgType, payload = readNext(conn, t)
		switch msgType {
		case "answerResult":
			resultSeen = true
			if payload["isCorrect"] != true || payload["pointsEarned"] != float64(1) {
				t.Fatalf("unexpected result %+v", payload)
			}
		case domain.EventAnswerSubmitted:
			broadcastSeen = true
		}
	}
	if !resultSeen || !broadcastSeen {
		t.Fatalf("expected answerResult and answer-submitted, got result=%v broadcast=%v", resultSeen, broadcastSeen)
	}
}

func TestWebSocketHostDrivesSession(t *testing.T) {
	service := newTestService()
	session := mustCreateSession(t, service)

	server := newTestServer(service)
	defer server.Close()

	host := dial(t, server, "/ws?pin="+session.PIN+"&role=host&token="+session.HostToken)
	defer host.Close()

	msgType, _ := readNext(host, t)
	if msgType != "leaderboard" {
		t.Fatalf("expected initial leaderboard, got %s", msgType)
	}

	if err := host.WriteJSON(map[string]any{
		"type":    "advance",
		"payload": map[string]any{"questionIndex": 0},
	}); err != nil {
		t.Fatalf("write advance: %v", err)
	}

	advancedSeen := false
	pushSeen := false
	for i := 0; i < 3 && !(advancedSeen && pushSeen); i++ {
		msgType, _ = readNext(host, t)
		switch msgType {
		case "questionAdvanced":
			advancedSeen = true
		case domain.EventNewQuestion:
			pushSeen = true
		}
	}
	if !advancedSeen || !pushSeen {
		t.Fatalf("expected questionAdvanced and new-question, got advanced=%v push=%v", advancedSeen, pushSeen)
	}

	if err := host.WriteJSON(map[string]any{"type": "finish", "payload": map[string]any{}}); err != nil {
		t.Fatalf("write finish: %v", err)
	}
	finishedSeen := false
	for i := 0; i < 3 && !finishedSeen; i++ {
		msgType, _ = readNext(host, t)
		if msgType == "finished" || msgType == domain.EventSessionFinished {
			finishedSeen = true
		}
	}
	if !finishedSeen {
		t.Fatal("expected finished confirmation")
	}
}

func TestWebSocketRejectsBadJoin(t *testing.T) {
	service := newTestService()
	session := mustCreateSession(t, service)

	server := newTestServer(service)
	defer server.Close()

	first := dial(t, server, "/ws?pin="+session.PIN+"&nickname=Ali")
	defer first.Close()
	if msgType, _ := readNext(first, t); msgType != "joined" {
		t.Fatalf("expected joined, got %s", msgType)
	}

	second := dial(t, server, "/ws?pin="+session.PIN+"&nickname=ali")
	defer second.Close()
	msgType, payload := readNext(second, t)
	if msgType != "error" {
		t.Fatalf("expected error, got %s", msgType)
	}
	if payload["code"] != "NICKNAME_TAKEN" {
		t.Fatalf("expected NICKNAME_TAKEN, got %+v", payload)
	}
}

func newTestService() *app.SessionService {
	store := memory.NewSessionStore()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": testQuiz(),
	}), time.Minute)
	return app.NewSessionService(store, quizzes, memory.NewEventBus())
}

func newTestServer(service *app.SessionService) *httptest.Server {
	wsHandler := NewWSHandler(service)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	NewRESTHandler(service).Register(mux)
	return httptest.NewServer(mux)
}

func mustCreateSession(t *testing.T, service *app.SessionService) domain.Session {
	t.Helper()
	session, err := service.CreateSession(context.Background(), "quiz-1", "host-1")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + path
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	return conn
}

func readNext(conn *websocket.Conn, t *testing.T) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	return msg.Type, msg.Payload
}

func testQuiz() domain.Quiz {
	return domain.Quiz{
		ID:    "quiz-1",
		Title: "Survival warm-up",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "Select the right option",
				Options: []domain.Option{
					{ID: "o1", Text: "Wrong", Correct: false},
					{ID: "o2", Text: "Right", Correct: true},
				},
				TimerSec: 15,
				Points:   1,
				Order:    0,
			},
		},
	}
}
