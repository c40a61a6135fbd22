package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"quiz-attempt-service/internal/attempt"
	"quiz-attempt-service/internal/domain"
	"github.com/gorilla/websocket"
)

// WSHandler exposes one attempt session per websocket connection. The
// connection is the host-environment lifecycle: closing it while the attempt
// is active fires the best-effort teardown finalize.
type WSHandler struct {
	service  *attempt.AttemptService
	upgrader websocket.Upgrader
}

func NewWSHandler(service *attempt.AttemptService) *WSHandler {
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

// answerPayload carries one ledger write. Choice questions set optionIndex,
// text questions set text.
type answerPayload struct {
	QuestionIndex int     `json:"questionIndex"`
	OptionIndex   *int    `json:"optionIndex,omitempty"`
	Text          *string `json:"text,omitempty"`
}

type answerAck struct {
	QuestionIndex int  `json:"questionIndex"`
	Answered      bool `json:"answered"`
	AnsweredCount int  `json:"answeredCount"`
}

type startedPayload struct {
	QuizID           string                `json:"quizId"`
	Title            string                `json:"title"`
	Questions        []domain.Question     `json:"questions"`
	RemainingSeconds int                   `json:"remainingSeconds"`
	Answers          map[int]any           `json:"answers"`
	History          domain.AttemptHistory `json:"history"`
	Resumed          bool                  `json:"resumed"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeWS upgrades the request and runs the attempt session protocol.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	userID := r.URL.Query().Get("userId")
	if quizID == "" || userID == "" {
		http.Error(w, "missing quizId or userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	started, err := h.service.Start(r.Context(), quizID, userID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: classifyError(err)})
		return
	}

	updates, cancel, err := h.service.Subscribe(quizID, userID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: classifyError(err)})
		return
	}
	defer cancel()
	// Connection gone while the attempt is still active: best-effort finalize,
	// bounded by the engine's unload budget. The snapshot already holds the
	// answers either way.
	defer h.service.Teardown(context.Background(), quizID, userID)

	send := make(chan outboundMessage[any], 16)
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
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: update.Type, Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "started", Payload: startedPayload{
		QuizID:           started.Quiz.ID,
		Title:            started.Quiz.Title,
		Questions:        started.Questions,
		RemainingSeconds: started.RemainingSeconds,
		Answers:          wireAnswers(started.Answers),
		History:          started.History,
		Resumed:          started.Resumed,
	}}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "BAD_PAYLOAD", Message: "invalid answer payload"}}
				continue
			}
			value := domain.TextAnswer("")
			switch {
			case payload.OptionIndex != nil:
				value = domain.ChoiceAnswer(*payload.OptionIndex)
			case payload.Text != nil:
				value = domain.TextAnswer(*payload.Text)
			}
			if err := h.service.SetAnswer(r.Context(), quizID, userID, payload.QuestionIndex, value); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: classifyError(err)}
				continue
			}
			session, ok := h.service.Session(quizID, userID)
			if !ok {
				continue
			}
			send <- outboundMessage[any]{Type: "answerAck", Payload: answerAck{
				QuestionIndex: payload.QuestionIndex,
				Answered:      session.IsAnswered(payload.QuestionIndex),
				AnsweredCount: session.AnsweredCount(),
			}}
		case "submit":
			if _, _, err := h.service.Submit(r.Context(), quizID, userID); err != nil {
				// The terminal "completed"/"expired" frame arrives via the
				// subscription; only failures need a direct reply.
				send <- outboundMessage[any]{Type: "error", Payload: classifyError(err)}
			}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Code: "BAD_PAYLOAD", Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func wireAnswers(answers map[int]domain.AnswerValue) map[int]any {
	out := make(map[int]any, len(answers))
	for i, value := range answers {
		out[i] = value.Wire()
	}
	return out
}

// classifyError maps engine errors onto stable wire codes.
func classifyError(err error) errorPayload {
	var ge *domain.GradingError
	if errors.As(err, &ge) {
		return errorPayload{Code: string(ge.Kind), Message: ge.Message}
	}
	switch {
	case errors.Is(err, domain.ErrEmptyQuiz):
		return errorPayload{Code: string(domain.KindEmptyQuiz), Message: err.Error()}
	case errors.Is(err, domain.ErrNoAttemptsLeft):
		return errorPayload{Code: "NO_ATTEMPTS_LEFT", Message: err.Error()}
	case errors.Is(err, domain.ErrQuizNotFound):
		return errorPayload{Code: "QUIZ_NOT_FOUND", Message: err.Error()}
	case errors.Is(err, domain.ErrSessionNotFound):
		return errorPayload{Code: "NO_SESSION", Message: err.Error()}
	case errors.Is(err, domain.ErrSessionFinalizing):
		return errorPayload{Code: "FINALIZING", Message: err.Error()}
	case errors.Is(err, domain.ErrQuestionIndex):
		return errorPayload{Code: "BAD_PAYLOAD", Message: err.Error()}
	default:
		return errorPayload{Code: "INTERNAL", Message: err.Error()}
	}
}
