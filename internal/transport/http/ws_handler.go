package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"quizbot-service/internal/domain"
)

// Dispatcher is the part of app.Dispatcher the websocket handler drives.
type Dispatcher interface {
	Handle(ctx context.Context, ev domain.Event) error
	Topics() []string
}

type WSHandler struct {
	dispatcher Dispatcher
	hub        *Hub
	log        *slog.Logger
	upgrader   websocket.Upgrader
}

func NewWSHandler(dispatcher Dispatcher, hub *Hub, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		dispatcher: dispatcher,
		hub:        hub,
		log:        logger,
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

type selectPayload struct {
	Topic string `json:"topic"`
}

type answerPayload struct {
	Token  string `json:"token"`
	Option int    `json:"option"`
}

type choiceReply struct {
	ID string `json:"id"`
}

// ServeWS upgrades the request and turns inbound frames into dispatcher events.
// Everything the dispatcher says to the user arrives through the hub.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "missing userId", http.StatusBadRequest)
		return
	}
	user := domain.User{ID: userID, Name: r.URL.Query().Get("name")}
	if user.Name == "" {
		user.Name = userID
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws: upgrade failed", "user", userID, "error", err)
		return
	}
	defer conn.Close()

	queue, release := h.hub.register(userID)
	defer release()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// closing the conn unblocks the reader when the queue is replaced or a write fails
		defer conn.Close()
		for msg := range queue {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws: write failed", "user", userID, "error", err)
				_ = conn.Close()
				for range queue {
				}
				return
			}
		}
	}()

	h.log.Info("ws: connected", "user", userID)
	ctx := r.Context()
	h.presentTopics(userID)

	for {
		var in inboundMessage
		if err := conn.ReadJSON(&in); err != nil {
			break
		}
		ev, ok := h.decode(userID, user, in)
		if !ok {
			continue
		}
		// the dispatcher has already explained rejected events to the user
		if err := h.dispatcher.Handle(ctx, ev); err != nil {
			h.log.DebugContext(ctx, "ws: event rejected", "user", userID, "event", ev.Name(), "error", err)
		}
	}

	release()
	<-writerDone
	h.log.Info("ws: disconnected", "user", userID)
}

func (h *WSHandler) decode(userID string, user domain.User, in inboundMessage) (domain.Event, bool) {
	switch in.Type {
	case "topics":
		h.presentTopics(userID)
		return nil, false
	case "select":
		var p selectPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil || p.Topic == "" {
			h.sendError(userID, "invalid select payload")
			return nil, false
		}
		return domain.EventTopicSelected{User: user, Topic: p.Topic}, true
	case "start":
		return domain.EventStartRequested{UserID: userID}, true
	case "stop":
		return domain.EventStopRequested{UserID: userID}, true
	case "answer":
		var p answerPayload
		if err := json.Unmarshal(in.Payload, &p); err != nil || p.Token == "" {
			h.sendError(userID, "invalid answer payload")
			return nil, false
		}
		return domain.EventAnswerReceived{UserID: userID, Token: p.Token, Option: p.Option}, true
	case "choice":
		var p choiceReply
		if err := json.Unmarshal(in.Payload, &p); err != nil {
			h.sendError(userID, "invalid choice payload")
			return nil, false
		}
		switch p.ID {
		case domain.ChoiceContinue:
			return domain.EventContinueChosen{UserID: userID}, true
		case domain.ChoiceStop:
			return domain.EventStopChosen{UserID: userID}, true
		}
		h.sendError(userID, "unknown choice")
		return nil, false
	}
	h.sendError(userID, "unsupported message type")
	return nil, false
}

func (h *WSHandler) presentTopics(userID string) {
	topics := h.dispatcher.Topics()
	options := make([]domain.Choice, 0, len(topics))
	for _, t := range topics {
		options = append(options, domain.Choice{ID: t, Label: t})
	}
	err := h.hub.deliver(userID, outboundMessage{Type: "choice", Payload: choicePayload{
		Prompt:  "Choose a topic:",
		Options: options,
		Reply:   "select",
	}})
	if err != nil {
		h.log.Debug("ws: topic menu not delivered", "user", userID, "error", err)
	}
}

func (h *WSHandler) sendError(userID, message string) {
	if err := h.hub.deliver(userID, outboundMessage{Type: "error", Payload: errorPayload{Message: message}}); err != nil {
		h.log.Debug("ws: error frame not delivered", "user", userID, "error", err)
	}
}
