package http

import (
	"context"
	"fmt"
	"sync"

	"quizbot-service/internal/domain"
)

const sendBuffer = 32

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type textPayload struct {
	Text string `json:"text"`
}

type choicePayload struct {
	Prompt  string          `json:"prompt"`
	Options []domain.Choice `json:"options"`
	// Reply names the inbound frame type that answers this choice.
	Reply string `json:"reply"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Hub tracks one outbound queue per connected user and implements app.Messenger.
// A newer connection for the same user replaces the older one.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]chan outboundMessage
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]chan outboundMessage)}
}

func (h *Hub) SendQuestion(_ context.Context, userID string, q domain.RenderedQuestion) error {
	return h.deliver(userID, outboundMessage{Type: "question", Payload: q})
}

func (h *Hub) SendText(_ context.Context, userID, text string) error {
	return h.deliver(userID, outboundMessage{Type: "text", Payload: textPayload{Text: text}})
}

func (h *Hub) PresentChoice(_ context.Context, userID, prompt string, options []domain.Choice) error {
	return h.deliver(userID, outboundMessage{Type: "choice", Payload: choicePayload{
		Prompt:  prompt,
		Options: options,
		Reply:   "choice",
	}})
}

// Connected reports whether userID has a live connection.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[userID]
	return ok
}

// register opens a queue for userID. release closes it unless a newer connection took over.
func (h *Hub) register(userID string) (queue <-chan outboundMessage, release func()) {
	ch := make(chan outboundMessage, sendBuffer)

	h.mu.Lock()
	if old, ok := h.clients[userID]; ok {
		close(old)
	}
	h.clients[userID] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if cur, ok := h.clients[userID]; ok && cur == ch {
				delete(h.clients, userID)
				close(ch)
			}
		})
	}
}

// deliver never blocks. The read lock is held across the send so the queue cannot be closed under it.
func (h *Hub) deliver(userID string, msg outboundMessage) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.clients[userID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrRecipientOffline, userID)
	}
	select {
	case ch <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s: send queue full", domain.ErrRecipientOffline, userID)
	}
}
