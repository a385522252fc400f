package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
)

type Client struct {
	ID          string
	Send        chan []byte
	QueuePrefix string
}

// Hub keeps the connected display clients and pushes token events to the ones
// subscribed to the event's queue (or to every queue).
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *slog.Logger
}

type SubscribeMessage struct {
	Action      string `json:"action"`
	QueuePrefix string `json:"queue_prefix"`
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, queuePrefix string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.QueuePrefix = queuePrefix
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(payload []byte, queuePrefix string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.QueuePrefix != "" && client.QueuePrefix != queuePrefix {
			continue
		}
		select {
		case client.Send <- payload:
		default:
			h.logger.Warn("display client too slow, dropping message", "client_id", client.ID)
		}
	}
}

func (h *Hub) Name() string { return "hub" }

func (h *Hub) Handle(_ context.Context, event Event) error {
	payload, err := Envelope(event)
	if err != nil {
		return err
	}
	h.Broadcast(payload, event.Token.QueuePrefix)
	return nil
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	msg.QueuePrefix = strings.ToUpper(strings.TrimSpace(msg.QueuePrefix))
	return msg, true
}
