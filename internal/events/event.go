package events

import (
	"encoding/json"
	"time"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"
)

// Event is something that happened to a token after it was committed to the
// ledger. Token is the snapshot after the change.
type Event struct {
	EventID   string
	Type      string
	Token     models.Token
	OldStatus string
	NewStatus string
	CreatedAt time.Time
}

func (e Event) StatusChange() (models.TokenStatusChanged, bool) {
	if e.Type != store.EventTokenStatusChanged {
		return models.TokenStatusChanged{}, false
	}
	return models.TokenStatusChanged{
		TokenID:   e.Token.TokenID,
		OldStatus: e.OldStatus,
		NewStatus: e.NewStatus,
		ChangedAt: e.CreatedAt,
	}, true
}

type envelope struct {
	EventID     string          `json:"event_id"`
	Type        string          `json:"type"`
	QueuePrefix string          `json:"queue_prefix"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

type displayToken struct {
	TokenID     string    `json:"token_id"`
	QueuePrefix string    `json:"queue_prefix"`
	Resource    int       `json:"resource"`
	Status      string    `json:"status"`
	ETA         time.Time `json:"eta"`
}

// Envelope encodes the event for display and broker consumers. Status changes
// carry a TokenStatusChanged; other events carry the token without its phone.
func Envelope(e Event) ([]byte, error) {
	var payload interface{}
	if change, ok := e.StatusChange(); ok {
		payload = change
	} else {
		payload = displayToken{
			TokenID:     e.Token.TokenID,
			QueuePrefix: e.Token.QueuePrefix,
			Resource:    e.Token.Resource,
			Status:      e.Token.Status,
			ETA:         e.Token.ETA,
		}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		EventID:     e.EventID,
		Type:        e.Type,
		QueuePrefix: e.Token.QueuePrefix,
		Payload:     raw,
		CreatedAt:   e.CreatedAt,
	})
}
