package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"qms/token-service/internal/models"
)

const (
	EventTokenCreated       = "token.created"
	EventTokenStatusChanged = "token.status_changed"
	EventTokenDelayed       = "token.delayed"
)

// TokenEvent is one link of a token's hash-chained history.
type TokenEvent struct {
	TokenID   string          `json:"token_id"`
	TokenSeq  int             `json:"token_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

type EventPayload struct {
	Token     models.Token `json:"token"`
	OldStatus string       `json:"old_status,omitempty"`
	NewStatus string       `json:"new_status,omitempty"`
}

func ComputeTokenEventHash(prevHash, tokenID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, tokenID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyChain checks sequence continuity and hashes of one token's events.
func VerifyChain(events []TokenEvent) error {
	prev := ""
	for i, event := range events {
		if event.TokenSeq != i+1 {
			return fmt.Errorf("token %s: expected seq %d, got %d", event.TokenID, i+1, event.TokenSeq)
		}
		if event.PrevHash != prev {
			return fmt.Errorf("token %s seq %d: prev hash mismatch", event.TokenID, event.TokenSeq)
		}
		want := ComputeTokenEventHash(prev, event.TokenID, event.Type, event.Payload, event.CreatedAt, event.TokenSeq)
		if event.Hash != want {
			return fmt.Errorf("token %s seq %d: hash mismatch", event.TokenID, event.TokenSeq)
		}
		prev = event.Hash
	}
	return nil
}

func RehydrateToken(events []TokenEvent) (models.Token, error) {
	var token models.Token
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload EventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Token{}, err
		}
		snapshot := payload.Token
		if snapshot.TokenID != "" {
			token.TokenID = snapshot.TokenID
		}
		if snapshot.QueuePrefix != "" {
			token.QueuePrefix = snapshot.QueuePrefix
		}
		if snapshot.Phone != "" {
			token.Phone = snapshot.Phone
		}
		if snapshot.Resource != 0 {
			token.Resource = snapshot.Resource
		}
		if !snapshot.CreatedAt.IsZero() {
			token.CreatedAt = snapshot.CreatedAt
			token.WaitEstimateMinutes = snapshot.WaitEstimateMinutes
		}
		if !snapshot.ETA.IsZero() {
			token.ETA = snapshot.ETA
		}
		if snapshot.RequestID != "" {
			token.RequestID = snapshot.RequestID
		}
		if snapshot.Status != "" {
			token.Status = snapshot.Status
		}
		if payload.NewStatus != "" {
			token.Status = payload.NewStatus
		}
	}
	return token, nil
}
