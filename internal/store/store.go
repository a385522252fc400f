package store

import (
	"context"
	"time"

	"qms/token-service/internal/models"
)

// Archive keeps the history of the queue day outside the process so a restart
// can rebuild the ledger. LoadTokens returns the tokens of the queue day that
// contains day.
type Archive interface {
	AppendEvent(ctx context.Context, tokenID, eventType string, payload []byte, createdAt time.Time) error
	LoadTokens(ctx context.Context, day time.Time) ([]models.Token, error)
}
