package events

import (
	"context"
	"encoding/json"
	"time"

	"qms/token-service/internal/store"
)

// ArchiveSink writes each event into the hash-chained archive. It runs on the
// bus goroutine, never under the coordinator lock.
type ArchiveSink struct {
	archive store.Archive
	timeout time.Duration
}

func NewArchiveSink(archive store.Archive, timeout time.Duration) *ArchiveSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &ArchiveSink{archive: archive, timeout: timeout}
}

func (s *ArchiveSink) Name() string { return "archive" }

func (s *ArchiveSink) Handle(ctx context.Context, event Event) error {
	payload, err := json.Marshal(store.EventPayload{
		Token:     event.Token,
		OldStatus: event.OldStatus,
		NewStatus: event.NewStatus,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	return s.archive.AppendEvent(ctx, event.Token.TokenID, event.Type, payload, event.CreatedAt)
}
