package postgres

import (
	"encoding/json"
	"testing"
	"time"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"
)

func chainFor(t *testing.T, tokenID string, payloads ...store.EventPayload) []store.TokenEvent {
	t.Helper()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	var events []store.TokenEvent
	prev := ""
	for i, p := range payloads {
		raw, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		eventType := store.EventTokenCreated
		if p.NewStatus != "" && i > 0 {
			eventType = store.EventTokenStatusChanged
		}
		createdAt := base.Add(time.Duration(i) * time.Minute)
		hash := store.ComputeTokenEventHash(prev, tokenID, eventType, raw, createdAt, i+1)
		events = append(events, store.TokenEvent{
			TokenID:   tokenID,
			TokenSeq:  i + 1,
			Type:      eventType,
			Payload:   raw,
			CreatedAt: createdAt,
			PrevHash:  prev,
			Hash:      hash,
		})
		prev = hash
	}
	return events
}

func TestRebuildTokens(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	a1 := models.Token{TokenID: "A001", QueuePrefix: "A", Phone: "+919876543210", Resource: 2, Status: models.StatusServing, CreatedAt: created, ETA: created}
	a2 := models.Token{TokenID: "A002", QueuePrefix: "A", Phone: "+919876543211", Resource: 3, WaitEstimateMinutes: 5, Status: models.StatusWaiting, CreatedAt: created, ETA: created.Add(5 * time.Minute)}

	events := append(
		chainFor(t, "A001",
			store.EventPayload{Token: a1, NewStatus: models.StatusServing},
			store.EventPayload{Token: models.Token{TokenID: "A001"}, OldStatus: models.StatusServing, NewStatus: models.StatusCompleted},
		),
		chainFor(t, "A002", store.EventPayload{Token: a2, NewStatus: models.StatusWaiting})...,
	)

	tokens, err := RebuildTokens(events)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	if tokens[0].TokenID != "A001" || tokens[0].Status != models.StatusCompleted {
		t.Fatalf("unexpected first token %+v", tokens[0])
	}
	if tokens[0].Resource != 2 || tokens[0].Phone != "+919876543210" {
		t.Fatalf("snapshot fields lost: %+v", tokens[0])
	}
	if tokens[1].TokenID != "A002" || tokens[1].WaitEstimateMinutes != 5 {
		t.Fatalf("unexpected second token %+v", tokens[1])
	}
}

func TestRebuildTokensRejectsTamperedChain(t *testing.T) {
	tok := models.Token{TokenID: "B001", QueuePrefix: "B", Status: models.StatusServing, CreatedAt: time.Now().UTC()}
	events := chainFor(t, "B001",
		store.EventPayload{Token: tok, NewStatus: models.StatusServing},
		store.EventPayload{Token: models.Token{TokenID: "B001"}, OldStatus: models.StatusServing, NewStatus: models.StatusCompleted},
	)
	events[1].Payload = json.RawMessage(`{"token":{"token_id":"B001"},"new_status":"noshow"}`)

	if _, err := RebuildTokens(events); err == nil {
		t.Fatalf("expected hash mismatch")
	}
}

func TestQueueDay(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	// 20:00 UTC is already the next day in IST.
	got := QueueDay(time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC), loc)
	want := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if got := QueueDay(time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC), nil); got.Day() != 2 {
		t.Fatalf("expected utc day 2, got %d", got.Day())
	}
}

func TestQueueDayOfUsesTokenCreation(t *testing.T) {
	a := NewArchive(nil, time.UTC)
	created := time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)
	raw, err := json.Marshal(store.EventPayload{Token: models.Token{TokenID: "A001", CreatedAt: created}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got := a.queueDayOf(raw, created.Add(2*time.Minute))
	if got.Day() != 2 {
		t.Fatalf("expected event filed under day 2, got %s", got)
	}
	if got := a.queueDayOf([]byte(`{}`), created.Add(2*time.Minute)); got.Day() != 3 {
		t.Fatalf("expected fallback to event day 3, got %s", got)
	}
}
