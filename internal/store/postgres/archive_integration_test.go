package postgres

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	archive, cleanup := setupTestArchive(t, ctx)
	t.Cleanup(cleanup)

	now := time.Now().UTC()
	token := models.Token{
		TokenID:     "A001",
		QueuePrefix: "A",
		Phone:       "+919876543210",
		Resource:    1,
		Status:      models.StatusServing,
		CreatedAt:   now,
		ETA:         now,
	}
	appendPayload(t, ctx, archive, store.EventTokenCreated, store.EventPayload{Token: token, NewStatus: token.Status}, now)

	done := token
	done.Status = models.StatusCompleted
	appendPayload(t, ctx, archive, store.EventTokenStatusChanged, store.EventPayload{Token: done, OldStatus: models.StatusServing, NewStatus: models.StatusCompleted}, now.Add(time.Second))

	tokens, err := archive.LoadTokens(ctx, now)
	if err != nil {
		t.Fatalf("load tokens: %v", err)
	}
	if len(tokens) != 1 {
		t.Fatalf("expected 1 token, got %d", len(tokens))
	}
	if tokens[0].Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", tokens[0].Status)
	}

	previous, err := archive.LoadTokens(ctx, now.Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("load previous day: %v", err)
	}
	if len(previous) != 0 {
		t.Fatalf("expected no tokens for previous day, got %d", len(previous))
	}
}

func TestArchiveConcurrentAppendKeepsChain(t *testing.T) {
	ctx := context.Background()
	archive, cleanup := setupTestArchive(t, ctx)
	t.Cleanup(cleanup)

	now := time.Now().UTC()
	token := models.Token{TokenID: "B001", QueuePrefix: "B", Status: models.StatusWaiting, CreatedAt: now, ETA: now}
	appendPayload(t, ctx, archive, store.EventTokenCreated, store.EventPayload{Token: token, NewStatus: token.Status}, now)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			raw, _ := json.Marshal(store.EventPayload{Token: token})
			errs <- archive.AppendEvent(ctx, token.TokenID, store.EventTokenDelayed, raw, now.Add(time.Duration(i+1)*time.Millisecond))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	if _, err := archive.LoadTokens(ctx, now); err != nil {
		t.Fatalf("chain should verify: %v", err)
	}
}

func appendPayload(t *testing.T, ctx context.Context, archive *Archive, eventType string, payload store.EventPayload, at time.Time) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := archive.AppendEvent(ctx, payload.Token.TokenID, eventType, raw, at); err != nil {
		t.Fatalf("append %s: %v", eventType, err)
	}
}

func setupTestArchive(t *testing.T, ctx context.Context) (*Archive, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execOnce(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	archive := NewArchive(pool, time.UTC)
	if err := archive.EnsureSchema(ctx); err != nil {
		pool.Close()
		t.Fatalf("ensure schema: %v", err)
	}
	cleanup := func() {
		pool.Close()
		_ = execOnce(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	}
	return archive, cleanup
}

func execOnce(ctx context.Context, dsn, statement string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, statement)
	return err
}
