package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// payload is kept as json, not jsonb, so the stored bytes match the hashed
// bytes exactly.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS token_events (
	queue_day  date        NOT NULL,
	token_id   text        NOT NULL,
	token_seq  integer     NOT NULL,
	type       text        NOT NULL,
	payload    json        NOT NULL,
	created_at timestamptz NOT NULL,
	prev_hash  text        NOT NULL DEFAULT '',
	hash       text        NOT NULL,
	PRIMARY KEY (queue_day, token_id, token_seq)
);
CREATE INDEX IF NOT EXISTS token_events_created_at_idx ON token_events (created_at);
`

// Archive appends token events to a per-token hash chain in Postgres.
type Archive struct {
	pool *pgxpool.Pool
	loc  *time.Location
}

// NewArchive returns an archive whose queue days follow loc.
func NewArchive(pool *pgxpool.Pool, loc *time.Location) *Archive {
	if loc == nil {
		loc = time.UTC
	}
	return &Archive{pool: pool, loc: loc}
}

func (a *Archive) EnsureSchema(ctx context.Context) error {
	_, err := a.pool.Exec(ctx, schemaSQL)
	return err
}

func (a *Archive) AppendEvent(ctx context.Context, tokenID, eventType string, payload []byte, createdAt time.Time) (err error) {
	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = insertTokenEvent(ctx, tx, a.queueDayOf(payload, createdAt), tokenID, eventType, payload, createdAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (a *Archive) LoadTokens(ctx context.Context, day time.Time) ([]models.Token, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT token_id, token_seq, type, payload, created_at, prev_hash, hash
		FROM token_events
		WHERE queue_day = $1
		ORDER BY token_id, token_seq
	`, QueueDay(day, a.loc))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.TokenEvent
	for rows.Next() {
		var event store.TokenEvent
		var payload []byte
		var prevHash sql.NullString
		if err := rows.Scan(&event.TokenID, &event.TokenSeq, &event.Type, &payload, &event.CreatedAt, &prevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = json.RawMessage(payload)
		if prevHash.Valid {
			event.PrevHash = prevHash.String
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return RebuildTokens(events)
}

// RebuildTokens folds events, ordered by token then sequence, into one token
// each. A broken chain fails the whole load.
func RebuildTokens(events []store.TokenEvent) ([]models.Token, error) {
	var tokens []models.Token
	for start := 0; start < len(events); {
		end := start + 1
		for end < len(events) && events[end].TokenID == events[start].TokenID {
			end++
		}
		chain := events[start:end]
		if err := store.VerifyChain(chain); err != nil {
			return nil, err
		}
		token, err := store.RehydrateToken(chain)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", chain[0].TokenID, err)
		}
		if token.TokenID == "" {
			return nil, fmt.Errorf("token %s: no snapshot in history", chain[0].TokenID)
		}
		tokens = append(tokens, token)
		start = end
	}
	return tokens, nil
}

// queueDayOf files an event under the day its token was created, so late
// events for yesterday's tokens stay in yesterday's chain.
func (a *Archive) queueDayOf(payload []byte, createdAt time.Time) time.Time {
	var decoded store.EventPayload
	if err := json.Unmarshal(payload, &decoded); err == nil && !decoded.Token.CreatedAt.IsZero() {
		return QueueDay(decoded.Token.CreatedAt, a.loc)
	}
	return QueueDay(createdAt, a.loc)
}

// QueueDay is the calendar date of t in loc, as midnight UTC for the date
// column.
func QueueDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func insertTokenEvent(ctx context.Context, tx pgx.Tx, day time.Time, tokenID, eventType string, payload []byte, createdAt time.Time) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, day.Format(time.DateOnly)+"/"+tokenID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT token_seq, hash
		FROM token_events
		WHERE queue_day = $1 AND token_id = $2
		ORDER BY token_seq DESC
		LIMIT 1
		FOR UPDATE
	`, day, tokenID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	// timestamptz keeps microseconds; hash what will be read back.
	createdAt = createdAt.UTC().Truncate(time.Microsecond)
	hash := store.ComputeTokenEventHash(prev, tokenID, eventType, payload, createdAt, nextSeq)

	_, err := tx.Exec(ctx, `
		INSERT INTO token_events (queue_day, token_id, token_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, day, tokenID, nextSeq, eventType, string(payload), createdAt, prev, hash)
	return err
}
