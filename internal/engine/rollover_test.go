package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qms/token-service/internal/models"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func TestRolloverWatcher(t *testing.T) {
	f := newFixture(t, Options{Location: ist})
	start := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC) // 22:30 IST
	w := NewRolloverWatcher(f.coord, start)

	_, err := assignAt(t, f.coord, "9876543210", "A", models.DuplicateReject, start)
	require.NoError(t, err)

	assert.False(t, w.Check(start.Add(time.Hour)))
	assert.Equal(t, 1, f.ledger.Len())

	// 00:30 IST on the next day.
	assert.True(t, w.Check(start.Add(2*time.Hour)))
	assert.Equal(t, 0, f.ledger.Len())
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, ist), f.coord.Day())
	assert.False(t, w.Check(start.Add(3*time.Hour)))

	// Clock going backwards never rolls over.
	assert.False(t, w.Check(start))
}

func TestAssignAfterMidnightStartsNewDayBeforeWatcherTick(t *testing.T) {
	f := newFixture(t, Options{Location: ist})
	midnight := time.Date(2026, 3, 3, 0, 0, 0, 0, ist)
	w := NewRolloverWatcher(f.coord, midnight.Add(-time.Minute))

	_, err := assignAt(t, f.coord, "9876543200", "A", models.DuplicateReject, midnight.Add(-30*time.Second))
	require.NoError(t, err)

	first, err := assignAt(t, f.coord, "9876543210", "A", models.DuplicateReject, midnight.Add(10*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "A001", first.TokenID)
	assert.Equal(t, 1, f.ledger.Len())

	assert.False(t, w.Check(midnight.Add(30*time.Second)))
	assert.Equal(t, 1, f.ledger.Len())

	second, err := assignAt(t, f.coord, "9876543211", "A", models.DuplicateReject, midnight.Add(40*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "A002", second.TokenID)
}

func TestRolloverKeepsTokensOfTheNewDay(t *testing.T) {
	f := newFixture(t, Options{Location: ist})
	midnight := time.Date(2026, 3, 3, 0, 0, 0, 0, ist)

	_, err := assignAt(t, f.coord, "9876543200", "A", models.DuplicateReject, midnight.Add(-time.Minute))
	require.NoError(t, err)
	// Pins the new day lazily and clears the late token of the old one.
	kept, err := assignAt(t, f.coord, "9876543210", "A", models.DuplicateReject, midnight.Add(5*time.Second))
	require.NoError(t, err)

	assert.Equal(t, 0, f.coord.Rollover(midnight.Add(time.Hour)))
	token, err := f.coord.Get(kept.TokenID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusServing, token.Status)

	next, err := assignAt(t, f.coord, "9876543211", "A", models.DuplicateReject, midnight.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "A002", next.TokenID)
}
