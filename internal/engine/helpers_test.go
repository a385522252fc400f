package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qms/token-service/internal/models"
	"qms/token-service/internal/store"
)

func TestFormatTokenID(t *testing.T) {
	tests := []struct {
		prefix string
		seq    int
		want   string
	}{
		{"A", 1, "A001"},
		{"A", 7, "A007"},
		{"B", 42, "B042"},
		{"C", 999, "C999"},
		{"A", 1000, "A1000"},
		{"Z", 12345, "Z12345"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatTokenID(tt.prefix, tt.seq))
	}
}

func TestEstimatePosition(t *testing.T) {
	tests := []struct {
		active int
		want   Estimate
	}{
		{0, Estimate{Position: 1, WaitEstimateMinutes: 0, Status: models.StatusServing}},
		{1, Estimate{Position: 2, WaitEstimateMinutes: 5, Status: models.StatusWaiting}},
		{4, Estimate{Position: 5, WaitEstimateMinutes: 20, Status: models.StatusWaiting}},
		{-3, Estimate{Position: 1, WaitEstimateMinutes: 0, Status: models.StatusServing}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EstimatePosition(tt.active, DefaultServiceMinutes))
	}
	assert.Equal(t, 14, EstimatePosition(2, 7).WaitEstimateMinutes)
}

func TestLeastLoaded(t *testing.T) {
	sel := LeastLoaded{}
	assert.Equal(t, 1, sel.Select(nil, 3))

	usage := map[int]store.ResourceUsage{
		1: {Occupied: 2, LastAssigned: 5},
		2: {Occupied: 1, LastAssigned: 4},
		3: {Occupied: 1, LastAssigned: 2},
	}
	assert.Equal(t, 3, sel.Select(usage, 3))
	assert.Equal(t, 4, sel.Select(usage, 4))
	assert.Equal(t, 0, sel.Select(usage, 0))
}

func TestRoundRobin(t *testing.T) {
	sel := RoundRobin{}
	assert.Equal(t, 1, sel.Select(nil, 3))
	assert.Equal(t, 3, sel.Select(map[int]store.ResourceUsage{2: {LastAssigned: 9}, 1: {LastAssigned: 3}}, 3))
	assert.Equal(t, 1, sel.Select(map[int]store.ResourceUsage{3: {LastAssigned: 9}}, 3))
}

func TestSeededRandomIsReproducible(t *testing.T) {
	a, b := NewSeededRandom(42), NewSeededRandom(42)
	for i := 0; i < 100; i++ {
		got := a.Select(nil, 10)
		assert.Equal(t, got, b.Select(nil, 10))
		assert.GreaterOrEqual(t, got, 1)
		assert.LessOrEqual(t, got, 10)
	}
}

func TestNewResourceSelector(t *testing.T) {
	sel, err := NewResourceSelector("", 0)
	require.NoError(t, err)
	assert.IsType(t, LeastLoaded{}, sel)

	sel, err = NewResourceSelector("Round_Robin", 0)
	require.NoError(t, err)
	assert.IsType(t, RoundRobin{}, sel)

	sel, err = NewResourceSelector("random", 7)
	require.NoError(t, err)
	assert.IsType(t, &SeededRandom{}, sel)

	_, err = NewResourceSelector("busiest", 0)
	assert.Error(t, err)
}
