package engine

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"qms/token-service/internal/store"
)

// ResourceSelector picks a service point in 1..count from the ledger's view of
// resource usage. Implementations must be deterministic for a given usage map
// and internal state.
type ResourceSelector interface {
	Select(usage map[int]store.ResourceUsage, count int) int
}

const (
	PolicyLeastLoaded = "least_loaded"
	PolicyRoundRobin  = "round_robin"
	PolicyRandom      = "random"
)

func NewResourceSelector(policy string, seed uint64) (ResourceSelector, error) {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "", PolicyLeastLoaded:
		return LeastLoaded{}, nil
	case PolicyRoundRobin:
		return RoundRobin{}, nil
	case PolicyRandom:
		return NewSeededRandom(seed), nil
	default:
		return nil, fmt.Errorf("unknown resource policy %q", policy)
	}
}

// LeastLoaded prefers the resource with the fewest unfinished tokens, then the
// one assigned least recently, then the lowest number.
type LeastLoaded struct{}

func (LeastLoaded) Select(usage map[int]store.ResourceUsage, count int) int {
	if count <= 0 {
		return 0
	}
	best := 1
	for r := 2; r <= count; r++ {
		cand, cur := usage[r], usage[best]
		if cand.Occupied < cur.Occupied || (cand.Occupied == cur.Occupied && cand.LastAssigned < cur.LastAssigned) {
			best = r
		}
	}
	return best
}

// RoundRobin continues after the most recently assigned resource.
type RoundRobin struct{}

func (RoundRobin) Select(usage map[int]store.ResourceUsage, count int) int {
	if count <= 0 {
		return 0
	}
	last, lastOrd := 0, uint64(0)
	for r := 1; r <= count; r++ {
		if u := usage[r]; u.LastAssigned > lastOrd {
			last, lastOrd = r, u.LastAssigned
		}
	}
	return last%count + 1
}

// SeededRandom draws from an injected PCG source so runs are reproducible.
// Callers serialize access.
type SeededRandom struct {
	rng *rand.Rand
}

func NewSeededRandom(seed uint64) *SeededRandom {
	return &SeededRandom{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *SeededRandom) Select(_ map[int]store.ResourceUsage, count int) int {
	if count <= 0 {
		return 0
	}
	return s.rng.IntN(count) + 1
}
