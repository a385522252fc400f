package store

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"qms/token-service/internal/models"
)

// Ledger is the in-memory record of one queue day. Tokens are kept per queue
// prefix in creation order and are only removed by Reset or ResetBefore.
//
// Ledger methods are individually atomic. Callers that need a read followed by
// a write to be atomic (sequence issuance, duplicate checks) must serialize
// around the Ledger themselves.
type Ledger struct {
	mu      sync.RWMutex
	queues  map[string]*queueLog
	index   map[string]tokenRef
	byPhone map[string][]string
	ord     uint64
}

type queueLog struct {
	entries []entry
	maxSeq  int
}

type entry struct {
	token models.Token
	ord   uint64
}

type tokenRef struct {
	prefix string
	pos    int
}

type ListFilter struct {
	QueuePrefix string
	Status      string
	Search      string
}

// ResourceUsage describes how a service point is used by the current ledger.
// LastAssigned is the creation ordinal of the newest token placed on it, zero
// when it was never used.
type ResourceUsage struct {
	Occupied     int
	LastAssigned uint64
}

func NewLedger() *Ledger {
	return &Ledger{
		queues:  make(map[string]*queueLog),
		index:   make(map[string]tokenRef),
		byPhone: make(map[string][]string),
	}
}

// ActiveCount counts waiting, upcoming and serving tokens of a queue.
func (l *Ledger) ActiveCount(prefix string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	q, ok := l.queues[prefix]
	if !ok {
		return 0
	}
	count := 0
	for _, e := range q.entries {
		if models.IsActive(e.token.Status) {
			count++
		}
	}
	return count
}

// FindActiveByPhone returns the oldest active token for phone across all queues.
func (l *Ledger) FindActiveByPhone(phone string) (models.Token, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, id := range l.byPhone[phone] {
		token := l.tokenLocked(id)
		if models.IsActive(token.Status) {
			return token, true
		}
	}
	return models.Token{}, false
}

func (l *Ledger) NextSequence(prefix string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	q, ok := l.queues[prefix]
	if !ok {
		return 1
	}
	return q.maxSeq + 1
}

// Append adds token at the end of its queue. A duplicate id or an id that does
// not belong to the queue is an invariant violation.
func (l *Ledger) Append(token models.Token) error {
	seq, ok := SequenceOf(token.QueuePrefix, token.TokenID)
	if !ok {
		return &InvariantViolationError{TokenID: token.TokenID, Detail: "token id does not match queue " + token.QueuePrefix}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.index[token.TokenID]; exists {
		return &InvariantViolationError{TokenID: token.TokenID, Detail: "duplicate token id"}
	}
	q, ok := l.queues[token.QueuePrefix]
	if !ok {
		q = &queueLog{}
		l.queues[token.QueuePrefix] = q
	}
	l.ord++
	q.entries = append(q.entries, entry{token: token, ord: l.ord})
	if seq > q.maxSeq {
		q.maxSeq = seq
	}
	l.index[token.TokenID] = tokenRef{prefix: token.QueuePrefix, pos: len(q.entries) - 1}
	if token.Phone != "" {
		l.byPhone[token.Phone] = append(l.byPhone[token.Phone], token.TokenID)
	}
	return nil
}

func (l *Ledger) Get(tokenID string) (models.Token, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.index[tokenID]; !ok {
		return models.Token{}, false
	}
	return l.tokenLocked(tokenID), true
}

// Update applies fn to a copy of the token and stores the result when fn
// returns nil. The id, queue and phone of a token cannot be changed.
func (l *Ledger) Update(tokenID string, fn func(*models.Token) error) (models.Token, models.Token, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ref, ok := l.index[tokenID]
	if !ok {
		return models.Token{}, models.Token{}, ErrTokenNotFound
	}
	e := &l.queues[ref.prefix].entries[ref.pos]
	before := e.token
	after := before
	if err := fn(&after); err != nil {
		return before, before, err
	}
	after.TokenID = before.TokenID
	after.QueuePrefix = before.QueuePrefix
	after.Phone = before.Phone
	e.token = after
	return before, after, nil
}

// Position is the 1-indexed rank of an active token among the active tokens of
// its queue. Inactive tokens have no position.
func (l *Ledger) Position(tokenID string) (int, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ref, ok := l.index[tokenID]
	if !ok {
		return 0, false
	}
	entries := l.queues[ref.prefix].entries
	if !models.IsActive(entries[ref.pos].token.Status) {
		return 0, false
	}
	position := 1
	for _, e := range entries[:ref.pos] {
		if models.IsActive(e.token.Status) {
			position++
		}
	}
	return position, true
}

// List returns matching tokens ordered by queue prefix, then creation order.
func (l *Ledger) List(filter ListFilter) []models.Token {
	l.mu.RLock()
	defer l.mu.RUnlock()
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	var tokens []models.Token
	for _, prefix := range l.prefixesLocked() {
		if filter.QueuePrefix != "" && prefix != filter.QueuePrefix {
			continue
		}
		for _, e := range l.queues[prefix].entries {
			if filter.Status != "" && e.token.Status != filter.Status {
				continue
			}
			if search != "" && !strings.Contains(strings.ToLower(e.token.TokenID), search) {
				continue
			}
			tokens = append(tokens, e.token)
		}
	}
	return tokens
}

func (l *Ledger) Stats(prefixes []string) []models.QueueStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(prefixes) == 0 {
		prefixes = l.prefixesLocked()
	}
	stats := make([]models.QueueStats, 0, len(prefixes))
	for _, prefix := range prefixes {
		s := models.QueueStats{QueuePrefix: prefix, ByStatus: make(map[string]int, len(models.Statuses))}
		for _, status := range models.Statuses {
			s.ByStatus[status] = 0
		}
		if q, ok := l.queues[prefix]; ok {
			for _, e := range q.entries {
				s.Total++
				s.ByStatus[e.token.Status]++
				if models.IsActive(e.token.Status) {
					s.Active++
				}
			}
		}
		stats = append(stats, s)
	}
	return stats
}

// ResourceUsage reports, for every service point referenced by the ledger, how
// many unfinished tokens sit on it and when it was last assigned.
func (l *Ledger) ResourceUsage() map[int]ResourceUsage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	usage := make(map[int]ResourceUsage)
	for _, q := range l.queues {
		for _, e := range q.entries {
			u := usage[e.token.Resource]
			if !models.IsTerminal(e.token.Status) {
				u.Occupied++
			}
			if e.ord > u.LastAssigned {
				u.LastAssigned = e.ord
			}
			usage[e.token.Resource] = u
		}
	}
	return usage
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.index)
}

// Reset drops the whole day and returns the number of tokens cleared.
func (l *Ledger) Reset() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cleared := len(l.index)
	l.queues = make(map[string]*queueLog)
	l.index = make(map[string]tokenRef)
	l.byPhone = make(map[string][]string)
	l.ord = 0
	return cleared
}

// ResetBefore drops the tokens created before cutoff and returns how many were
// cleared. Kept tokens retain their order and sequence numbers.
func (l *Ledger) ResetBefore(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cleared := 0
	queues := make(map[string]*queueLog)
	index := make(map[string]tokenRef)
	for _, prefix := range l.prefixesLocked() {
		kept := &queueLog{}
		for _, e := range l.queues[prefix].entries {
			if e.token.CreatedAt.Before(cutoff) {
				cleared++
				continue
			}
			kept.entries = append(kept.entries, e)
			if seq, ok := SequenceOf(prefix, e.token.TokenID); ok && seq > kept.maxSeq {
				kept.maxSeq = seq
			}
			index[e.token.TokenID] = tokenRef{prefix: prefix, pos: len(kept.entries) - 1}
		}
		if len(kept.entries) > 0 {
			queues[prefix] = kept
		}
	}
	byPhone := make(map[string][]string)
	for phone, ids := range l.byPhone {
		for _, id := range ids {
			if _, ok := index[id]; ok {
				byPhone[phone] = append(byPhone[phone], id)
			}
		}
	}
	l.queues = queues
	l.index = index
	l.byPhone = byPhone
	if len(index) == 0 {
		l.ord = 0
	}
	return cleared
}

// Restore appends previously archived tokens in creation order.
func (l *Ledger) Restore(tokens []models.Token) error {
	sorted := make([]models.Token, len(tokens))
	copy(sorted, tokens)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		si, _ := SequenceOf(sorted[i].QueuePrefix, sorted[i].TokenID)
		sj, _ := SequenceOf(sorted[j].QueuePrefix, sorted[j].TokenID)
		return si < sj
	})
	for _, token := range sorted {
		if err := l.Append(token); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) tokenLocked(tokenID string) models.Token {
	ref := l.index[tokenID]
	return l.queues[ref.prefix].entries[ref.pos].token
}

func (l *Ledger) prefixesLocked() []string {
	prefixes := make([]string, 0, len(l.queues))
	for prefix := range l.queues {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	return prefixes
}

// SequenceOf extracts the numeric suffix of a token id issued for prefix.
func SequenceOf(prefix, tokenID string) (int, bool) {
	if prefix == "" || !strings.HasPrefix(tokenID, prefix) {
		return 0, false
	}
	digits := tokenID[len(prefix):]
	if digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	seq, err := strconv.Atoi(digits)
	if err != nil || seq <= 0 {
		return 0, false
	}
	return seq, true
}
