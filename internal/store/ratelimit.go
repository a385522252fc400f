package store

import (
	"sync"
	"time"
)

const DefaultRateLimitWindow = 60 * time.Second

// RateLimitStore remembers when each phone last received a token. Checking and
// recording are separate so a failed assignment never starts a window.
type RateLimitStore struct {
	mu     sync.Mutex
	window time.Duration
	last   map[string]time.Time
}

func NewRateLimitStore(window time.Duration) *RateLimitStore {
	if window <= 0 {
		window = DefaultRateLimitWindow
	}
	return &RateLimitStore{
		window: window,
		last:   make(map[string]time.Time),
	}
}

func (s *RateLimitStore) Window() time.Duration {
	return s.window
}

func (s *RateLimitStore) Check(phone string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.last[phone]
	if !ok {
		return nil
	}
	elapsed := now.Sub(last)
	if elapsed >= s.window {
		return nil
	}
	retry := s.window - elapsed
	if elapsed < 0 {
		retry = s.window
	}
	return &RateLimitedError{Phone: phone, RetryAfter: retry}
}

func (s *RateLimitStore) Commit(phone string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[phone] = now
}

// Evict drops records whose window has fully elapsed and returns how many were
// removed.
func (s *RateLimitStore) Evict(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for phone, last := range s.last {
		if now.Sub(last) >= s.window {
			delete(s.last, phone)
			removed++
		}
	}
	return removed
}

func (s *RateLimitStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.last)
}
