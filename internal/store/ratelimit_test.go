package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitStoreWindow(t *testing.T) {
	s := NewRateLimitStore(0)
	require.Equal(t, 60*time.Second, s.Window())

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.Check("+919876543210", now))

	// Checking alone does not start a window.
	require.NoError(t, s.Check("+919876543210", now.Add(time.Second)))

	s.Commit("+919876543210", now)
	err := s.Check("+919876543210", now.Add(20*time.Second))
	require.Error(t, err)

	var limited *RateLimitedError
	require.True(t, errors.As(err, &limited))
	assert.Equal(t, 40*time.Second, limited.RetryAfter)
	assert.Equal(t, 40, limited.RetryAfterSeconds())
	assert.Equal(t, KindRateLimited, Kind(err))

	require.NoError(t, s.Check("+919876543210", now.Add(60*time.Second)))
	require.NoError(t, s.Check("+918765432109", now.Add(time.Second)))
}

func TestRateLimitedRetryAfterRoundsUp(t *testing.T) {
	err := &RateLimitedError{RetryAfter: 1500 * time.Millisecond}
	assert.Equal(t, 2, err.RetryAfterSeconds())
}

func TestRateLimitStoreEvict(t *testing.T) {
	s := NewRateLimitStore(time.Minute)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.Commit("+919876543210", now)
	s.Commit("+918765432109", now.Add(30*time.Second))

	assert.Equal(t, 0, s.Evict(now.Add(59*time.Second)))
	assert.Equal(t, 1, s.Evict(now.Add(60*time.Second)))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 1, s.Evict(now.Add(2*time.Minute)))
	assert.Equal(t, 0, s.Len())
}
