package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func TestClosedPassesThrough(t *testing.T) {
	b := New("test", 3, time.Second)

	calls := 0
	err := b.Do(func() error { calls++; return nil })
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, b.State())
}

func TestOpensAfterThreshold(t *testing.T) {
	b := New("test", 3, time.Second)

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(func() error { return errBackend }), errBackend)
	}
	assert.Equal(t, StateOpen, b.State())

	// While open, the function is not called.
	calls := 0
	err := b.Do(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, calls)
}

func TestHalfOpenProbeRecovers(t *testing.T) {
	b := New("test", 2, 10*time.Second)
	now := time.Now()
	b.SetClock(func() time.Time { return now })

	b.Do(func() error { return errBackend })
	b.Do(func() error { return errBackend })
	require.Equal(t, StateOpen, b.State())

	now = now.Add(11 * time.Second)
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, b.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestFailedProbeReopens(t *testing.T) {
	b := New("test", 2, 10*time.Second)
	now := time.Now()
	b.SetClock(func() time.Time { return now })

	b.Do(func() error { return errBackend })
	b.Do(func() error { return errBackend })

	now = now.Add(11 * time.Second)
	assert.ErrorIs(t, b.Do(func() error { return errBackend }), errBackend)
	assert.Equal(t, StateOpen, b.State())

	// Cooldown restarts from the failed probe.
	now = now.Add(5 * time.Second)
	assert.Equal(t, StateOpen, b.State())
	now = now.Add(6 * time.Second)
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New("test", 3, time.Second)

	b.Do(func() error { return errBackend })
	b.Do(func() error { return errBackend })
	require.NoError(t, b.Do(func() error { return nil }))

	// Two more failures are below the threshold again.
	b.Do(func() error { return errBackend })
	b.Do(func() error { return errBackend })
	assert.Equal(t, StateClosed, b.State())
}
