package breakglass

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/crypto"
)

var testSecret = []byte("break-glass-test-secret-32bytes!")

func newMonitor(t *testing.T) (*Monitor, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewMonitor(store, testSecret, nil, StubEvaluator{}, nil), store
}

func trigger(t *testing.T, m *Monitor, liveness bool) *Event {
	t.Helper()
	event, err := m.Trigger(context.Background(), TriggerParams{
		POAID:        "poa-1",
		AuditEntryID: 1,
		AdvocateID:   "advocate-1",
		Trigger:      TriggerSpendLimit,
		Details: map[string]interface{}{
			"amount":      250.0,
			"spend_limit": 200.0,
		},
		LivenessRequired: liveness,
	})
	require.NoError(t, err)
	return event
}

func currentOTP(m *Monitor) string {
	return crypto.TOTPCode(testSecret, m.clock())
}

func TestTriggerOpensPendingEvent(t *testing.T) {
	m, _ := newMonitor(t)
	event := trigger(t, m, false)

	assert.Equal(t, StatusPending, event.Status)
	assert.Equal(t, ModeOTP, event.Mode)
	assert.NotEmpty(t, event.OTPHash)
	assert.Len(t, event.OTPHash, 64, "only the hash is stored")
	assert.WithinDuration(t, event.CreatedAt.Add(EventTTL), event.ExpiresAt, time.Second)
}

func TestTriggerLivenessMode(t *testing.T) {
	m, _ := newMonitor(t)
	event := trigger(t, m, true)
	assert.Equal(t, ModeOTPLiveness, event.Mode)
	assert.True(t, event.LivenessRequired)
}

func TestVerifyOTPApprovesInOTPMode(t *testing.T) {
	m, _ := newMonitor(t)
	event := trigger(t, m, false)

	updated, err := m.VerifyOTP(context.Background(), event.ID, currentOTP(m))
	require.NoError(t, err)

	assert.Equal(t, StatusApproved, updated.Status)
	assert.Equal(t, "advocate-1", updated.ApprovedBy)
	assert.NotNil(t, updated.OTPVerifiedAt)
	assert.NotNil(t, updated.ApprovedAt)
}

func TestVerifyOTPRejectsWrongCode(t *testing.T) {
	m, _ := newMonitor(t)
	event := trigger(t, m, false)

	_, err := m.VerifyOTP(context.Background(), event.ID, "000000")
	assert.ErrorIs(t, err, core.ErrUnauthenticated)

	unchanged, err := m.Get(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, unchanged.Status)
}

func TestVerifyOTPAcceptsAdjacentWindow(t *testing.T) {
	m, _ := newMonitor(t)

	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return base })
	event := trigger(t, m, false)

	// Advance one TOTP step: the original code is one window behind.
	code := crypto.TOTPCode(testSecret, base)
	m.SetClock(func() time.Time { return base.Add(crypto.TOTPStep) })

	updated, err := m.VerifyOTP(context.Background(), event.ID, code)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, updated.Status)
}

func TestVerifyOTPAfterExpiryTransitionsToExpired(t *testing.T) {
	m, _ := newMonitor(t)

	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return base })
	event := trigger(t, m, false)
	code := crypto.TOTPCode(testSecret, base)

	m.SetClock(func() time.Time { return base.Add(EventTTL + time.Minute) })

	updated, err := m.VerifyOTP(context.Background(), event.ID, code)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, updated.Status)
	assert.Nil(t, updated.ApprovedAt)
}

func TestLivenessFlowApproves(t *testing.T) {
	m, _ := newMonitor(t)
	event := trigger(t, m, true)
	ctx := context.Background()

	afterOTP, err := m.VerifyOTP(ctx, event.ID, currentOTP(m))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, afterOTP.Status, "liveness mode stays pending after OTP")

	approved, err := m.VerifyLiveness(ctx, event.ID, MethodFace, []byte("selfie"))
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.True(t, approved.LivenessVerified)
	require.Contains(t, approved.LivenessData, MethodFace)
}

func TestLivenessRequiresPriorOTP(t *testing.T) {
	m, _ := newMonitor(t)
	event := trigger(t, m, true)

	_, err := m.VerifyLiveness(context.Background(), event.ID, MethodVoice, nil)
	assert.ErrorIs(t, err, core.ErrConflictState)
}

func TestLivenessNotRequiredConflicts(t *testing.T) {
	m, _ := newMonitor(t)
	event := trigger(t, m, false)

	_, err := m.VerifyLiveness(context.Background(), event.ID, MethodFace, nil)
	assert.ErrorIs(t, err, core.ErrConflictState)
}

type weakEvaluator struct{}

func (weakEvaluator) Evaluate(context.Context, string, []byte) (LivenessResult, error) {
	return LivenessResult{OK: true, Confidence: 0.60}, nil
}

func TestLivenessBelowThresholdRejected(t *testing.T) {
	store := NewMemoryStore()
	m := NewMonitor(store, testSecret, nil, weakEvaluator{}, nil)
	event := trigger(t, m, true)
	ctx := context.Background()

	_, err := m.VerifyOTP(ctx, event.ID, currentOTP(m))
	require.NoError(t, err)

	_, err = m.VerifyLiveness(ctx, event.ID, MethodFace, nil)
	assert.ErrorIs(t, err, core.ErrUnauthenticated)

	still, err := m.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, still.Status)
	assert.False(t, still.LivenessVerified)
}

func TestDenyFromPending(t *testing.T) {
	m, _ := newMonitor(t)
	event := trigger(t, m, false)

	denied, err := m.Deny(context.Background(), event.ID, "advocate-1", "did not recognize the purchase")
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, denied.Status)
	assert.Equal(t, "advocate-1", denied.DeniedBy)
}

func TestTerminalTransitionsAreIdempotent(t *testing.T) {
	m, _ := newMonitor(t)
	event := trigger(t, m, false)
	ctx := context.Background()

	_, err := m.Deny(ctx, event.ID, "advocate-1", "no")
	require.NoError(t, err)

	// Further transitions report the final status and mutate nothing.
	res, err := m.VerifyOTP(ctx, event.ID, currentOTP(m))
	assert.ErrorIs(t, err, core.ErrConflictState)
	assert.Equal(t, StatusDenied, res.Status)

	res, err = m.Deny(ctx, event.ID, "advocate-2", "again")
	assert.ErrorIs(t, err, core.ErrConflictState)
	assert.Equal(t, StatusDenied, res.Status)
	assert.Equal(t, "advocate-1", res.DeniedBy)
}

func TestConcurrentResolutionSingleWinner(t *testing.T) {
	m, _ := newMonitor(t)
	event := trigger(t, m, false)
	ctx := context.Background()
	code := currentOTP(m)

	var wg sync.WaitGroup
	results := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := m.VerifyOTP(ctx, event.ID, code)
		results <- err
	}()
	go func() {
		defer wg.Done()
		_, err := m.Deny(ctx, event.ID, "advocate-1", "race")
		results <- err
	}()
	wg.Wait()
	close(results)

	var failures int
	for err := range results {
		if err != nil {
			failures++
		}
	}
	assert.Equal(t, 1, failures, "exactly one of the two racing transitions wins")

	final, err := m.Get(ctx, event.ID)
	require.NoError(t, err)
	assert.True(t, final.Terminal())
}

func TestPendingListAndSweep(t *testing.T) {
	m, _ := newMonitor(t)
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return base })

	stale := trigger(t, m, false)

	m.SetClock(func() time.Time { return base.Add(30 * time.Minute) })
	fresh := trigger(t, m, false)

	m.SetClock(func() time.Time { return base.Add(EventTTL + time.Minute) })

	pending, err := m.Pending(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, fresh.ID, pending[0].ID)

	expired, err := m.Get(context.Background(), stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, expired.Status)

	// The fresh event expires at base+30m+1h.
	m.SetClock(func() time.Time { return base.Add(2 * EventTTL) })
	assert.Equal(t, 1, m.SweepExpired(context.Background()))
	assert.Equal(t, 0, m.SweepExpired(context.Background()))
}

func TestTriggerValidatesInput(t *testing.T) {
	m, _ := newMonitor(t)
	_, err := m.Trigger(context.Background(), TriggerParams{POAID: "poa-1"})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}
