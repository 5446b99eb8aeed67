package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/crypto"
)

func newTestLedger(t *testing.T) (*Ledger, *MemoryStore) {
	t.Helper()
	ks, err := crypto.LoadKeys(true)
	require.NoError(t, err)
	store := NewMemoryStore()
	return NewLedger(crypto.NewSigner(ks.MACKey), store), store
}

func TestAppendSignsAndVerifies(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	entry, err := ledger.Append(ctx, AppendRequest{
		POAID:       "poa-1",
		ActionType:  "REQUEST_PAYMENT",
		ServiceName: "AT&T",
		Amount:      89.99,
		Decision:    DecisionAllowed,
		Reasoning:   "within scope and limit",
		RequestDetails: map[string]interface{}{
			"service": "AT&T",
			"amount":  89.99,
		},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.Signature)
	assert.Equal(t, int64(1), entry.ID)

	ok, err := ledger.Verify(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyDetectsTampering(t *testing.T) {
	ledger, store := newTestLedger(t)
	ctx := context.Background()

	entry, err := ledger.Append(ctx, AppendRequest{
		POAID:      "poa-1",
		ActionType: "REQUEST_PAYMENT",
		Decision:   DecisionAllowed,
		Reasoning:  "ok",
	})
	require.NoError(t, err)

	// Mutate the persisted record behind the ledger's back.
	store.mu.Lock()
	store.entries[entry.ID].Decision = DecisionBlocked
	store.mu.Unlock()

	ok, err := ledger.Verify(ctx, entry.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAppendRejectsIncompleteRequest(t *testing.T) {
	ledger, _ := newTestLedger(t)

	_, err := ledger.Append(context.Background(), AppendRequest{POAID: "poa-1"})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestAppendFailClosedOnStorageError(t *testing.T) {
	ledger, store := newTestLedger(t)
	store.FailAppends(true)

	_, err := ledger.Append(context.Background(), AppendRequest{
		POAID:      "poa-1",
		ActionType: "REQUEST_PAYMENT",
		Decision:   DecisionAllowed,
		Reasoning:  "ok",
	})
	assert.ErrorIs(t, err, core.ErrStorageFailure)
}

func TestEntriesMonotonicPerPOA(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledger.Append(ctx, AppendRequest{
				POAID:      "poa-ordered",
				ActionType: "REQUEST_PAYMENT",
				Decision:   DecisionAllowed,
				Reasoning:  fmt.Sprintf("request %d", i),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	entries, err := ledger.List(ctx, Filter{POAID: "poa-ordered"})
	require.NoError(t, err)
	require.Len(t, entries, 20)

	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].ID, entries[i-1].ID)
		assert.True(t, entries[i].Timestamp.After(entries[i-1].Timestamp),
			"timestamps must strictly increase within a POA")
	}
}

func TestListFilters(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	for _, d := range []string{DecisionAllowed, DecisionBlocked, DecisionAllowed} {
		_, err := ledger.Append(ctx, AppendRequest{
			POAID:      "poa-f",
			ActionType: "REQUEST_PAYMENT",
			Decision:   d,
			Reasoning:  "x",
		})
		require.NoError(t, err)
	}
	_, err := ledger.Append(ctx, AppendRequest{
		POAID:      "poa-other",
		ActionType: ActionScopeViolation,
		Decision:   DecisionBlocked,
		Reasoning:  "x",
	})
	require.NoError(t, err)

	blocked, err := ledger.List(ctx, Filter{POAID: "poa-f", Decision: DecisionBlocked})
	require.NoError(t, err)
	assert.Len(t, blocked, 1)

	limited, err := ledger.List(ctx, Filter{POAID: "poa-f", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestMarkAdvocateNotifiedAppendsSuccessor(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	entry, err := ledger.Append(ctx, AppendRequest{
		POAID:      "poa-n",
		ActionType: ActionSpendLimit,
		Decision:   DecisionBreakGlass,
		Reasoning:  "limit exceeded",
	})
	require.NoError(t, err)

	require.NoError(t, ledger.MarkAdvocateNotified(ctx, entry.ID, "advocate-7"))

	updated, err := ledger.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, updated.AdvocateNotified)
	require.NotNil(t, updated.AdvocateNotifiedAt)

	// Flipping the flag must not break the original signature.
	ok, err := ledger.Verify(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	successors, err := ledger.List(ctx, Filter{POAID: "poa-n", ActionType: ActionAdvocateNotified})
	require.NoError(t, err)
	require.Len(t, successors, 1)
	assert.Equal(t, "advocate-7", successors[0].RequestDetails["advocate_id"])
}

func TestExportStructured(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Append(ctx, AppendRequest{
		POAID:      "poa-e",
		ActionType: "REQUEST_PAYMENT",
		Decision:   DecisionAllowed,
		Reasoning:  "ok",
	})
	require.NoError(t, err)

	raw, err := ledger.Export(ctx, "poa-e", FormatStructured)
	require.NoError(t, err)

	var snap map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &snap))
	assert.Equal(t, "poa-e", snap["poa_id"])
	assert.Equal(t, true, snap["all_signatures_verified"])
	assert.Equal(t, float64(1), snap["entry_count"])
}

func TestExportHuman(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.Append(ctx, AppendRequest{
		POAID:       "poa-h",
		ActionType:  ActionScopeViolation,
		ServiceName: "Spotify",
		Amount:      50,
		Decision:    DecisionBlocked,
		Reasoning:   "service outside granted scope",
	})
	require.NoError(t, err)

	raw, err := ledger.Export(ctx, "poa-h", FormatHuman)
	require.NoError(t, err)

	report := string(raw)
	assert.Contains(t, report, "FIDUCIARY LEDGER REPORT")
	assert.Contains(t, report, "SCOPE_VIOLATION")
	assert.Contains(t, report, "$50.00")
	assert.Contains(t, report, "ALL SIGNATURES VERIFIED")
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	ledger, _ := newTestLedger(t)
	_, err := ledger.Export(context.Background(), "poa-x", "pdf")
	assert.True(t, errors.Is(err, core.ErrInvalidArgument))
}

func TestClockInjection(t *testing.T) {
	ledger, _ := newTestLedger(t)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ledger.SetClock(func() time.Time { return fixed })

	entry, err := ledger.Append(context.Background(), AppendRequest{
		POAID:      "poa-c",
		ActionType: "REQUEST_PAYMENT",
		Decision:   DecisionAllowed,
		Reasoning:  "ok",
	})
	require.NoError(t, err)
	assert.Equal(t, fixed, entry.Timestamp)
}
