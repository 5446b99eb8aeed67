package gatekeeper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/audit"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/breakglass"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/crypto"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/vault"
)

type fixture struct {
	gate       *Gatekeeper
	registry   *vault.Registry
	ledger     *audit.Ledger
	auditStore *audit.MemoryStore
	monitor    *breakglass.Monitor
	secret     []byte
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ks, err := crypto.LoadKeys(true)
	require.NoError(t, err)

	auditStore := audit.NewMemoryStore()
	ledger := audit.NewLedger(crypto.NewSigner(ks.MACKey), auditStore)

	poaStore := vault.NewMemoryStore()
	registry := vault.NewRegistry(poaStore, poaStore, ledger)

	monitor := breakglass.NewMonitor(breakglass.NewMemoryStore(), ks.TOTPSecret, nil, breakglass.StubEvaluator{}, ledger)

	return &fixture{
		gate:       New(poaStore, ledger, monitor, nil),
		registry:   registry,
		ledger:     ledger,
		auditStore: auditStore,
		monitor:    monitor,
		secret:     ks.TOTPSecret,
	}
}

func (f *fixture) createPOA(t *testing.T, scope string, limit float64, expiryDays int, services ...string) *vault.POA {
	t.Helper()
	poa, err := f.registry.Create(context.Background(), vault.CreateParams{
		PrincipalID: "senior-1",
		AgentID:     "agent-1",
		Scope:       scope,
		SpendLimit:  limit,
		ExpiryDays:  expiryDays,
		Services:    services,
		CreatorID:   "advocate-1",
	})
	require.NoError(t, err)
	return poa
}

func (f *fixture) entriesFor(t *testing.T, poaID, action string) []*audit.Entry {
	t.Helper()
	entries, err := f.ledger.List(context.Background(), audit.Filter{POAID: poaID, ActionType: action})
	require.NoError(t, err)
	return entries
}

func TestScopeViolationBlocked(t *testing.T) {
	f := newFixture(t)
	poa := f.createPOA(t, "medical", 500, 30, "CVS Pharmacy")

	d, err := f.gate.Validate(context.Background(), Request{
		POAID:       poa.ID,
		ServiceName: "Spotify",
		Amount:      50,
		Action:      "payment",
	})
	require.NoError(t, err)

	assert.False(t, d.Authorized)
	assert.Equal(t, audit.DecisionBlocked, d.Decision)
	assert.Equal(t, ViolationScope, d.ViolationType)

	entries := f.entriesFor(t, poa.ID, audit.ActionScopeViolation)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.DecisionBlocked, entries[0].Decision)
}

func TestLimitViolationOpensBreakGlass(t *testing.T) {
	f := newFixture(t)
	poa := f.createPOA(t, "utilities", 200, 30)
	ctx := context.Background()

	d, err := f.gate.Validate(ctx, Request{
		POAID:       poa.ID,
		ServiceName: "AT&T",
		Amount:      201,
		Action:      "payment",
	})
	require.NoError(t, err)

	assert.Equal(t, audit.DecisionBreakGlass, d.Decision)
	assert.Equal(t, ViolationSpendLimit, d.ViolationType)
	assert.NotEmpty(t, d.BreakGlassEvent)
	assert.False(t, d.LivenessRequired, "amount <= $500 needs OTP only")

	pending, err := f.monitor.Pending(ctx, "")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, d.BreakGlassEvent, pending[0].ID)

	// The correct OTP resolves the escalation.
	code := crypto.TOTPCode(f.secret, pending[0].CreatedAt)
	approved, err := f.monitor.VerifyOTP(ctx, d.BreakGlassEvent, code)
	require.NoError(t, err)
	assert.Equal(t, breakglass.StatusApproved, approved.Status)
}

func TestLargeAmountRequiresLiveness(t *testing.T) {
	f := newFixture(t)
	poa := f.createPOA(t, "banking", 200, 30)

	d, err := f.gate.Validate(context.Background(), Request{
		POAID:       poa.ID,
		ServiceName: "Chase",
		Amount:      750,
		Action:      "transfer",
	})
	require.NoError(t, err)
	assert.Equal(t, audit.DecisionBreakGlass, d.Decision)
	assert.True(t, d.LivenessRequired)

	event, err := f.monitor.Get(context.Background(), d.BreakGlassEvent)
	require.NoError(t, err)
	assert.Equal(t, breakglass.ModeOTPLiveness, event.Mode)
}

func TestExpiredPOABlocked(t *testing.T) {
	f := newFixture(t)
	poa := f.createPOA(t, "utilities", 200, -1)

	d, err := f.gate.Validate(context.Background(), Request{
		POAID:       poa.ID,
		ServiceName: "AT&T",
		Amount:      20,
		Action:      "payment",
	})
	require.NoError(t, err)

	assert.False(t, d.Authorized)
	assert.Equal(t, audit.DecisionBlocked, d.Decision)
	assert.Contains(t, d.Reasoning, "expired or revoked")

	entries := f.entriesFor(t, poa.ID, audit.ActionPOAInvalid)
	assert.Len(t, entries, 1)
}

func TestRevokedPOABlocked(t *testing.T) {
	f := newFixture(t)
	poa := f.createPOA(t, "utilities", 200, 30)
	ctx := context.Background()

	ok, err := f.registry.Revoke(ctx, poa.ID, "senior asked", "advocate-1")
	require.NoError(t, err)
	require.True(t, ok)

	d, err := f.gate.Validate(ctx, Request{
		POAID:       poa.ID,
		ServiceName: "AT&T",
		Amount:      20,
		Action:      "payment",
	})
	require.NoError(t, err)
	assert.Equal(t, audit.DecisionBlocked, d.Decision)
	assert.Equal(t, ViolationPOAInvalid, d.ViolationType)
}

func TestUnknownPOABlockedWithoutLedgerWrite(t *testing.T) {
	f := newFixture(t)

	d, err := f.gate.Validate(context.Background(), Request{
		POAID:       "no-such-poa",
		ServiceName: "AT&T",
		Amount:      20,
		Action:      "payment",
	})
	require.NoError(t, err)
	assert.False(t, d.Authorized)
	assert.Equal(t, audit.DecisionBlocked, d.Decision)
	assert.Zero(t, d.AuditEntryID)

	entries, err := f.ledger.List(context.Background(), audit.Filter{POAID: "no-such-poa"})
	require.NoError(t, err)
	assert.Empty(t, entries, "nothing to attribute, nothing logged")
}

func TestAllowedAppendsExactlyOneEntry(t *testing.T) {
	f := newFixture(t)
	poa := f.createPOA(t, "utilities", 200, 30)
	ctx := context.Background()

	before, err := f.ledger.List(ctx, audit.Filter{POAID: poa.ID})
	require.NoError(t, err)

	d, err := f.gate.Validate(ctx, Request{
		POAID:       poa.ID,
		ServiceName: "AT&T",
		Amount:      89.99,
		Action:      "payment",
	})
	require.NoError(t, err)
	assert.True(t, d.Authorized)
	assert.Equal(t, audit.DecisionAllowed, d.Decision)
	assert.NotZero(t, d.AuditEntryID)

	after, err := f.ledger.List(ctx, audit.Filter{POAID: poa.ID})
	require.NoError(t, err)
	assert.Len(t, after, len(before)+1)

	entries := f.entriesFor(t, poa.ID, "REQUEST_PAYMENT")
	require.Len(t, entries, 1)
	ok, err := f.ledger.Verify(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestZeroAmountSkipsLimitCheck(t *testing.T) {
	f := newFixture(t)
	poa := f.createPOA(t, "subscriptions", 10, 30)

	d, err := f.gate.Validate(context.Background(), Request{
		POAID:       poa.ID,
		ServiceName: "Netflix",
		Action:      "cancel subscription",
	})
	require.NoError(t, err)
	assert.True(t, d.Authorized)

	entries := f.entriesFor(t, poa.ID, "REQUEST_CANCEL_SUBSCRIPTION")
	assert.Len(t, entries, 1)
}

func TestLedgerFailureFailsClosed(t *testing.T) {
	f := newFixture(t)
	poa := f.createPOA(t, "utilities", 200, 30)
	ctx := context.Background()

	f.auditStore.FailAppends(true)

	d, err := f.gate.Validate(ctx, Request{
		POAID:       poa.ID,
		ServiceName: "AT&T",
		Amount:      500,
		Action:      "payment",
	})
	require.NoError(t, err)
	assert.False(t, d.Authorized)
	assert.Equal(t, audit.DecisionBlocked, d.Decision)
	assert.Equal(t, "ledger unavailable", d.Reasoning)
	assert.Empty(t, d.BreakGlassEvent, "no escalation without a ledger record")

	pending, err := f.monitor.Pending(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestValidateRejectsIncompleteRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.gate.Validate(context.Background(), Request{POAID: "x"})
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}
