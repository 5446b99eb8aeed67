package cardauth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/audit"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/crypto"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/governor"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/sentinel"
)

var webhookSecret = []byte("test-card-webhook-secret-0123456")

type authFixture struct {
	service    *Service
	handler    *Handler
	ledger     *audit.Ledger
	auditStore *audit.MemoryStore
	events     *sentinel.MemoryEventStore
	approvals  *sentinel.MemoryApprovalStore
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	ks, err := crypto.LoadKeys(true)
	require.NoError(t, err)

	auditStore := audit.NewMemoryStore()
	ledger := audit.NewLedger(crypto.NewSigner(ks.MACKey), auditStore)

	bindings := NewStaticBindings(map[string]Binding{
		"card-tok-1": {PrincipalID: "senior-1", POAID: "poa-1"},
	})
	events := sentinel.NewMemoryEventStore()
	approvals := sentinel.NewMemoryApprovalStore()

	service := NewService(governor.New(governor.DefaultRiskSets()), DefaultMCCMap(), bindings, ledger, events, approvals, nil)
	return &authFixture{
		service:    service,
		handler:    NewHandler(service, webhookSecret, ""),
		ledger:     ledger,
		auditStore: auditStore,
		events:     events,
		approvals:  approvals,
	}
}

func authRequest(amountCents int64, mcc, descriptor string, at time.Time) *AuthRequest {
	return &AuthRequest{
		Token:     "auth-1",
		CardToken: "card-tok-1",
		Amount:    amountCents,
		Merchant:  Merchant{Descriptor: descriptor, MCC: mcc, City: "Phoenix", State: "AZ"},
		Created:   at,
	}
}

func daytime() time.Time {
	return time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
}

func nighttime() time.Time {
	return time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
}

func TestGroceriesApprovedWithAuditEntry(t *testing.T) {
	f := newAuthFixture(t)

	resp := f.service.Authorize(context.Background(), authRequest(8750, "5411", "SAFEWAY #112", daytime()))

	assert.Equal(t, ResultApproved, resp.Result)
	assert.Equal(t, int64(8750), resp.Amount)
	assert.Equal(t, "Groceries", resp.Metadata.Category)
	assert.False(t, resp.Metadata.PendingAdvocate)

	entries, err := f.ledger.List(context.Background(), audit.Filter{POAID: "poa-1", ActionType: audit.ActionCardAuthorization})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.DecisionAllowed, entries[0].Decision)
	assert.InDelta(t, 87.50, entries[0].Amount, 0.001)

	ok, err := f.ledger.Verify(context.Background(), entries[0].ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCriticalComboDeclined(t *testing.T) {
	f := newAuthFixture(t)

	// $900 electronics at 2 AM: high amount + odd hours + high-risk category.
	resp := f.service.Authorize(context.Background(), authRequest(90000, "5732", "BEST BUY #44", nighttime()))

	assert.Equal(t, ResultDeclined, resp.Result)
	assert.Equal(t, governor.LevelCritical, resp.Metadata.RiskLevel)
	assert.Equal(t, DeclineHighRisk, resp.Metadata.DeclineReason)

	entries, err := f.ledger.List(context.Background(), audit.Filter{POAID: "poa-1"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.DecisionBlocked, entries[0].Decision)
}

func TestHighRiskDeclinedPendingAdvocate(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	// Daytime $1,200 wire transfer scores 85: HIGH, but not the critical combo.
	resp := f.service.Authorize(ctx, authRequest(120000, "4829", "WESTERN UNION", daytime()))

	assert.Equal(t, ResultDeclined, resp.Result)
	assert.Equal(t, governor.LevelHigh, resp.Metadata.RiskLevel)
	assert.True(t, resp.Metadata.PendingAdvocate)

	open, err := f.approvals.ListOpenApprovals(ctx, "senior-1")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, governor.LevelHigh, open[0].RiskLevel)
	assert.InDelta(t, 1200.0, open[0].Amount, 0.001)

	events, err := f.events.ListEvents(ctx, sentinel.EventFilter{EventType: sentinel.EventCardAuthorization})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ResultDeclined, events[0].Action)
}

func TestUnboundCardDeclined(t *testing.T) {
	f := newAuthFixture(t)

	req := authRequest(500, "5411", "SAFEWAY", daytime())
	req.CardToken = "card-tok-unknown"
	resp := f.service.Authorize(context.Background(), req)

	assert.Equal(t, ResultDeclined, resp.Result)
	assert.Equal(t, DeclineUnbound, resp.Metadata.DeclineReason)

	entries, err := f.ledger.List(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries, "unbound card cannot be attributed to a POA")
}

func TestLedgerFailureDeclines(t *testing.T) {
	f := newAuthFixture(t)
	f.auditStore.FailAppends(true)

	resp := f.service.Authorize(context.Background(), authRequest(8750, "5411", "SAFEWAY", daytime()))

	assert.Equal(t, ResultDeclined, resp.Result)
	assert.Equal(t, DeclineUnavailable, resp.Metadata.DeclineReason)
}

func TestDeadlineOverrunDeclines(t *testing.T) {
	f := newAuthFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp := f.service.Authorize(ctx, authRequest(8750, "5411", "SAFEWAY", daytime()))

	assert.Equal(t, ResultDeclined, resp.Result)
	assert.Equal(t, DeclineUnavailable, resp.Metadata.DeclineReason)

	entries, err := f.ledger.List(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUnknownMCCFallsBackToOther(t *testing.T) {
	m := DefaultMCCMap()
	assert.Equal(t, "Groceries", m.Category("5411"))
	assert.Equal(t, CategoryOther, m.Category("9999"))
	assert.Equal(t, CategoryOther, m.Category(""))
}

func signBody(body []byte) string {
	return crypto.NewSigner(webhookSecret).Sign(body)
}

func postWebhook(t *testing.T, h *Handler, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/card/authorize", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(DefaultSignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookHappyPath(t *testing.T) {
	f := newAuthFixture(t)

	body, err := json.Marshal(authRequest(8750, "5411", "SAFEWAY #112", daytime()))
	require.NoError(t, err)

	rec := postWebhook(t, f.handler, body, signBody(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ResultApproved, resp.Result)
	assert.Equal(t, int64(8750), resp.Amount)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newAuthFixture(t)

	body, err := json.Marshal(authRequest(8750, "5411", "SAFEWAY", daytime()))
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, postWebhook(t, f.handler, body, "deadbeef").Code)
	assert.Equal(t, http.StatusUnauthorized, postWebhook(t, f.handler, body, "").Code)

	// Tampered body invalidates a previously valid signature.
	sig := signBody(body)
	tampered := bytes.Replace(body, []byte("8750"), []byte("875000"), 1)
	assert.Equal(t, http.StatusUnauthorized, postWebhook(t, f.handler, tampered, sig).Code)
}

func TestWebhookRejectsMalformedPayload(t *testing.T) {
	f := newAuthFixture(t)

	body := []byte(`{"token": `)
	assert.Equal(t, http.StatusBadRequest, postWebhook(t, f.handler, body, signBody(body)).Code)

	incomplete := []byte(`{"token":"t1"}`)
	assert.Equal(t, http.StatusBadRequest, postWebhook(t, f.handler, incomplete, signBody(incomplete)).Code)
}

func TestWebhookRejectsWrongMethod(t *testing.T) {
	f := newAuthFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/card/authorize", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func BenchmarkAuthorize(b *testing.B) {
	ks, _ := crypto.LoadKeys(true)
	ledger := audit.NewLedger(crypto.NewSigner(ks.MACKey), audit.NewMemoryStore())
	bindings := NewStaticBindings(map[string]Binding{"card-tok-1": {PrincipalID: "senior-1", POAID: "poa-1"}})
	service := NewService(governor.New(governor.DefaultRiskSets()), DefaultMCCMap(), bindings, ledger, nil, nil, nil)
	req := authRequest(8750, "5411", "SAFEWAY #112", daytime())
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if resp := service.Authorize(ctx, req); resp.Result != ResultApproved {
			b.Fatalf("unexpected result %s", resp.Result)
		}
	}
}
