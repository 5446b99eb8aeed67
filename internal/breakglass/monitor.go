package breakglass

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Velodev-io/Project-Aegis-Proto/internal/audit"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/core"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/crypto"
	"github.com/Velodev-io/Project-Aegis-Proto/internal/notify"
)

// Monitor drives break-glass events through their state machine. Every
// transition on an event is serialized by a per-event lock: of concurrent
// approve/deny/expire attempts, exactly one wins.
type Monitor struct {
	store      Store
	totpSecret []byte
	notifier   *notify.Dispatcher
	liveness   LivenessEvaluator
	ledger     *audit.Ledger
	clock      func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// TriggerParams describe the escalation being opened.
type TriggerParams struct {
	POAID            string
	AuditEntryID     int64
	AdvocateID       string
	Trigger          string
	Details          map[string]interface{}
	LivenessRequired bool
}

// NewMonitor builds a Monitor. The notifier and ledger may be nil in tests.
func NewMonitor(store Store, totpSecret []byte, notifier *notify.Dispatcher, liveness LivenessEvaluator, ledger *audit.Ledger) *Monitor {
	if liveness == nil {
		liveness = StubEvaluator{}
	}
	return &Monitor{
		store:      store,
		totpSecret: totpSecret,
		notifier:   notifier,
		liveness:   liveness,
		ledger:     ledger,
		clock:      time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
}

// SetClock overrides the time source. Tests only.
func (m *Monitor) SetClock(clock func() time.Time) {
	m.clock = clock
}

func (m *Monitor) lockFor(eventID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[eventID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[eventID] = l
	}
	return l
}

// Trigger opens a PENDING event, generates the OTP challenge, and enqueues
// advocate notifications. Only the OTP hash is persisted; the plaintext
// code travels to the advocate through the notifier and is never returned
// to the caller.
func (m *Monitor) Trigger(ctx context.Context, params TriggerParams) (*Event, error) {
	if params.POAID == "" || params.AdvocateID == "" || params.Trigger == "" {
		return nil, fmt.Errorf("%w: poa, advocate and trigger are required", core.ErrInvalidArgument)
	}

	now := m.clock().UTC()
	code := crypto.TOTPCode(m.totpSecret, now)

	mode := ModeOTP
	if params.LivenessRequired {
		mode = ModeOTPLiveness
	}

	event := &Event{
		ID:               uuid.NewString(),
		AuditEntryID:     params.AuditEntryID,
		POAID:            params.POAID,
		Trigger:          params.Trigger,
		Details:          params.Details,
		Status:           StatusPending,
		AdvocateID:       params.AdvocateID,
		Mode:             mode,
		OTPHash:          crypto.HashOTP(code),
		OTPSentAt:        now,
		LivenessRequired: params.LivenessRequired,
		CreatedAt:        now,
		ExpiresAt:        now.Add(EventTTL),
	}

	if err := m.store.SaveEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("%w: save event: %v", core.ErrStorageFailure, err)
	}

	if m.notifier != nil {
		m.notifier.Emit(&notify.Notification{
			EventID:    event.ID,
			AdvocateID: event.AdvocateID,
			Title:      "Aegis: approval required",
			Body:       notificationBody(params),
			Code:       code,
			Metadata: map[string]interface{}{
				"trigger":           event.Trigger,
				"poa_id":            event.POAID,
				"liveness_required": event.LivenessRequired,
				"expires_at":        event.ExpiresAt,
			},
		})
		if m.ledger != nil && event.AuditEntryID != 0 {
			if err := m.ledger.MarkAdvocateNotified(ctx, event.AuditEntryID, event.AdvocateID); err != nil {
				slog.Warn("failed to mark advocate notified", "event", event.ID, "error", err)
			}
		}
	}

	slog.Info("break-glass triggered", "event", event.ID, "poa", event.POAID,
		"trigger", event.Trigger, "mode", event.Mode)
	return event, nil
}

func notificationBody(p TriggerParams) string {
	if amount, ok := p.Details["amount"].(float64); ok {
		if limit, ok := p.Details["spend_limit"].(float64); ok {
			return fmt.Sprintf("An agent attempted a $%.2f transaction against a $%.2f limit. Verify with the code in this message, or deny.", amount, limit)
		}
		return fmt.Sprintf("An agent attempted a $%.2f transaction outside its mandate. Verify with the code in this message, or deny.", amount)
	}
	return "An agent attempted an action outside its mandate. Verify with the code in this message, or deny."
}

// Get fetches one event.
func (m *Monitor) Get(ctx context.Context, id string) (*Event, error) {
	return m.store.GetEvent(ctx, id)
}

// Pending lists unresolved events, expiring stale ones on the way out.
func (m *Monitor) Pending(ctx context.Context, advocateID string) ([]*Event, error) {
	events, err := m.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	now := m.clock().UTC()
	var out []*Event
	for _, e := range events {
		if e.ExpiredAt(now) {
			if _, err := m.expireLocked(ctx, e.ID); err != nil {
				slog.Warn("failed to expire event", "event", e.ID, "error", err)
			}
			continue
		}
		if advocateID != "" && e.AdvocateID != advocateID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// VerifyOTP checks a submitted code. A code is accepted if it matches the
// stored hash or any TOTP step within one window either side. In OTP-only
// mode a successful check approves the event immediately; in OTP+LIVENESS
// mode the event stays PENDING awaiting the liveness check.
func (m *Monitor) VerifyOTP(ctx context.Context, eventID, code string) (*Event, error) {
	lock := m.lockFor(eventID)
	lock.Lock()
	defer lock.Unlock()

	event, err := m.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Terminal() {
		return event, fmt.Errorf("%w: event is %s", core.ErrConflictState, event.Status)
	}

	now := m.clock().UTC()
	if event.ExpiredAt(now) {
		return m.markExpired(ctx, event, now)
	}

	matched := crypto.HashOTP(code) == event.OTPHash ||
		crypto.VerifyTOTP(m.totpSecret, code, now, 1)
	if !matched {
		return event, fmt.Errorf("%w: verification code does not match", core.ErrUnauthenticated)
	}

	event.OTPVerifiedAt = &now
	if !event.LivenessRequired {
		event.Status = StatusApproved
		event.ApprovedAt = &now
		event.ApprovedBy = event.AdvocateID
	}

	if err := m.store.UpdateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("%w: update event: %v", core.ErrStorageFailure, err)
	}

	if event.Status == StatusApproved {
		m.logResolution(ctx, event, "OTP verified")
	}
	slog.Info("break-glass OTP verified", "event", event.ID, "status", event.Status)
	return event, nil
}

// VerifyLiveness runs the liveness evaluator for an event whose OTP has
// already been verified. Success approves the event.
func (m *Monitor) VerifyLiveness(ctx context.Context, eventID, method string, artifact []byte) (*Event, error) {
	lock := m.lockFor(eventID)
	lock.Lock()
	defer lock.Unlock()

	event, err := m.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Terminal() {
		return event, fmt.Errorf("%w: event is %s", core.ErrConflictState, event.Status)
	}

	now := m.clock().UTC()
	if event.ExpiredAt(now) {
		return m.markExpired(ctx, event, now)
	}
	if !event.LivenessRequired {
		return event, fmt.Errorf("%w: liveness not required for this event", core.ErrConflictState)
	}
	if event.OTPVerifiedAt == nil {
		return event, fmt.Errorf("%w: OTP must be verified first", core.ErrConflictState)
	}

	result, err := m.liveness.Evaluate(ctx, method, artifact)
	if err != nil {
		return event, err
	}

	if event.LivenessData == nil {
		event.LivenessData = make(map[string]interface{})
	}
	event.LivenessData[method] = map[string]interface{}{
		"confidence": result.Confidence,
		"ok":         result.OK,
		"checked_at": now,
	}

	if !result.OK || result.Confidence < LivenessThreshold {
		if err := m.store.UpdateEvent(ctx, event); err != nil {
			return nil, fmt.Errorf("%w: update event: %v", core.ErrStorageFailure, err)
		}
		return event, fmt.Errorf("%w: liveness confidence %.2f below threshold", core.ErrUnauthenticated, result.Confidence)
	}

	event.LivenessVerified = true
	event.LivenessVerifiedAt = &now
	event.Status = StatusApproved
	event.ApprovedAt = &now
	event.ApprovedBy = event.AdvocateID

	if err := m.store.UpdateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("%w: update event: %v", core.ErrStorageFailure, err)
	}

	m.logResolution(ctx, event, fmt.Sprintf("OTP and %s liveness verified (%.2f)", method, result.Confidence))
	slog.Info("break-glass approved after liveness", "event", event.ID, "method", method)
	return event, nil
}

// Deny resolves a PENDING event as DENIED.
func (m *Monitor) Deny(ctx context.Context, eventID, denier, reason string) (*Event, error) {
	lock := m.lockFor(eventID)
	lock.Lock()
	defer lock.Unlock()

	event, err := m.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Terminal() {
		return event, fmt.Errorf("%w: event is %s", core.ErrConflictState, event.Status)
	}

	now := m.clock().UTC()
	if event.ExpiredAt(now) {
		return m.markExpired(ctx, event, now)
	}

	event.Status = StatusDenied
	event.DeniedAt = &now
	event.DeniedBy = denier
	event.DenyReason = reason

	if err := m.store.UpdateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("%w: update event: %v", core.ErrStorageFailure, err)
	}

	m.logResolution(ctx, event, fmt.Sprintf("denied by %s: %s", denier, reason))
	slog.Info("break-glass denied", "event", event.ID, "by", denier)
	return event, nil
}

// SweepExpired transitions every overdue PENDING event to EXPIRED and
// returns how many it closed.
func (m *Monitor) SweepExpired(ctx context.Context) int {
	events, err := m.store.ListPending(ctx)
	if err != nil {
		slog.Warn("sweep: list pending failed", "error", err)
		return 0
	}
	now := m.clock().UTC()
	swept := 0
	for _, e := range events {
		if !e.ExpiredAt(now) {
			continue
		}
		if _, err := m.expireLocked(ctx, e.ID); err == nil {
			swept++
		}
	}
	return swept
}

// StartSweeper runs SweepExpired on an interval until ctx is cancelled.
func (m *Monitor) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.SweepExpired(ctx); n > 0 {
					slog.Info("swept expired break-glass events", "count", n)
				}
			}
		}
	}()
}

func (m *Monitor) expireLocked(ctx context.Context, eventID string) (*Event, error) {
	lock := m.lockFor(eventID)
	lock.Lock()
	defer lock.Unlock()

	event, err := m.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Terminal() {
		return event, nil
	}
	return m.markExpired(ctx, event, m.clock().UTC())
}

func (m *Monitor) markExpired(ctx context.Context, event *Event, now time.Time) (*Event, error) {
	event.Status = StatusExpired
	if err := m.store.UpdateEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("%w: expire event: %v", core.ErrStorageFailure, err)
	}
	m.logResolution(ctx, event, "resolution window elapsed")
	slog.Info("break-glass expired", "event", event.ID)
	return event, nil
}

// logResolution appends the final status to the fiduciary ledger. The state
// transition has already been persisted; a ledger fault here is logged, not
// unwound.
func (m *Monitor) logResolution(ctx context.Context, event *Event, detail string) {
	if m.ledger == nil {
		return
	}
	_, err := m.ledger.Append(ctx, audit.AppendRequest{
		POAID:      event.POAID,
		ActionType: audit.ActionBreakGlassClose,
		Decision:   audit.DecisionAllowed,
		Reasoning:  fmt.Sprintf("break-glass event %s resolved as %s: %s", event.ID, event.Status, detail),
		RequestDetails: map[string]interface{}{
			"event_id": event.ID,
			"status":   event.Status,
			"trigger":  event.Trigger,
		},
	})
	if err != nil {
		slog.Warn("failed to log break-glass resolution", "event", event.ID, "error", err)
	}
}
