package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureTransport struct {
	kind string
	mu   sync.Mutex
	sent []*Notification
	fail int // fail this many sends before succeeding
}

func (c *captureTransport) Kind() string { return c.kind }

func (c *captureTransport) Send(_ context.Context, n *Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail > 0 {
		c.fail--
		return errors.New("transport down")
	}
	c.sent = append(c.sent, n)
	return nil
}

func (c *captureTransport) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func TestDispatcherFansOutToAllTransports(t *testing.T) {
	push := &captureTransport{kind: "push"}
	sms := &captureTransport{kind: "sms"}
	d := NewDispatcher([]Transport{push, sms}, 2)

	d.Emit(&Notification{
		EventID:    "evt-1",
		AdvocateID: "advocate-1",
		Title:      "Break-glass triggered",
		Body:       "Agent attempted a $250.00 payment against a $200.00 limit.",
		Code:       "123456",
	})
	d.Shutdown()

	assert.Equal(t, 1, push.count())
	assert.Equal(t, 1, sms.count())

	attempts := d.Attempts()
	require.Len(t, attempts, 2)
	for _, a := range attempts {
		assert.True(t, a.OK)
		assert.Equal(t, "evt-1", a.EventID)
		assert.Equal(t, 1, a.Attempt)
	}
}

func TestDispatcherAssignsIDAndTimestamp(t *testing.T) {
	push := &captureTransport{kind: "push"}
	d := NewDispatcher([]Transport{push}, 1)

	n := &Notification{EventID: "evt-2", AdvocateID: "a"}
	d.Emit(n)
	d.Shutdown()

	assert.NotEmpty(t, n.ID)
	assert.False(t, n.CreatedAt.IsZero())
}

func TestDispatcherRecordsFailedAttempts(t *testing.T) {
	flaky := &captureTransport{kind: "push", fail: 1}
	d := NewDispatcher([]Transport{flaky}, 1)

	d.Emit(&Notification{EventID: "evt-3", AdvocateID: "a"})

	// First attempt fails, the retry lands after a 1s backoff.
	deadline := time.After(5 * time.Second)
	for flaky.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("retry never delivered")
		case <-time.After(50 * time.Millisecond):
		}
	}
	d.Shutdown()

	attempts := d.Attempts()
	require.Len(t, attempts, 2)
	assert.False(t, attempts[0].OK)
	assert.True(t, attempts[1].OK)
	assert.Equal(t, 2, attempts[1].Attempt)
}

func TestShutdownDuringRetryBackoff(t *testing.T) {
	down := &captureTransport{kind: "push", fail: maxAttempts}
	d := NewDispatcher([]Transport{down}, 1)

	d.Emit(&Notification{EventID: "evt-5", AdvocateID: "a"})

	// Wait for the first failed attempt, then shut down while its retry is
	// still in backoff.
	deadline := time.After(5 * time.Second)
	for len(d.Attempts()) == 0 {
		select {
		case <-deadline:
			t.Fatal("first attempt never recorded")
		case <-time.After(10 * time.Millisecond):
		}
	}
	d.Shutdown()

	// Let the backoff timer fire against the closed dispatcher; the retry is
	// dropped, not sent on a closed channel.
	time.Sleep(1200 * time.Millisecond)
	assert.Len(t, d.Attempts(), 1)

	// Emitting and shutting down again are no-ops.
	d.Emit(&Notification{EventID: "evt-6", AdvocateID: "a"})
	d.Shutdown()
	assert.Equal(t, 0, down.count())
}

func TestStubTransportsSucceed(t *testing.T) {
	n := &Notification{EventID: "evt-4", AdvocateID: "a", Title: "t", Body: "b"}
	for _, tr := range []Transport{PushTransport{}, SMSTransport{}, EmailTransport{}} {
		assert.NoError(t, tr.Send(context.Background(), n))
		assert.NotEmpty(t, tr.Kind())
	}
}
