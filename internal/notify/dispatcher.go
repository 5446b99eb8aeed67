package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	queueDepth     = 1000
	maxAttempts    = 3
	sendTimeout    = 10 * time.Second
	defaultWorkers = 2
)

// Attempt records one delivery try against one transport.
type Attempt struct {
	NotificationID string
	EventID        string
	Transport      string
	Attempt        int
	OK             bool
	At             time.Time
}

// Dispatcher fans notifications out to every configured transport through a
// bounded queue and a background worker pool. Enqueueing never blocks the
// caller; a full queue drops with a log line.
type Dispatcher struct {
	transports []Transport
	queue      chan *deliveryJob
	logger     *log.Logger
	wg         sync.WaitGroup

	// closeMu guards every send on queue against Shutdown closing it.
	closeMu sync.Mutex
	closed  bool

	mu       sync.Mutex
	attempts []Attempt
}

type deliveryJob struct {
	transport    Transport
	notification *Notification
	attempt      int
}

// NewDispatcher starts a dispatcher with the given transports and worker
// count.
func NewDispatcher(transports []Transport, workers int) *Dispatcher {
	if workers <= 0 {
		workers = defaultWorkers
	}
	d := &Dispatcher{
		transports: transports,
		queue:      make(chan *deliveryJob, queueDepth),
		logger:     log.New(log.Writer(), "[Notify] ", log.LstdFlags),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Emit queues a notification for every transport. Returns immediately.
func (d *Dispatcher) Emit(n *Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	for _, tr := range d.transports {
		if !d.enqueue(&deliveryJob{transport: tr, notification: n, attempt: 1}) {
			d.logger.Printf("dropping %s notification for event %s", tr.Kind(), n.EventID)
		}
	}
}

// enqueue attempts a non-blocking send. Returns false when the queue is full
// or the dispatcher has shut down.
func (d *Dispatcher) enqueue(job *deliveryJob) bool {
	d.closeMu.Lock()
	defer d.closeMu.Unlock()
	if d.closed {
		return false
	}
	select {
	case d.queue <- job:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job *deliveryJob) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	err := job.transport.Send(ctx, job.notification)
	cancel()

	d.record(Attempt{
		NotificationID: job.notification.ID,
		EventID:        job.notification.EventID,
		Transport:      job.transport.Kind(),
		Attempt:        job.attempt,
		OK:             err == nil,
		At:             time.Now().UTC(),
	})

	if err == nil {
		return
	}

	d.logger.Printf("delivery failed via %s (attempt %d): %v", job.transport.Kind(), job.attempt, err)
	if job.attempt < maxAttempts {
		backoff := time.Duration(job.attempt*job.attempt) * time.Second
		job.attempt++
		// Requeue from a timer so the worker stays free during backoff.
		time.AfterFunc(backoff, func() {
			if !d.enqueue(job) {
				d.logger.Printf("dropping retry via %s for event %s", job.transport.Kind(), job.notification.EventID)
			}
		})
	}
}

func (d *Dispatcher) record(a Attempt) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts = append(d.attempts, a)
}

// Attempts returns a snapshot of recorded delivery attempts.
func (d *Dispatcher) Attempts() []Attempt {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Attempt, len(d.attempts))
	copy(out, d.attempts)
	return out
}

// Shutdown drains the queue and stops the workers. Retries still in backoff
// are dropped. Safe to call more than once.
func (d *Dispatcher) Shutdown() {
	d.closeMu.Lock()
	if d.closed {
		d.closeMu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.closeMu.Unlock()
	d.wg.Wait()
}
