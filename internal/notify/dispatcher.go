package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alecgard/teamspace/internal/metrics"
)

// message is one queued delivery to a single recipient.
type message struct {
	to      string
	subject string
	body    string
}

// Dispatcher queues notifications in memory and delivers them from a fixed
// pool of workers. Notify never blocks and never reports delivery failures;
// they are logged and counted. It is safe for concurrent use.
type Dispatcher struct {
	sink        Sink
	queue       chan message
	workers     int
	sendTimeout time.Duration
	metrics     *metrics.Metrics

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	started sync.Once
	stopped sync.Once
}

// NewDispatcher creates a Dispatcher that holds up to queueSize pending
// deliveries and sends them through sink with workers goroutines.
func NewDispatcher(sink Sink, workers, queueSize int, sendTimeout time.Duration, m *metrics.Metrics) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		sink:        sink,
		queue:       make(chan message, queueSize),
		workers:     workers,
		sendTimeout: sendTimeout,
		metrics:     m,
	}
}

// Start launches the worker goroutines. Calling it more than once has no
// further effect.
func (d *Dispatcher) Start() {
	d.started.Do(func() {
		for i := 0; i < d.workers; i++ {
			d.wg.Add(1)
			go d.work()
		}
	})
}

// Notify enqueues one delivery per recipient. Empty recipients are skipped.
// When the queue is full, or the dispatcher is stopped, the delivery is
// dropped.
func (d *Dispatcher) Notify(to []string, subject, body string) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, addr := range to {
		if addr == "" {
			continue
		}
		if d.closed {
			d.drop(addr, subject, "dispatcher stopped")
			continue
		}
		select {
		case d.queue <- message{to: addr, subject: subject, body: body}:
			d.metrics.SetNotifyQueueDepth(len(d.queue))
		default:
			d.drop(addr, subject, "queue full")
		}
	}
}

func (d *Dispatcher) drop(to, subject, reason string) {
	slog.Warn("notification dropped", "to", to, "subject", subject, "reason", reason)
	d.metrics.IncNotification("dropped")
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for msg := range d.queue {
		d.metrics.SetNotifyQueueDepth(len(d.queue))
		d.deliver(msg)
	}
}

// deliver sends one message. It logs errors rather than returning them so
// the caller's state change is never affected.
func (d *Dispatcher) deliver(msg message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	start := time.Now()
	err := d.sink.Send(ctx, []string{msg.to}, msg.subject, msg.body)
	d.metrics.ObserveNotifySend(time.Since(start).Seconds())

	if err != nil {
		slog.Error("failed to deliver notification", "to", msg.to, "subject", msg.subject, "error", err)
		d.metrics.IncNotification("failed")
		return
	}
	d.metrics.IncNotification("sent")
}

// Stop refuses new notifications, waits for queued ones to be delivered and
// returns once every worker has exited. Workers that were never started are
// run now to drain the queue.
func (d *Dispatcher) Stop() {
	d.stopped.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()

		d.Start()
		d.wg.Wait()
		d.metrics.SetNotifyQueueDepth(0)
	})
}
