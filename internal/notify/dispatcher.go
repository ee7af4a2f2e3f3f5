package notify

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_notifications_total",
	Help: "Transfer notices handled by the dispatcher, labeled by result",
}, []string{"result"})

// Dispatcher delivers transfer notices in the background. Submit never
// blocks the caller and delivery failures are only logged.
type Dispatcher struct {
	notifier Notifier
	queue    chan TransferNotice
	workers  int
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(notifier Notifier, workers, queueSize int, timeout time.Duration, logger *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		notifier: notifier,
		queue:    make(chan TransferNotice, queueSize),
		workers:  workers,
		timeout:  timeout,
		logger:   logger,
	}
}

// Start launches the workers.
func (d *Dispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

// Submit enqueues n. It returns false when the notice was dropped because
// the queue is full or the dispatcher is closed.
func (d *Dispatcher) Submit(n TransferNotice) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		notificationsTotal.WithLabelValues("dropped").Inc()
		d.logger.Warn("Dispatcher closed, dropping transfer notice",
			zap.String("transfer_id", n.TransferID), zap.String("direction", string(n.Direction)))
		return false
	}

	select {
	case d.queue <- n:
		return true
	default:
		notificationsTotal.WithLabelValues("dropped").Inc()
		d.logger.Warn("Notification queue full, dropping transfer notice",
			zap.String("transfer_id", n.TransferID), zap.String("direction", string(n.Direction)))
		return false
	}
}

// Close stops accepting notices and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for n := range d.queue {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n TransferNotice) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.notifier.Notify(ctx, n); err != nil {
		notificationsTotal.WithLabelValues("failed").Inc()
		d.logger.Error("Failed to deliver transfer notice",
			zap.String("transfer_id", n.TransferID),
			zap.String("direction", string(n.Direction)),
			zap.Error(err))
		return
	}
	notificationsTotal.WithLabelValues("delivered").Inc()
	d.logger.Debug("Transfer notice delivered",
		zap.String("transfer_id", n.TransferID), zap.String("direction", string(n.Direction)))
}
