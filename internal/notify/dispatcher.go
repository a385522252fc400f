package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"qms/token-service/internal/metrics"
	"qms/token-service/internal/models"
	"qms/token-service/internal/phone"
)

type Config struct {
	QueueSize int
	Workers   int
	Timeout   time.Duration
	Template  string
}

// Dispatcher sends notification requests in the background. Enqueue never
// blocks and delivery failures are only logged and counted.
type Dispatcher struct {
	provider Provider
	queue    chan models.NotifyRequest
	workers  int
	timeout  time.Duration
	template string
	logger   *slog.Logger
	metrics  metrics.Recorder

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(provider Provider, cfg Config, logger *slog.Logger, recorder metrics.Recorder) *Dispatcher {
	size := cfg.QueueSize
	if size <= 0 {
		size = 128
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 2
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = metrics.NewNop()
	}
	return &Dispatcher{
		provider: provider,
		queue:    make(chan models.NotifyRequest, size),
		workers:  workers,
		timeout:  timeout,
		template: cfg.Template,
		logger:   logger,
		metrics:  recorder,
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for req := range d.queue {
				d.send(ctx, req)
			}
		}()
	}
}

func (d *Dispatcher) Enqueue(req models.NotifyRequest) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.metrics.ObserveNotification("dropped")
		return
	}
	select {
	case d.queue <- req:
	default:
		d.metrics.ObserveNotification("dropped")
		d.logger.Warn("notification queue full, dropping request", "token_id", req.TokenID)
	}
}

// Close stops intake and waits for queued requests to be sent, or for ctx.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) send(ctx context.Context, req models.NotifyRequest) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	message := Render(d.template, req)
	if err := d.provider.Send(ctx, message, req.Phone); err != nil {
		d.metrics.ObserveNotification("failed")
		d.logger.Warn("notification failed", "token_id", req.TokenID, "recipient", phone.Mask(req.Phone), "error", err)
		return
	}
	d.metrics.ObserveNotification("sent")
}
