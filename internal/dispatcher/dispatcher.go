// Package dispatcher manages worker fan-out over the audit admission queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/queue/memory"
	"github.com/JakeFAU/site-auditor/internal/worker"
)

// ErrUnavailable is returned by Submit when the queue is full or shut down.
var ErrUnavailable = errors.New("audit service unavailable")

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   *memory.Queue[worker.Job]
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(queue *memory.Queue[worker.Job], workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger,
	}
}

// NewPool builds a queue of the given depth drained by concurrency workers
// that all hand jobs to runner.
func NewPool(runner worker.Runner, concurrency, depth int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	queue := memory.NewQueue[worker.Job](depth)
	workers := make([]*worker.Worker, 0, concurrency)
	for i := range concurrency {
		workers = append(workers, worker.New(queue, runner, logger.With(zap.Int("worker", i))))
	}
	return New(queue, workers, logger)
}

// Run starts all workers and blocks until the context finishes. Requests
// still queued at shutdown are answered with ErrUnavailable.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()

	pending := d.queue.Drain()
	if len(pending) > 0 {
		d.logger.Warn("rejecting queued audit requests at shutdown", zap.Int("count", len(pending)))
	}
	for _, job := range pending {
		select {
		case job.Reply <- worker.Result{Err: fmt.Errorf("%w: %w", ErrUnavailable, memory.ErrClosed)}:
		default:
		}
	}
}

// Submit admits one audit request and waits for its outcome. It fails fast
// with ErrUnavailable when no queue slot is free. If ctx ends first Submit
// returns the context error; an audit that already started still finishes.
func (d *Dispatcher) Submit(ctx context.Context, rawURL string) (string, error) {
	replyCh := make(chan worker.Result, 1)
	job := worker.Job{
		URL:       rawURL,
		Abandoned: ctx.Done(),
		Reply:     replyCh,
	}
	if err := d.queue.TryEnqueue(job); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	select {
	case res := <-replyCh:
		return res.AuditID, res.Err
	case <-ctx.Done():
		return "", fmt.Errorf("await audit: %w", ctx.Err())
	}
}

// Pending reports how many requests are waiting for a worker.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}
