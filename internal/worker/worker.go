// Package worker implements the audit admission execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/queue/memory"
)

// Job is one admitted StartAudit request.
type Job struct {
	URL string
	// Abandoned is closed once the submitter stops waiting. A job whose
	// submitter left before dequeue is dropped without creating an audit.
	Abandoned <-chan struct{}
	// Reply receives exactly one Result. It must be buffered.
	Reply chan<- Result
}

// Result carries the outcome of a Job back to its submitter.
type Result struct {
	AuditID string
	Err     error
}

// ErrAbandoned is recorded when a job is skipped because its submitter left.
var ErrAbandoned = errors.New("audit request abandoned before start")

// Queue is the subset of the admission queue a Worker consumes.
type Queue interface {
	Dequeue(ctx context.Context) (Job, error)
}

// Runner executes one audit end to end.
type Runner interface {
	StartAudit(ctx context.Context, rawURL string) (string, error)
}

// Worker consumes queued jobs and runs them through the orchestrator.
type Worker struct {
	queue  Queue
	runner Runner
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue Queue, runner Runner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:  queue,
		runner: runner,
		logger: logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed and empty.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, memory.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued audit request", zap.String("url", job.URL))
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	select {
	case <-job.Abandoned:
		w.logger.Info("dropping abandoned audit request", zap.String("url", job.URL))
		reply(job, Result{Err: ErrAbandoned})
		return
	default:
	}
	if w.runner == nil {
		reply(job, Result{Err: fmt.Errorf("no audit runner configured")})
		return
	}
	auditID, err := w.runner.StartAudit(ctx, job.URL)
	reply(job, Result{AuditID: auditID, Err: err})
}

func reply(job Job, res Result) {
	if job.Reply == nil {
		return
	}
	select {
	case job.Reply <- res:
	default:
	}
}
