package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/fleetbridge/backend/internal/executor"
	"github.com/fleetbridge/backend/internal/inventory"
	"github.com/fleetbridge/backend/internal/ledger"
	"github.com/fleetbridge/backend/internal/logger"
	"github.com/fleetbridge/backend/internal/models"
	"github.com/fleetbridge/backend/internal/ops"
	"github.com/fleetbridge/backend/internal/queue"
)

// Worker is a stateless job runner: each dispatch message carries only a job
// id and everything else is reconstructed from the ledger, so any worker
// instance can pick up any job.
type Worker struct {
	ledger   *ledger.Ledger
	resolver *inventory.Resolver
	registry *ops.Registry
	executor *executor.Executor
	queue    queue.Queue
	keys     []string
}

func New(led *ledger.Ledger, resolver *inventory.Resolver, registry *ops.Registry, exec *executor.Executor, q queue.Queue, keys []string) *Worker {
	if len(keys) == 0 {
		keys = []string{queue.DefaultKey}
	}
	return &Worker{
		ledger:   led,
		resolver: resolver,
		registry: registry,
		executor: exec,
		queue:    q,
		keys:     keys,
	}
}

// Run consumes dispatch messages until the context is cancelled. Dequeue
// errors are retried with exponential backoff; a failing job never takes the
// process down with it.
func (w *Worker) Run(ctx context.Context) {
	for {
		var msg queue.DispatchMessage
		dequeue := func() error {
			var err error
			msg, err = w.queue.Dequeue(ctx, w.keys)
			if err != nil && (ctx.Err() != nil || errors.Is(err, queue.ErrClosed)) {
				return backoff.Permanent(err)
			}
			return err
		}
		err := backoff.Retry(dequeue, backoff.WithContext(backoff.NewExponentialBackOff(), ctx))
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			logger.Error("Dequeue failed after retries", map[string]interface{}{"error": err.Error()})
			continue
		}
		w.Process(ctx, msg.JobID)
	}
}

// Process runs one job end to end. Exported so a single-binary deployment or
// a test can drive the pipeline without the queue loop.
func (w *Worker) Process(ctx context.Context, jobID uint) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Worker pipeline panicked", map[string]interface{}{"jobID": jobID, "panic": fmt.Sprint(r)})
			w.finalizeFailed(jobID, fmt.Sprintf("internal worker error: %v", r))
		}
	}()

	job, err := w.ledger.Transition(jobID, models.JobStatusRunning, nil)
	if err != nil {
		// Duplicate delivery or a job cancelled before pickup; either way
		// the persisted state already tells the truth, so just move on.
		logger.Warn("Skipping dispatch message", map[string]interface{}{"jobID": jobID, "reason": err.Error()})
		return
	}
	log := logger.WithJob(job.ID, string(job.Type))
	log.Info("job picked up")

	op, err := w.registry.Operation(job.Type, job.Payload)
	if err != nil {
		w.appendJobError(job.ID, fmt.Sprintf("cannot build operation: %v", err))
		w.finalizeFailed(job.ID, err.Error())
		return
	}

	hosts, err := w.resolver.Resolve(job.TenantID, job.TargetFilter)
	if err != nil {
		w.appendJobError(job.ID, fmt.Sprintf("target resolution failed: %v", err))
		w.finalizeFailed(job.ID, fmt.Sprintf("resolution failed: %v", err))
		return
	}

	cancelled := func() bool { return w.ledger.IsCancelRequested(job.ID) }
	result := w.executor.Execute(ctx, job, hosts, op, cancelled)

	if _, err := w.ledger.Transition(job.ID, result.Status, &result.Summary); err != nil {
		log.WithField("error", err.Error()).Error("failed to finalize job")
		return
	}
	log.WithField("status", string(result.Status)).Info("job finished")
}

func (w *Worker) appendJobError(jobID uint, message string) {
	if _, err := w.ledger.AppendLog(jobID, models.LogLevelError, message, "", nil); err != nil {
		logger.Error("Failed to append job-level error log", map[string]interface{}{"jobID": jobID, "error": err.Error()})
	}
}

func (w *Worker) finalizeFailed(jobID uint, reason string) {
	summary := &models.ResultSummary{Reason: reason}
	if _, err := w.ledger.Transition(jobID, models.JobStatusFailed, summary); err != nil {
		logger.Error("Failed to mark job failed", map[string]interface{}{"jobID": jobID, "error": err.Error()})
	}
}
