package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fleetbridge/backend/internal/inventory"
	"github.com/fleetbridge/backend/internal/logger"
	"github.com/fleetbridge/backend/internal/models"
	"golang.org/x/sync/semaphore"
)

// OperationFunc performs the job's operation against one host. It must do
// exactly one protocol-level action; retries and fan-out live elsewhere.
type OperationFunc func(ctx context.Context, host inventory.HostDescriptor) (map[string]interface{}, error)

// LogSink receives one entry per host outcome plus job-level notes.
// Satisfied by the ledger.
type LogSink interface {
	AppendLog(jobID uint, level models.LogLevel, message, host string, extra models.JSONB) (*models.JobLogEntry, error)
}

type Config struct {
	MaxInFlight int64         // concurrent per-host operations per job
	HostTimeout time.Duration // enforced per host, not per job
}

const (
	DefaultMaxInFlight = 16
	DefaultHostTimeout = 60 * time.Second
)

// Result is the executor's verdict for one job execution.
type Result struct {
	Status  models.JobStatus
	Summary models.ResultSummary
}

// Executor fans an operation out over a job's hosts under a concurrency
// bound, isolating every per-host failure from its siblings.
type Executor struct {
	cfg  Config
	sink LogSink
}

func New(cfg Config, sink LogSink) *Executor {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.HostTimeout <= 0 {
		cfg.HostTimeout = DefaultHostTimeout
	}
	return &Executor{cfg: cfg, sink: sink}
}

// Execute runs op once per host. cancelled is the cooperative cancellation
// check, consulted between dispatches: hosts already in flight finish, new
// ones are not started. Outcomes collected so far always make it into the
// summary, whatever the final status.
func (e *Executor) Execute(ctx context.Context, job *models.Job, hosts []inventory.HostDescriptor, op OperationFunc, cancelled func() bool) Result {
	if len(hosts) == 0 {
		return Result{
			Status: models.JobStatusFailed,
			Summary: models.ResultSummary{
				NoTargets: true,
				Reason:    "no targets matched",
			},
		}
	}

	type indexed struct {
		idx     int
		outcome models.HostResult
	}

	sem := semaphore.NewWeighted(e.cfg.MaxInFlight)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		collected []indexed
	)
	wasCancelled := false

	for i, host := range hosts {
		if cancelled != nil && cancelled() {
			wasCancelled = true
			logger.WithJob(job.ID, string(job.Type)).Warn("cancellation observed, no further hosts dispatched")
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context gone; treat like cancellation for the remaining hosts.
			wasCancelled = true
			break
		}
		wg.Add(1)
		go func(idx int, h inventory.HostDescriptor) {
			defer wg.Done()
			defer sem.Release(1)
			outcome := e.runHost(ctx, job, h, op)
			mu.Lock()
			collected = append(collected, indexed{idx: idx, outcome: outcome})
			mu.Unlock()
		}(i, host)
	}

	wg.Wait()

	sort.Slice(collected, func(a, b int) bool { return collected[a].idx < collected[b].idx })
	outcomes := make([]models.HostResult, 0, len(collected))
	succeeded, failed := 0, 0
	for _, c := range collected {
		outcomes = append(outcomes, c.outcome)
		if c.outcome.Succeeded {
			succeeded++
		} else {
			failed++
		}
	}

	summary := models.ResultSummary{
		Total:     len(hosts),
		Succeeded: succeeded,
		Failed:    failed,
		Hosts:     outcomes,
	}

	status := reduce(succeeded, failed)
	if wasCancelled {
		status = models.JobStatusCancelled
		summary.Reason = "cancelled during execution"
	}
	return Result{Status: status, Summary: summary}
}

// reduce folds per-host outcomes into the aggregate status.
func reduce(succeeded, failed int) models.JobStatus {
	switch {
	case failed == 0:
		return models.JobStatusSuccess
	case succeeded == 0:
		return models.JobStatusFailed
	default:
		return models.JobStatusPartial
	}
}

// runHost executes op against a single host with an enforced timeout. Any
// error, timeout or panic becomes a recorded outcome, never an abort of the
// sibling hosts. The outcome is appended to the job log before it counts
// toward the aggregate, so partial progress stays visible.
func (e *Executor) runHost(ctx context.Context, job *models.Job, host inventory.HostDescriptor, op OperationFunc) models.HostResult {
	start := time.Now()
	hctx, cancel := context.WithTimeout(ctx, e.cfg.HostTimeout)
	defer cancel()

	type opResult struct {
		data map[string]interface{}
		err  error
	}
	done := make(chan opResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- opResult{err: fmt.Errorf("operation panic: %v", r)}
			}
		}()
		data, err := op(hctx, host)
		done <- opResult{data: data, err: err}
	}()

	outcome := models.HostResult{Host: host.Name}
	var data map[string]interface{}
	select {
	case res := <-done:
		outcome.DurationMs = time.Since(start).Milliseconds()
		if res.err != nil {
			outcome.Error = res.err.Error()
			outcome.ErrorCode = models.ErrCodeOperation
		} else {
			outcome.Succeeded = true
			data = res.data
		}
	case <-hctx.Done():
		// The operation goroutine is left to finish on its own; its result
		// is discarded. The host is recorded as timed out either way.
		outcome.DurationMs = time.Since(start).Milliseconds()
		outcome.Error = fmt.Sprintf("operation timed out after %s", e.cfg.HostTimeout)
		outcome.ErrorCode = models.ErrCodeTimeout
	}

	e.logOutcome(job.ID, host.Name, outcome, data)
	return outcome
}

func (e *Executor) logOutcome(jobID uint, host string, outcome models.HostResult, data map[string]interface{}) {
	extra := models.JSONB{"durationMs": outcome.DurationMs}
	level := models.LogLevelInfo
	message := "operation succeeded"
	if !outcome.Succeeded {
		level = models.LogLevelError
		message = outcome.Error
		extra["errorCode"] = outcome.ErrorCode
	} else if len(data) > 0 {
		extra["data"] = map[string]interface{}(data)
	}
	if _, err := e.sink.AppendLog(jobID, level, message, host, extra); err != nil {
		logger.WithHost(jobID, host).WithField("error", err.Error()).Error("failed to append host outcome log")
	}
}
