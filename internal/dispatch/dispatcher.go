package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/fleetbridge/backend/internal/inventory"
	"github.com/fleetbridge/backend/internal/ledger"
	"github.com/fleetbridge/backend/internal/logger"
	"github.com/fleetbridge/backend/internal/models"
	"github.com/fleetbridge/backend/internal/queue"
	"github.com/fleetbridge/backend/internal/routing"
)

// Dispatcher turns an accepted job into exactly one dispatch message on the
// right worker pool. Target resolution here only feeds the routing decision;
// the worker resolves again at execution time, which is safe because
// resolution is deterministic for an unchanged inventory.
type Dispatcher struct {
	ledger   *ledger.Ledger
	resolver *inventory.Resolver
	router   *routing.Router
	queue    queue.Queue
}

func NewDispatcher(led *ledger.Ledger, resolver *inventory.Resolver, router *routing.Router, q queue.Queue) *Dispatcher {
	return &Dispatcher{ledger: led, resolver: resolver, router: router, queue: q}
}

// Dispatch routes and enqueues one job. Resolution or routing trouble at
// this stage falls back to the default pool; the worker owns failure
// semantics so every job still gets a terminal status.
func (d *Dispatcher) Dispatch(ctx context.Context, job *models.Job) error {
	first, err := d.ledger.MarkDispatched(job.ID)
	if err != nil {
		return err
	}
	if !first {
		logger.WithJob(job.ID, string(job.Type)).Warn("job already dispatched, skipping enqueue")
		return nil
	}

	var region *models.Region
	hosts, err := d.resolver.Resolve(job.TenantID, job.TargetFilter)
	if err != nil {
		logger.WithJob(job.ID, string(job.Type)).WithField("error", err.Error()).
			Warn("resolution failed at dispatch, routing to default pool")
	} else {
		region, err = d.router.SelectForHosts(job.TenantID, hosts)
		if err != nil {
			logger.WithJob(job.ID, string(job.Type)).WithField("error", err.Error()).
				Warn("region selection failed, routing to default pool")
			region = nil
		}
	}

	if region != nil {
		if err := d.ledger.AssignRegion(job.ID, &region.ID); err != nil {
			// Likely cancelled between accept and dispatch; the worker-side
			// transition will sort the job out either way.
			logger.WithJob(job.ID, string(job.Type)).WithField("error", err.Error()).
				Warn("could not record region assignment")
		}
	}

	key := queue.KeyFor(region)
	if err := d.queue.Enqueue(ctx, key, queue.NewDispatchMessage(job.ID)); err != nil {
		return fmt.Errorf("failed to enqueue job %d: %w", job.ID, err)
	}
	logger.WithJob(job.ID, string(job.Type)).WithField("queue", key).Info("job dispatched")
	return nil
}

// Poller promotes scheduled jobs whose time has come. It is the only
// component that dispatches scheduled jobs, and MarkDispatched keeps a
// restarted poller from double-enqueueing.
type Poller struct {
	ledger     *ledger.Ledger
	dispatcher *Dispatcher
	interval   time.Duration
}

func NewPoller(led *ledger.Ledger, d *Dispatcher, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{ledger: led, dispatcher: d, interval: interval}
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	due, err := p.ledger.DueScheduled(time.Now())
	if err != nil {
		logger.Error("Failed to list due scheduled jobs", map[string]interface{}{"error": err.Error()})
		return
	}
	for i := range due {
		job := due[i]
		if err := p.dispatcher.Dispatch(ctx, &job); err != nil {
			logger.WithJob(job.ID, string(job.Type)).WithField("error", err.Error()).
				Error("failed to dispatch scheduled job")
		}
	}
}
