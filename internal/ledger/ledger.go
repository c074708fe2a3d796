package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fleetbridge/backend/internal/logger"
	"github.com/fleetbridge/backend/internal/models"
	"gorm.io/gorm"
)

var (
	ErrInvalidRequest    = errors.New("invalid job request")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrAlreadyTerminal   = errors.New("job already in a terminal status")
	ErrNotFound          = errors.New("job not found")
)

// validSources lists, for each target status, the statuses a job may come
// from. Terminal statuses appear as sources nowhere, so nothing leaves them.
var validSources = map[models.JobStatus][]models.JobStatus{
	models.JobStatusScheduled: {models.JobStatusQueued},
	models.JobStatusRunning:   {models.JobStatusQueued, models.JobStatusScheduled},
	models.JobStatusSuccess:   {models.JobStatusRunning},
	models.JobStatusPartial:   {models.JobStatusRunning},
	models.JobStatusFailed:    {models.JobStatusRunning},
	models.JobStatusCancelled: {models.JobStatusQueued, models.JobStatusScheduled, models.JobStatusRunning},
}

// Publisher receives every committed log entry, including the synthetic
// entries emitted for status changes. Wired to the fan-out hub.
type Publisher interface {
	Publish(jobID uint, entry models.JobLogEntry)
}

// PayloadValidator checks an operation payload against the schema of its job
// type. Wired to the ops registry so the ledger stays free of per-type code.
type PayloadValidator func(t models.JobType, payload models.JSONB) error

// Ledger is the authoritative record of job identity, status and result.
// All status changes go through Transition, which enforces the state machine
// against the persisted row, so racing callers cannot both win.
type Ledger struct {
	db        *gorm.DB
	validate  PayloadValidator
	publisher Publisher

	// Per-job locks serialize sequence assignment for log appends. Each job
	// is executed by exactly one worker process, so a process-local lock is
	// enough to keep sequences gap-free under per-host concurrency.
	seqLocks sync.Map // map[uint]*sync.Mutex
}

func New(db *gorm.DB, validate PayloadValidator) *Ledger {
	return &Ledger{db: db, validate: validate}
}

// AttachPublisher wires the fan-out hub. Must be called before workers start.
func (l *Ledger) AttachPublisher(p Publisher) {
	l.publisher = p
}

// CreateInput carries a job submission.
type CreateInput struct {
	TenantID     uint
	Type         models.JobType
	TargetFilter models.TargetFilter
	Payload      models.JSONB
	RequestedBy  uint
	ScheduledFor *time.Time
}

// Create validates the submission and persists a job in queued status, or
// scheduled when a future dispatch time was given. Nothing is written when
// validation fails.
func (l *Ledger) Create(in CreateInput) (*models.Job, error) {
	if !models.KnownJobType(in.Type) {
		return nil, fmt.Errorf("%w: unknown job type %q", ErrInvalidRequest, in.Type)
	}
	if err := in.TargetFilter.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if l.validate != nil {
		if err := l.validate(in.Type, in.Payload); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}

	now := time.Now()
	status := models.JobStatusQueued
	if in.ScheduledFor != nil && in.ScheduledFor.After(now) {
		status = models.JobStatusScheduled
	}

	job := &models.Job{
		TenantID:     in.TenantID,
		Type:         in.Type,
		Status:       status,
		RequestedAt:  now,
		ScheduledFor: in.ScheduledFor,
		TargetFilter: in.TargetFilter,
		Payload:      in.Payload,
		RequestedBy:  in.RequestedBy,
	}
	if err := l.db.Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// Get loads one job.
func (l *Ledger) Get(jobID uint) (*models.Job, error) {
	var job models.Job
	if err := l.db.First(&job, jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// GetForTenant loads one job and hides jobs of other tenants.
func (l *Ledger) GetForTenant(tenantID, jobID uint) (*models.Job, error) {
	job, err := l.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return job, nil
}

// List returns the tenant's most recent jobs.
func (l *Ledger) List(tenantID uint, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	var jobs []models.Job
	err := l.db.Where("tenant_id = ?", tenantID).
		Order("id DESC").Limit(limit).Find(&jobs).Error
	return jobs, err
}

// Transition moves a job to newStatus, enforcing the state machine against
// the persisted row: the UPDATE only matches rows whose current status is a
// valid source, so of two racing finalizers exactly one succeeds and the
// loser gets ErrInvalidTransition. Every successful transition emits a
// synthetic status log line through the publisher.
func (l *Ledger) Transition(jobID uint, newStatus models.JobStatus, summary *models.ResultSummary) (*models.Job, error) {
	sources, ok := validSources[newStatus]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a transition target", ErrInvalidTransition, newStatus)
	}

	now := time.Now()
	updates := map[string]interface{}{"status": newStatus}
	if newStatus == models.JobStatusRunning {
		updates["started_at"] = &now
	}
	if newStatus.Terminal() {
		updates["finished_at"] = &now
	}

	res := l.db.Model(&models.Job{}).
		Where("id = ? AND status IN ?", jobID, sources).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to update job status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		job, err := l.Get(jobID)
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, newStatus)
	}

	// The summary is written separately so a nil summary never clobbers one
	// written by an earlier transition.
	if summary != nil {
		if err := l.db.Model(&models.Job{}).Where("id = ?", jobID).
			Update("result_summary", summary).Error; err != nil {
			logger.Error("Failed to store result summary", map[string]interface{}{"jobID": jobID, "error": err.Error()})
		}
	}

	job, err := l.Get(jobID)
	if err != nil {
		return nil, err
	}

	l.appendEntry(job.ID, models.LogLevelInfo,
		fmt.Sprintf("job status changed to %s", newStatus), "",
		models.JSONB{"status": string(newStatus)})

	return job, nil
}

// AppendLog appends one log line to a running job. Appending to a job that
// already reached a terminal status is a logged no-op so late-arriving worker
// messages never error.
func (l *Ledger) AppendLog(jobID uint, level models.LogLevel, message, host string, extra models.JSONB) (*models.JobLogEntry, error) {
	job, err := l.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		logger.Warn("Dropping log append to terminal job", map[string]interface{}{
			"jobID":   jobID,
			"status":  string(job.Status),
			"message": message,
		})
		return nil, nil
	}
	return l.appendEntry(jobID, level, message, host, extra)
}

// appendEntry assigns the next per-job sequence and persists the entry.
func (l *Ledger) appendEntry(jobID uint, level models.LogLevel, message, host string, extra models.JSONB) (*models.JobLogEntry, error) {
	muIface, _ := l.seqLocks.LoadOrStore(jobID, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	entry := &models.JobLogEntry{
		JobID:     jobID,
		Timestamp: time.Now(),
		Level:     level,
		Host:      host,
		Message:   message,
		Extra:     extra,
	}
	err := l.db.Transaction(func(tx *gorm.DB) error {
		var last int64
		if err := tx.Model(&models.JobLogEntry{}).
			Where("job_id = ?", jobID).
			Select("COALESCE(MAX(sequence), 0)").Scan(&last).Error; err != nil {
			return err
		}
		entry.Sequence = last + 1
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append log entry: %w", err)
	}

	if l.publisher != nil {
		l.publisher.Publish(jobID, *entry)
	}
	return entry, nil
}

// LogsSince returns the persisted entries of a job with sequence greater
// than since, in sequence order. since=0 replays everything.
func (l *Ledger) LogsSince(jobID uint, since int64) ([]models.JobLogEntry, error) {
	var entries []models.JobLogEntry
	err := l.db.Where("job_id = ? AND sequence > ?", jobID, since).
		Order("sequence ASC").Find(&entries).Error
	return entries, err
}

// RequestCancel cancels a queued or scheduled job outright and flags a
// running job for cooperative cancellation. Terminal jobs are left untouched
// and reported with ErrAlreadyTerminal.
func (l *Ledger) RequestCancel(jobID uint) (*models.Job, error) {
	job, err := l.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyTerminal, job.Status)
	}

	if err := l.db.Model(&models.Job{}).
		Where("id = ? AND status IN ?", jobID,
			[]models.JobStatus{models.JobStatusQueued, models.JobStatusScheduled, models.JobStatusRunning}).
		Update("cancel_requested", true).Error; err != nil {
		return nil, fmt.Errorf("failed to flag cancellation: %w", err)
	}

	// A job that has not started running can be finalized right away. If it
	// slipped into running (or terminal) in the meantime the transition
	// loses cleanly and the flag alone does the work.
	if job.Status == models.JobStatusQueued || job.Status == models.JobStatusScheduled {
		cancelled, err := l.Transition(jobID, models.JobStatusCancelled,
			&models.ResultSummary{Reason: "cancelled before dispatch"})
		if err == nil {
			return cancelled, nil
		}
		if !errors.Is(err, ErrInvalidTransition) {
			return nil, err
		}
	}
	return l.Get(jobID)
}

// IsCancelRequested is the executor's cooperative cancellation check.
func (l *Ledger) IsCancelRequested(jobID uint) bool {
	var flagged bool
	if err := l.db.Model(&models.Job{}).Where("id = ?", jobID).
		Select("cancel_requested").Scan(&flagged).Error; err != nil {
		logger.Error("Failed to read cancellation flag", map[string]interface{}{"jobID": jobID, "error": err.Error()})
		return false
	}
	return flagged
}

// AssignRegion records the routing decision. Legal only before execution has
// started; once running the assignment is immutable.
func (l *Ledger) AssignRegion(jobID uint, regionID *uint) error {
	res := l.db.Model(&models.Job{}).
		Where("id = ? AND status IN ?", jobID,
			[]models.JobStatus{models.JobStatusQueued, models.JobStatusScheduled}).
		Update("assigned_region_id", regionID)
	if res.Error != nil {
		return fmt.Errorf("failed to assign region: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: region assignment after dispatch", ErrInvalidTransition)
	}
	return nil
}

// MarkDispatched stamps the job exactly once; the second caller gets false.
// Guards against double-enqueue from the scheduler poller and submit path.
func (l *Ledger) MarkDispatched(jobID uint) (bool, error) {
	now := time.Now()
	res := l.db.Model(&models.Job{}).
		Where("id = ? AND dispatched_at IS NULL", jobID).
		Update("dispatched_at", &now)
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark job dispatched: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DueScheduled lists scheduled jobs whose dispatch time has arrived and that
// have not been handed to a queue yet.
func (l *Ledger) DueScheduled(now time.Time) ([]models.Job, error) {
	var jobs []models.Job
	err := l.db.Where("status = ? AND scheduled_for <= ? AND dispatched_at IS NULL",
		models.JobStatusScheduled, now).Find(&jobs).Error
	return jobs, err
}
