package ledger

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetbridge/backend/internal/models"
	"github.com/fleetbridge/backend/internal/ops"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.Job{}, &models.JobLogEntry{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(openTestDB(t), ops.ValidatePayload)
}

func validInput() CreateInput {
	return CreateInput{
		TenantID:     1,
		Type:         models.JobTypeRunCommands,
		TargetFilter: models.TargetFilter{Site: "nyc"},
		Payload:      models.JSONB{"commands": []interface{}{"show version"}},
		RequestedBy:  7,
	}
}

func TestCreateValidation(t *testing.T) {
	led := newTestLedger(t)

	tests := []struct {
		name   string
		mutate func(*CreateInput)
	}{
		{"unknown type", func(in *CreateInput) { in.Type = "reboot-everything" }},
		{"empty filter", func(in *CreateInput) { in.TargetFilter = models.TargetFilter{} }},
		{"missing commands", func(in *CreateInput) { in.Payload = models.JSONB{} }},
	}

	for _, test := range tests {
		in := validInput()
		test.mutate(&in)
		_, err := led.Create(in)
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("%s: expected ErrInvalidRequest, got %v", test.name, err)
		}
	}

	var count int64
	led.db.Model(&models.Job{}).Count(&count)
	if count != 0 {
		t.Errorf("expected no persisted jobs after rejected submissions, got %d", count)
	}
}

func TestCreateQueuedAndScheduled(t *testing.T) {
	led := newTestLedger(t)

	job, err := led.Create(validInput())
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if job.Status != models.JobStatusQueued {
		t.Errorf("expected queued, got %s", job.Status)
	}

	future := time.Now().Add(time.Hour)
	in := validInput()
	in.ScheduledFor = &future
	job, err = led.Create(in)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if job.Status != models.JobStatusScheduled {
		t.Errorf("expected scheduled, got %s", job.Status)
	}
}

func TestTransitionStateMachine(t *testing.T) {
	tests := []struct {
		name  string
		path  []models.JobStatus
		valid bool
	}{
		{"queued to running to success", []models.JobStatus{models.JobStatusRunning, models.JobStatusSuccess}, true},
		{"queued to running to partial", []models.JobStatus{models.JobStatusRunning, models.JobStatusPartial}, true},
		{"queued to running to failed", []models.JobStatus{models.JobStatusRunning, models.JobStatusFailed}, true},
		{"queued to cancelled", []models.JobStatus{models.JobStatusCancelled}, true},
		{"queued straight to success", []models.JobStatus{models.JobStatusSuccess}, false},
		{"terminal is final", []models.JobStatus{models.JobStatusRunning, models.JobStatusSuccess, models.JobStatusFailed}, false},
		{"cancelled is final", []models.JobStatus{models.JobStatusCancelled, models.JobStatusRunning}, false},
	}

	for _, test := range tests {
		led := newTestLedger(t)
		job, err := led.Create(validInput())
		if err != nil {
			t.Fatalf("%s: create failed: %v", test.name, err)
		}

		var lastErr error
		for _, status := range test.path {
			_, lastErr = led.Transition(job.ID, status, nil)
			if lastErr != nil {
				break
			}
		}
		if test.valid && lastErr != nil {
			t.Errorf("%s: expected path to succeed, got %v", test.name, lastErr)
		}
		if !test.valid && !errors.Is(lastErr, ErrInvalidTransition) {
			t.Errorf("%s: expected ErrInvalidTransition, got %v", test.name, lastErr)
		}
	}
}

func TestTransitionLoserGetsError(t *testing.T) {
	led := newTestLedger(t)
	job, _ := led.Create(validInput())
	if _, err := led.Transition(job.ID, models.JobStatusRunning, nil); err != nil {
		t.Fatalf("transition to running failed: %v", err)
	}

	if _, err := led.Transition(job.ID, models.JobStatusSuccess, nil); err != nil {
		t.Fatalf("first finalizer failed: %v", err)
	}
	// The second finalizer races against an already-terminal row and must lose.
	if _, err := led.Transition(job.ID, models.JobStatusFailed, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for second finalizer, got %v", err)
	}

	got, _ := led.Get(job.ID)
	if got.Status != models.JobStatusSuccess {
		t.Errorf("expected success to stick, got %s", got.Status)
	}
}

func TestTransitionEmitsStatusLog(t *testing.T) {
	led := newTestLedger(t)
	job, _ := led.Create(validInput())
	led.Transition(job.ID, models.JobStatusRunning, nil)

	entries, err := led.LogsSince(job.ID, 0)
	if err != nil {
		t.Fatalf("logs query failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 status entry, got %d", len(entries))
	}
	if entries[0].Message != "job status changed to running" {
		t.Errorf("unexpected status log message: %q", entries[0].Message)
	}
}

func TestSummaryNotClobberedByLaterNil(t *testing.T) {
	led := newTestLedger(t)
	job, _ := led.Create(validInput())
	led.Transition(job.ID, models.JobStatusRunning, nil)

	summary := &models.ResultSummary{Total: 3, Succeeded: 2, Failed: 1}
	if _, err := led.Transition(job.ID, models.JobStatusPartial, summary); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	got, _ := led.Get(job.ID)
	if got.ResultSummary == nil || got.ResultSummary.Total != 3 {
		t.Fatalf("expected stored summary, got %+v", got.ResultSummary)
	}
	if got.ResultSummary.Succeeded != 2 || got.ResultSummary.Failed != 1 {
		t.Errorf("summary counts wrong: %+v", got.ResultSummary)
	}
}

func TestAppendLogSequencesAreMonotonic(t *testing.T) {
	led := newTestLedger(t)
	job, _ := led.Create(validInput())
	led.Transition(job.ID, models.JobStatusRunning, nil)

	for i := 0; i < 5; i++ {
		if _, err := led.AppendLog(job.ID, models.LogLevelInfo, "tick", "edge-01", nil); err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	entries, _ := led.LogsSince(job.ID, 0)
	for i, entry := range entries {
		if entry.Sequence != int64(i+1) {
			t.Fatalf("entry %d has sequence %d, expected %d", i, entry.Sequence, i+1)
		}
	}
}

func TestAppendLogAfterTerminalIsNoOp(t *testing.T) {
	led := newTestLedger(t)
	job, _ := led.Create(validInput())
	led.Transition(job.ID, models.JobStatusRunning, nil)
	led.Transition(job.ID, models.JobStatusSuccess, nil)

	before, _ := led.LogsSince(job.ID, 0)

	entry, err := led.AppendLog(job.ID, models.LogLevelInfo, "late message", "", nil)
	if err != nil {
		t.Fatalf("expected no-op, got error: %v", err)
	}
	if entry != nil {
		t.Errorf("expected nil entry for terminal append, got %+v", entry)
	}

	after, _ := led.LogsSince(job.ID, 0)
	if len(after) != len(before) {
		t.Errorf("terminal append persisted an entry: %d -> %d", len(before), len(after))
	}
}

func TestLogsSinceFilters(t *testing.T) {
	led := newTestLedger(t)
	job, _ := led.Create(validInput())
	led.Transition(job.ID, models.JobStatusRunning, nil)
	led.AppendLog(job.ID, models.LogLevelInfo, "one", "", nil)
	led.AppendLog(job.ID, models.LogLevelInfo, "two", "", nil)

	entries, _ := led.LogsSince(job.ID, 2)
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after sequence 2, got %d", len(entries))
	}
	if entries[0].Message != "two" {
		t.Errorf("expected the last entry, got %q", entries[0].Message)
	}
}

func TestRequestCancelBeforeDispatch(t *testing.T) {
	led := newTestLedger(t)
	job, _ := led.Create(validInput())

	cancelled, err := led.RequestCancel(job.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != models.JobStatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.ResultSummary == nil || cancelled.ResultSummary.Reason != "cancelled before dispatch" {
		t.Errorf("expected cancellation reason, got %+v", cancelled.ResultSummary)
	}
}

func TestRequestCancelWhileRunningOnlyFlags(t *testing.T) {
	led := newTestLedger(t)
	job, _ := led.Create(validInput())
	led.Transition(job.ID, models.JobStatusRunning, nil)

	got, err := led.RequestCancel(job.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if got.Status != models.JobStatusRunning {
		t.Errorf("running job must stay running until the worker notices, got %s", got.Status)
	}
	if !led.IsCancelRequested(job.ID) {
		t.Error("expected cancel flag to be set")
	}
}

func TestRequestCancelTerminalFails(t *testing.T) {
	led := newTestLedger(t)
	job, _ := led.Create(validInput())
	led.Transition(job.ID, models.JobStatusRunning, nil)
	led.Transition(job.ID, models.JobStatusSuccess, nil)

	if _, err := led.RequestCancel(job.ID); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestMarkDispatchedExactlyOnce(t *testing.T) {
	led := newTestLedger(t)
	job, _ := led.Create(validInput())

	first, err := led.MarkDispatched(job.ID)
	if err != nil || !first {
		t.Fatalf("first mark: got (%v, %v)", first, err)
	}
	second, err := led.MarkDispatched(job.ID)
	if err != nil {
		t.Fatalf("second mark errored: %v", err)
	}
	if second {
		t.Error("second MarkDispatched must report false")
	}
}

func TestAssignRegionOnlyBeforeRunning(t *testing.T) {
	led := newTestLedger(t)
	job, _ := led.Create(validInput())

	regionID := uint(3)
	if err := led.AssignRegion(job.ID, &regionID); err != nil {
		t.Fatalf("assign before running failed: %v", err)
	}

	led.Transition(job.ID, models.JobStatusRunning, nil)
	if err := led.AssignRegion(job.ID, &regionID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition after running, got %v", err)
	}
}

func TestDueScheduled(t *testing.T) {
	led := newTestLedger(t)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	duePayload := validInput()
	duePayload.ScheduledFor = &future
	dueJob, _ := led.Create(duePayload)
	// Pull the schedule into the past directly; Create treats past times as
	// immediate and would queue the job instead.
	led.db.Model(&models.Job{}).Where("id = ?", dueJob.ID).Update("scheduled_for", &past)

	notDue := validInput()
	notDue.ScheduledFor = &future
	led.Create(notDue)

	due, err := led.DueScheduled(time.Now())
	if err != nil {
		t.Fatalf("due query failed: %v", err)
	}
	if len(due) != 1 || due[0].ID != dueJob.ID {
		t.Errorf("expected exactly the past-due job, got %+v", due)
	}
}

func TestGetForTenantHidesOtherTenants(t *testing.T) {
	led := newTestLedger(t)
	job, _ := led.Create(validInput())

	if _, err := led.GetForTenant(1, job.ID); err != nil {
		t.Errorf("owner lookup failed: %v", err)
	}
	if _, err := led.GetForTenant(2, job.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for foreign tenant, got %v", err)
	}
}

type recordingPublisher struct {
	entries []models.JobLogEntry
}

func (p *recordingPublisher) Publish(jobID uint, entry models.JobLogEntry) {
	p.entries = append(p.entries, entry)
}

func TestPublisherSeesEveryCommittedEntry(t *testing.T) {
	led := newTestLedger(t)
	pub := &recordingPublisher{}
	led.AttachPublisher(pub)

	job, _ := led.Create(validInput())
	led.Transition(job.ID, models.JobStatusRunning, nil)
	led.AppendLog(job.ID, models.LogLevelInfo, "hello", "edge-01", nil)

	if len(pub.entries) != 2 {
		t.Fatalf("expected 2 published entries (status + append), got %d", len(pub.entries))
	}
	if pub.entries[1].Message != "hello" {
		t.Errorf("unexpected published entry: %+v", pub.entries[1])
	}
}
