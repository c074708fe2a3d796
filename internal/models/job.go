package models

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type JobType string

const (
	JobTypeRunCommands         JobType = "run-commands"
	JobTypeConfigBackup        JobType = "config-backup"
	JobTypeConfigDeployPreview JobType = "config-deploy-preview"
	JobTypeConfigDeployCommit  JobType = "config-deploy-commit"
	JobTypeComplianceCheck     JobType = "compliance-check"
	JobTypeTopologyDiscovery   JobType = "topology-discovery"
	JobTypeWorkflowStep        JobType = "workflow-step"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusPartial   JobStatus = "partial"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition may leave this status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusPartial, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// TargetFilter selects the devices a job runs against. All criteria are
// conjunctive and implicitly scoped to the job's tenant.
type TargetFilter struct {
	DeviceIDs []uint   `json:"deviceIds,omitempty"`
	Site      string   `json:"site,omitempty"`
	Role      string   `json:"role,omitempty"`
	Platform  string   `json:"platform,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

var ErrEmptyFilter = errors.New("target filter has no criteria")

// Validate rejects a filter that selects on nothing at all.
func (f TargetFilter) Validate() error {
	if len(f.DeviceIDs) == 0 && f.Site == "" && f.Role == "" && f.Platform == "" && len(f.Tags) == 0 {
		return ErrEmptyFilter
	}
	return nil
}

// HostResult is the recorded outcome of one job operation against one host.
type HostResult struct {
	Host       string `json:"host"`
	Succeeded  bool   `json:"succeeded"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"errorCode,omitempty"`
	DurationMs int64  `json:"durationMs"`
}

const (
	ErrCodeOperation = "operation_error"
	ErrCodeTimeout   = "operation_timeout"
)

// ResultSummary is the aggregate outcome of a job. It is part of the durable
// contract read by the UI and notification layers; field names are stable.
type ResultSummary struct {
	Total     int          `json:"total"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	NoTargets bool         `json:"noTargets,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Hosts     []HostResult `json:"hosts,omitempty"`
	Data      JSONB        `json:"data,omitempty"`
}

type Job struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	TenantID         uint           `json:"tenantId" gorm:"not null;index"`
	Type             JobType        `json:"type" gorm:"not null"`
	Status           JobStatus      `json:"status" gorm:"not null;default:'queued';index"`
	RequestedAt      time.Time      `json:"requestedAt"`
	ScheduledFor     *time.Time     `json:"scheduledFor"`
	StartedAt        *time.Time     `json:"startedAt"`
	FinishedAt       *time.Time     `json:"finishedAt"`
	DispatchedAt     *time.Time     `json:"dispatchedAt"`
	TargetFilter     TargetFilter   `json:"targetFilter" gorm:"type:jsonb;serializer:json"`
	Payload          JSONB          `json:"payload" gorm:"type:jsonb"`
	RequestedBy      uint           `json:"requestedBy"`
	ResultSummary    *ResultSummary `json:"resultSummary" gorm:"type:jsonb;serializer:json"`
	AssignedRegionID *uint          `json:"assignedRegionId"`
	CancelRequested  bool           `json:"cancelRequested" gorm:"default:false"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	DeletedAt        gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationship (optional, not a DB constraint)
	AssignedRegion *Region `json:"assignedRegion,omitempty" gorm:"foreignKey:AssignedRegionID;references:ID"`
}

func (Job) TableName() string {
	return "jobs"
}

// KnownJobType reports whether t is one of the closed set of job types.
func KnownJobType(t JobType) bool {
	switch t {
	case JobTypeRunCommands, JobTypeConfigBackup, JobTypeConfigDeployPreview,
		JobTypeConfigDeployCommit, JobTypeComplianceCheck, JobTypeTopologyDiscovery,
		JobTypeWorkflowStep:
		return true
	}
	return false
}
