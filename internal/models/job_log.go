package models

import (
	"time"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// JobLogEntry is one append-only log line scoped to a job. Sequence is
// assigned by the ledger and is strictly increasing per job; entries are
// immutable once written, so there is no soft delete here.
type JobLogEntry struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	JobID     uint      `json:"jobId" gorm:"not null;uniqueIndex:idx_job_log_seq,priority:1"`
	Sequence  int64     `json:"sequence" gorm:"not null;uniqueIndex:idx_job_log_seq,priority:2"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Host      string    `json:"host"` // blank for job-level messages
	Message   string    `json:"message" gorm:"type:text"`
	Extra     JSONB     `json:"extra,omitempty" gorm:"type:jsonb"`
	CreatedAt time.Time `json:"createdAt"`
}

func (JobLogEntry) TableName() string {
	return "job_log_entries"
}
