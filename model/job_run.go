package model

import "time"

const (
	JobOutcomeOK    = "ok"
	JobOutcomeError = "error"
)

// JobRun is an audit record of one scheduler job execution.
// It is observability only, nothing reads it for correctness.
type JobRun struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	Job        string    `gorm:"column:job;type:varchar(32);index;not null" json:"job"`
	StartedAt  time.Time `gorm:"column:started_at" json:"started_at"`
	FinishedAt time.Time `gorm:"column:finished_at" json:"finished_at"`
	Outcome    string    `gorm:"column:outcome;type:varchar(16);not null" json:"outcome"`
	Detail     string    `gorm:"column:detail;type:text" json:"detail"`
}

// TableName returns the database table name.
func (JobRun) TableName() string {
	return "job_runs"
}

// Settings is a single-row table for daemon-wide persisted values.
type Settings struct {
	ID uint64 `gorm:"primaryKey" json:"id"`

	// Torrents added to the seedbox before this instant are ignored.
	EarliestImportAt time.Time `gorm:"column:earliest_import_at" json:"earliest_import_at"`
}

// TableName returns the database table name.
func (Settings) TableName() string {
	return "settings"
}
