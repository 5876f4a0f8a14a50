package model

import "time"

const (
	ArtifactPending = "pending"
	ArtifactReady   = "ready"
	ArtifactClaimed = "claimed"
	ArtifactDeleted = "deleted"
)

// Artifact is the relay-side materialization of a task's content.
// Readiness only moves pending -> ready -> claimed -> deleted.
type Artifact struct {
	TaskID string `gorm:"primaryKey;type:varchar(64)" json:"task_id"`

	Readiness string `gorm:"column:readiness;type:varchar(16);index;not null" json:"readiness"`
	RelayPath string `gorm:"column:relay_path;type:text;not null" json:"relay_path"`
	SizeBytes int64  `gorm:"column:size_bytes;default:0" json:"size_bytes"`

	ReservedAt *time.Time `gorm:"column:reserved_at" json:"reserved_at"`
	ReadyAt    *time.Time `gorm:"column:ready_at" json:"ready_at"`
	ClaimedAt  *time.Time `gorm:"column:claimed_at" json:"claimed_at"`
	DeletedAt  *time.Time `gorm:"column:deleted_at" json:"deleted_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Artifact) TableName() string {
	return "artifacts"
}
