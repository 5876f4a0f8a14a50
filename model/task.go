package model

import "time"

const (
	TaskDownloading = "downloading"
	TaskSeeding     = "seeding"
)

// Task mirrors one download unit on the remote manager, keyed by its hash.
type Task struct {
	ID string `gorm:"primaryKey;type:varchar(64)" json:"id"`

	Status      string `gorm:"column:status;type:varchar(16);index;not null" json:"status"`
	ContentPath string `gorm:"column:content_path;type:text;not null" json:"content_path"`
	Name        string `gorm:"column:name;type:varchar(255);not null" json:"name"`

	LastSeenAt time.Time `gorm:"column:last_seen_at" json:"last_seen_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Task) TableName() string {
	return "tasks"
}
