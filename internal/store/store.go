package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"seedrelay/model"
)

// Store is the single owner of task and artifact rows. Every mutation runs
// in one transaction, so no caller observes a half-applied transition.
type Store struct {
	db *gorm.DB
}

// New wraps an opened database handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// TaskFact is one remote-status observation from the download manager.
type TaskFact struct {
	ID          string
	Status      string
	ContentPath string
	Name        string
}

// PendingTransfer is a pending artifact joined with its task, everything
// the transfer job needs to (re)attempt a copy.
type PendingTransfer struct {
	TaskID      string
	RelayPath   string
	ContentPath string
	Name        string
}

// Counts summarizes tasks by status and artifacts by readiness.
type Counts struct {
	TasksDownloading int64
	TasksSeeding     int64
	ArtifactsPending int64
	ArtifactsReady   int64
	ArtifactsClaimed int64
	ArtifactsDeleted int64
}

// MergeTasks upserts remote facts by task id. Fields absent from a fact are
// left unchanged; status only advances downloading -> seeding, never back.
// Returns the number of rows created or updated.
func (s *Store) MergeTasks(facts []TaskFact) (int, error) {
	updated := 0
	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		for _, fact := range facts {
			var task model.Task
			err := tx.Where("id = ?", fact.ID).First(&task).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				task = model.Task{
					ID:          fact.ID,
					Status:      fact.Status,
					ContentPath: fact.ContentPath,
					Name:        fact.Name,
					LastSeenAt:  now,
				}
				if err := tx.Create(&task).Error; err != nil {
					return err
				}
				updated++
				continue
			}
			if err != nil {
				return err
			}

			status := task.Status
			if status == model.TaskDownloading && fact.Status == model.TaskSeeding {
				status = model.TaskSeeding
			}
			if err := tx.Model(&model.Task{}).
				Where("id = ?", fact.ID).
				Updates(map[string]interface{}{
					"status":       status,
					"content_path": fact.ContentPath,
					"name":         fact.Name,
					"last_seen_at": now,
				}).Error; err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("merge tasks: %w", err)
	}
	return updated, nil
}

// ListSeedingWithoutArtifact returns tasks whose content is complete on the
// seedbox and for which no transfer has ever been started.
func (s *Store) ListSeedingWithoutArtifact() ([]model.Task, error) {
	var tasks []model.Task
	err := s.db.
		Where("status = ? AND NOT EXISTS (SELECT 1 FROM artifacts WHERE artifacts.task_id = tasks.id)",
			model.TaskSeeding).
		Order("id").
		Find(&tasks).Error
	return tasks, err
}

// ListPending returns pending artifacts joined with their tasks. These are
// copies that have not yet succeeded; each scheduled transfer run retries
// them.
func (s *Store) ListPending() ([]PendingTransfer, error) {
	var out []PendingTransfer
	err := s.db.Table("artifacts").
		Select("artifacts.task_id AS task_id, artifacts.relay_path AS relay_path, tasks.content_path AS content_path, tasks.name AS name").
		Joins("JOIN tasks ON tasks.id = artifacts.task_id").
		Where("artifacts.readiness = ?", model.ArtifactPending).
		Order("artifacts.task_id").
		Scan(&out).Error
	return out, err
}

// BeginArtifact creates the pending artifact row for a task, fixing its
// relay path. A second call for the same task returns ErrConflict.
func (s *Store) BeginArtifact(taskID, relayPath string) (*model.Artifact, error) {
	var artifact model.Artifact
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var task model.Task
		if err := tx.Where("id = ?", taskID).First(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
			}
			return err
		}

		var existing model.Artifact
		err := tx.Where("task_id = ?", taskID).First(&existing).Error
		if err == nil {
			return fmt.Errorf("artifact for task %s exists: %w", taskID, ErrConflict)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		artifact = model.Artifact{
			TaskID:    taskID,
			Readiness: model.ArtifactPending,
			RelayPath: relayPath,
		}
		if err := tx.Create(&artifact).Error; err != nil {
			if strings.Contains(strings.ToUpper(err.Error()), "UNIQUE") {
				return fmt.Errorf("artifact for task %s exists: %w", taskID, ErrConflict)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

// advance moves an artifact from one readiness to the next, stamping the
// transition column exactly once. The guarded update plus the row re-read
// classify failures as ErrNotFound or ErrInvalidTransition.
func (s *Store) advance(taskID, from, to, stampColumn string, extra map[string]interface{}) (*model.Artifact, error) {
	var artifact model.Artifact
	err := s.db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"readiness": to,
			stampColumn: time.Now(),
		}
		for k, v := range extra {
			updates[k] = v
		}
		res := tx.Model(&model.Artifact{}).
			Where("task_id = ? AND readiness = ?", taskID, from).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var current model.Artifact
			if err := tx.Where("task_id = ?", taskID).First(&current).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("artifact for task %s: %w", taskID, ErrNotFound)
				}
				return err
			}
			return fmt.Errorf("artifact for task %s is %s, want %s: %w",
				taskID, current.Readiness, from, ErrInvalidTransition)
		}
		return tx.Where("task_id = ?", taskID).First(&artifact).Error
	})
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

// MarkReady promotes a pending artifact, recording its measured size.
func (s *Store) MarkReady(taskID string, sizeBytes int64) (*model.Artifact, error) {
	return s.advance(taskID, model.ArtifactPending, model.ArtifactReady, "ready_at",
		map[string]interface{}{"size_bytes": sizeBytes})
}

// MarkClaimed records that the puller confirmed durable local receipt.
func (s *Store) MarkClaimed(taskID string) (*model.Artifact, error) {
	return s.advance(taskID, model.ArtifactReady, model.ArtifactClaimed, "claimed_at", nil)
}

// MarkDeleted records that relay storage for the artifact was reclaimed.
func (s *Store) MarkDeleted(taskID string) (*model.Artifact, error) {
	return s.advance(taskID, model.ArtifactClaimed, model.ArtifactDeleted, "deleted_at", nil)
}

// ReadyArtifact is a ready artifact joined with its task's display name,
// the shape advertised to the puller.
type ReadyArtifact struct {
	TaskID    string
	Name      string
	SizeBytes int64
	RelayPath string
}

// ListReady returns artifacts advertised to the puller.
func (s *Store) ListReady() ([]ReadyArtifact, error) {
	var out []ReadyArtifact
	err := s.db.Table("artifacts").
		Select("artifacts.task_id AS task_id, tasks.name AS name, artifacts.size_bytes AS size_bytes, artifacts.relay_path AS relay_path").
		Joins("JOIN tasks ON tasks.id = artifacts.task_id").
		Where("artifacts.readiness = ?", model.ArtifactReady).
		Order("artifacts.task_id").
		Scan(&out).Error
	return out, err
}

// Reserve marks a ready artifact as claimed-in-progress by a puller. A live
// reservation (younger than ttl; ttl 0 never expires) returns ErrConflict so
// a second puller instance cannot double-copy.
func (s *Store) Reserve(taskID string, ttl time.Duration) (*model.Artifact, error) {
	var artifact model.Artifact
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", taskID).First(&artifact).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("artifact for task %s: %w", taskID, ErrNotFound)
			}
			return err
		}
		if artifact.Readiness != model.ArtifactReady {
			return fmt.Errorf("artifact for task %s is %s: %w",
				taskID, artifact.Readiness, ErrInvalidTransition)
		}
		now := time.Now()
		if artifact.ReservedAt != nil {
			expired := ttl > 0 && now.Sub(*artifact.ReservedAt) > ttl
			if !expired {
				return fmt.Errorf("artifact for task %s already claimed: %w", taskID, ErrConflict)
			}
		}
		if err := tx.Model(&model.Artifact{}).
			Where("task_id = ?", taskID).
			Update("reserved_at", now).Error; err != nil {
			return err
		}
		artifact.ReservedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

// ListClaimedUnreclaimed returns artifacts whose claim/delete sequence may
// have been interrupted; the sweep job resolves them.
func (s *Store) ListClaimedUnreclaimed() ([]model.Artifact, error) {
	var artifacts []model.Artifact
	err := s.db.
		Where("readiness = ?", model.ArtifactClaimed).
		Order("task_id").
		Find(&artifacts).Error
	return artifacts, err
}

// PurgeDeleted hard-deletes audit rows of artifacts deleted before cutoff.
func (s *Store) PurgeDeleted(cutoff time.Time) (int64, error) {
	res := s.db.
		Where("readiness = ? AND deleted_at < ?", model.ArtifactDeleted, cutoff).
		Delete(&model.Artifact{})
	return res.RowsAffected, res.Error
}

// RecordJobRun appends one audit row. Failures are the caller's to log;
// audit never affects correctness.
func (s *Store) RecordJobRun(job string, started, finished time.Time, outcome, detail string) error {
	return s.db.Create(&model.JobRun{
		Job:        job,
		StartedAt:  started,
		FinishedAt: finished,
		Outcome:    outcome,
		Detail:     detail,
	}).Error
}

// EarliestImportAt returns the persisted import cutoff, creating it as now
// on first use. Torrents added to the seedbox before it are never adopted.
func (s *Store) EarliestImportAt() (time.Time, error) {
	var settings model.Settings
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("id = ?", 1).First(&settings).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			settings = model.Settings{ID: 1, EarliestImportAt: time.Now()}
			return tx.Create(&settings).Error
		}
		return err
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("earliest import date: %w", err)
	}
	return settings.EarliestImportAt, nil
}

// CountsByState reports task and artifact totals for the report command.
func (s *Store) CountsByState() (Counts, error) {
	var counts Counts
	type query struct {
		dst   *int64
		table interface{}
		where string
		value string
	}
	queries := []query{
		{&counts.TasksDownloading, &model.Task{}, "status = ?", model.TaskDownloading},
		{&counts.TasksSeeding, &model.Task{}, "status = ?", model.TaskSeeding},
		{&counts.ArtifactsPending, &model.Artifact{}, "readiness = ?", model.ArtifactPending},
		{&counts.ArtifactsReady, &model.Artifact{}, "readiness = ?", model.ArtifactReady},
		{&counts.ArtifactsClaimed, &model.Artifact{}, "readiness = ?", model.ArtifactClaimed},
		{&counts.ArtifactsDeleted, &model.Artifact{}, "readiness = ?", model.ArtifactDeleted},
	}
	for _, q := range queries {
		if err := s.db.Model(q.table).Where(q.where, q.value).Count(q.dst).Error; err != nil {
			return Counts{}, err
		}
	}
	return counts, nil
}
