package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"seedrelay/config"
	"seedrelay/internal/store"
	"seedrelay/internal/transfer"
)

// Seedbox is the remote download-manager capability the engine consumes.
type Seedbox interface {
	ListTagged(ctx context.Context, earliestImport time.Time) ([]store.TaskFact, error)
	AddTorrent(ctx context.Context, source string) error
}

// Copier is the secure-copy capability the engine consumes.
type Copier interface {
	Copy(ctx context.Context, sourceHost, sourcePath, destPath string) transfer.Result
	Delete(path string) transfer.Result
}

// Engine holds the lifecycle orchestration: which transitions to take given
// fresh facts, copy results, and claim requests. It does no I/O beyond the
// store, seedbox and copier capabilities it is handed.
type Engine struct {
	store   *store.Store
	seedbox Seedbox
	copier  Copier
	cfg     config.Config
}

// New wires the engine's capabilities.
func New(st *store.Store, sb Seedbox, cp Copier, cfg config.Config) *Engine {
	return &Engine{store: st, seedbox: sb, copier: cp, cfg: cfg}
}

// PullSummary reports one pull job run.
type PullSummary struct {
	Merged int
}

// TransferSummary reports one transfer job run.
type TransferSummary struct {
	Started     int
	Transferred int
	Pending     int
}

// SweepSummary reports one sweep job run.
type SweepSummary struct {
	Reclaimed int
	Purged    int
}

// ClaimInfo is what a puller needs to fetch a reserved artifact.
type ClaimInfo struct {
	RelayEndpoint string
	RelayPath     string
}

// Report is the read-only status snapshot for the command surface.
type Report struct {
	Counts store.Counts
	Ready  []store.ReadyArtifact
}

// Pull fetches remote facts and merges them. Re-running with the same facts
// changes nothing beyond last-seen timestamps.
func (e *Engine) Pull(ctx context.Context) (PullSummary, error) {
	cutoff, err := e.store.EarliestImportAt()
	if err != nil {
		return PullSummary{}, err
	}
	facts, err := e.seedbox.ListTagged(ctx, cutoff)
	if err != nil {
		return PullSummary{}, fmt.Errorf("pull: %w", err)
	}
	merged, err := e.store.MergeTasks(facts)
	if err != nil {
		return PullSummary{}, err
	}
	return PullSummary{Merged: merged}, nil
}

// Transfer starts artifacts for newly seeding tasks and (re)attempts every
// pending copy. A failed copy stays pending; the next scheduled run is the
// retry, there is no in-job retry loop.
func (e *Engine) Transfer(ctx context.Context) (TransferSummary, error) {
	var summary TransferSummary

	candidates, err := e.store.ListSeedingWithoutArtifact()
	if err != nil {
		return summary, err
	}
	for _, task := range candidates {
		if _, err := e.store.BeginArtifact(task.ID, e.cfg.ArtifactDir(task.ID)); err != nil {
			if errors.Is(err, store.ErrConflict) {
				// A concurrent run won the race; its copy covers this task.
				log.Printf("transfer job: artifact for %s already begun, skipping", task.ID)
				continue
			}
			return summary, err
		}
		summary.Started++
	}

	pending, err := e.store.ListPending()
	if err != nil {
		return summary, err
	}
	for _, p := range pending {
		res := e.copier.Copy(ctx, e.cfg.SeedboxSSHHost, p.ContentPath, p.RelayPath)
		switch res.Outcome {
		case transfer.Success:
			size := transfer.DirSize(p.RelayPath)
			if _, err := e.store.MarkReady(p.TaskID, size); err != nil {
				log.Printf("transfer job: mark ready %s: %v", p.TaskID, err)
				continue
			}
			summary.Transferred++
		case transfer.Cancelled:
			log.Printf("transfer job: copy of %s cancelled, left pending", p.TaskID)
			summary.Pending++
		default:
			log.Printf("transfer job: copy of %s failed, left pending: %s", p.TaskID, res.Reason)
			summary.Pending++
		}
	}
	return summary, nil
}

// Claim reserves a ready artifact for a puller and returns where to fetch
// it from. A live reservation by another puller yields store.ErrConflict.
func (e *Engine) Claim(taskID string) (ClaimInfo, error) {
	artifact, err := e.store.Reserve(taskID, e.cfg.ClaimTTL)
	if err != nil {
		return ClaimInfo{}, err
	}
	return ClaimInfo{
		RelayEndpoint: e.cfg.RelaySSHHost,
		RelayPath:     artifact.RelayPath,
	}, nil
}

// Confirm records durable receipt by the puller and reclaims relay storage.
// A crash between any two steps is resolved by the sweep job, which makes
// the whole sequence idempotent without a distributed transaction.
func (e *Engine) Confirm(taskID string) error {
	artifact, err := e.store.MarkClaimed(taskID)
	if err != nil {
		return err
	}
	if res := e.copier.Delete(artifact.RelayPath); res.Outcome != transfer.Success {
		return fmt.Errorf("reclaim %s failed, sweep will retry: %s", artifact.RelayPath, res.Reason)
	}
	if _, err := e.store.MarkDeleted(taskID); err != nil {
		return err
	}
	return nil
}

// Sweep resolves claim/delete sequences interrupted by a crash: claimed
// artifacts whose storage still exists are deleted, ones whose storage is
// already gone advance straight to deleted. It then applies the retention
// policy to deleted rows. Running it twice in a row is a no-op.
func (e *Engine) Sweep(ctx context.Context) (SweepSummary, error) {
	var summary SweepSummary

	claimed, err := e.store.ListClaimedUnreclaimed()
	if err != nil {
		return summary, err
	}
	for _, artifact := range claimed {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		if transfer.PathExists(artifact.RelayPath) {
			if res := e.copier.Delete(artifact.RelayPath); res.Outcome != transfer.Success {
				log.Printf("sweep job: reclaim %s failed: %s", artifact.RelayPath, res.Reason)
				continue
			}
		}
		if _, err := e.store.MarkDeleted(artifact.TaskID); err != nil {
			log.Printf("sweep job: mark deleted %s: %v", artifact.TaskID, err)
			continue
		}
		summary.Reclaimed++
	}

	if e.cfg.Retention > 0 {
		purged, err := e.store.PurgeDeleted(time.Now().Add(-e.cfg.Retention))
		if err != nil {
			return summary, err
		}
		summary.Purged = int(purged)
	}
	return summary, nil
}

// Ingest submits new work to the download manager, tagged for adoption by
// the next pull.
func (e *Engine) Ingest(ctx context.Context, source string) error {
	return e.seedbox.AddTorrent(ctx, source)
}

// ListReady returns the artifacts a puller may claim.
func (e *Engine) ListReady() ([]store.ReadyArtifact, error) {
	return e.store.ListReady()
}

// Status returns the read-only report.
func (e *Engine) Status() (Report, error) {
	counts, err := e.store.CountsByState()
	if err != nil {
		return Report{}, err
	}
	ready, err := e.store.ListReady()
	if err != nil {
		return Report{}, err
	}
	return Report{Counts: counts, Ready: ready}, nil
}
