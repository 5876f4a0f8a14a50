package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies a copy or delete attempt.
type Outcome int

const (
	Success Outcome = iota
	Failure
	Cancelled
	Busy
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Cancelled:
		return "cancelled"
	case Busy:
		return "busy"
	default:
		return "unknown"
	}
}

// Result carries the outcome and, for failures, the reason.
type Result struct {
	Outcome Outcome
	Reason  string
}

type runFunc func(ctx context.Context, name string, args ...string) (stderr []byte, err error)

// Executor wraps the external rsync/ssh copy mechanism. Copies land in a
// staging directory and are renamed into place on success; the rename is
// the durability boundary, so a crash mid-copy leaves no visible partial
// artifact.
type Executor struct {
	SSHKeyPath     string
	BwLimitKBps    int
	ConnectTimeout time.Duration
	StagingRoot    string
	TrashRoot      string
	DryRun         bool

	run runFunc

	mu     sync.Mutex
	active map[string]bool
}

// NewExecutor builds an executor that shells out to rsync.
func NewExecutor(sshKeyPath string, bwLimitKBps int, connectTimeout time.Duration, stagingRoot, trashRoot string, dryRun bool) *Executor {
	return &Executor{
		SSHKeyPath:     sshKeyPath,
		BwLimitKBps:    bwLimitKBps,
		ConnectTimeout: connectTimeout,
		StagingRoot:    stagingRoot,
		TrashRoot:      trashRoot,
		DryRun:         dryRun,
		run:            runRsync,
		active:         map[string]bool{},
	}
}

func runRsync(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// acquire reserves a destination path. Two concurrent copies into the same
// destination would corrupt a partially written artifact.
func (e *Executor) acquire(dest string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[dest] {
		return false
	}
	e.active[dest] = true
	return true
}

func (e *Executor) release(dest string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, dest)
}

func (e *Executor) sshCommand() string {
	cmd := "ssh"
	if e.SSHKeyPath != "" {
		cmd += " -i " + e.SSHKeyPath
	}
	cmd += " -o StrictHostKeyChecking=no -o BatchMode=yes"
	if e.ConnectTimeout > 0 {
		cmd += " -o ConnectTimeout=" + strconv.Itoa(int(e.ConnectTimeout.Seconds()))
	}
	return cmd
}

// Copy pulls sourcePath from sourceHost into destPath. The copy goes
// through a fresh staging directory and destPath appears only after a
// successful rename, so re-running after any crash is safe.
func (e *Executor) Copy(ctx context.Context, sourceHost, sourcePath, destPath string) Result {
	if !e.acquire(destPath) {
		return Result{Outcome: Busy, Reason: "copy already in progress for " + destPath}
	}
	defer e.release(destPath)

	staging := filepath.Join(e.StagingRoot, uuid.NewString())
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return Result{Outcome: Failure, Reason: "create staging dir: " + err.Error()}
	}
	defer os.RemoveAll(staging)

	args := []string{"--delete", "--partial", "--recursive", "-s"}
	if e.BwLimitKBps > 0 {
		args = append(args, "--bwlimit", strconv.Itoa(e.BwLimitKBps))
	}
	args = append(args, "--rsh", e.sshCommand())
	args = append(args, sourceHost+":"+sourcePath, staging)

	log.Printf("transfer: rsync %s:%s -> %s", sourceHost, sourcePath, destPath)
	if e.DryRun {
		log.Printf("transfer: dry run, skipping rsync %v", args)
		return Result{Outcome: Success}
	}

	stderr, err := e.run(ctx, "rsync", args...)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Outcome: Cancelled, Reason: ctx.Err().Error()}
		}
		reason := string(stderr)
		if reason == "" {
			reason = err.Error()
		}
		return Result{Outcome: Failure, Reason: reason}
	}

	if err := e.promote(staging, destPath); err != nil {
		return Result{Outcome: Failure, Reason: err.Error()}
	}
	return Result{Outcome: Success}
}

// promote renames the staged copy into place, displacing any leftover from
// a prior crash between rename and the caller recording success.
func (e *Executor) promote(staging, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		if res := e.Delete(destPath); res.Outcome != Success {
			return fmt.Errorf("displace stale destination: %s", res.Reason)
		}
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create destination parent: %w", err)
	}
	if err := os.Rename(staging, destPath); err != nil {
		return fmt.Errorf("promote staged copy: %w", err)
	}
	return nil
}

// Delete reclaims a path atomically from the caller's point of view: the
// path is first renamed into the trash area, then removed. A missing path
// is success, which makes the claim/delete sequence idempotent.
func (e *Executor) Delete(path string) Result {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return Result{Outcome: Success}
	}

	if err := os.MkdirAll(e.TrashRoot, 0o755); err != nil {
		return Result{Outcome: Failure, Reason: "create trash dir: " + err.Error()}
	}
	trashed := filepath.Join(e.TrashRoot, uuid.NewString())
	if err := os.Rename(path, trashed); err != nil {
		return Result{Outcome: Failure, Reason: "move to trash: " + err.Error()}
	}
	if err := os.RemoveAll(trashed); err != nil {
		// The path is already gone from its owner's view; log and move on.
		log.Printf("transfer: remove trashed %s: %v", trashed, err)
	}
	return Result{Outcome: Success}
}

// CleanStaging empties the staging area. Called once at startup, before any
// copy can be in flight; leftovers are partial copies from a previous crash.
func (e *Executor) CleanStaging() {
	entries, err := os.ReadDir(e.StagingRoot)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("transfer: read staging dir: %v", err)
		}
		return
	}
	for _, entry := range entries {
		p := filepath.Join(e.StagingRoot, entry.Name())
		if err := os.RemoveAll(p); err != nil {
			log.Printf("transfer: clean staging %s: %v", p, err)
		}
	}
}

// PathExists reports whether relay storage still holds the path.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// DirSize sums the file sizes under path. A missing path counts as zero.
func DirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
