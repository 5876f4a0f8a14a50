package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"seedrelay/config"
	"seedrelay/internal/repo"
	"seedrelay/internal/store"
	"seedrelay/internal/transfer"
	"seedrelay/model"
)

type fakeSeedbox struct {
	facts []store.TaskFact
	err   error
	added []string
}

func (f *fakeSeedbox) ListTagged(ctx context.Context, earliestImport time.Time) ([]store.TaskFact, error) {
	return f.facts, f.err
}

func (f *fakeSeedbox) AddTorrent(ctx context.Context, source string) error {
	f.added = append(f.added, source)
	return nil
}

// fakeCopier materializes successful copies on disk so size measurement and
// sweep's existence checks behave as they would against real storage.
type fakeCopier struct {
	results    []transfer.Result
	copies     int
	deletes    int
	failDelete bool
}

func (f *fakeCopier) next() transfer.Result {
	if len(f.results) == 0 {
		return transfer.Result{Outcome: transfer.Success}
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res
}

func (f *fakeCopier) Copy(ctx context.Context, sourceHost, sourcePath, destPath string) transfer.Result {
	f.copies++
	res := f.next()
	if res.Outcome == transfer.Success {
		if err := os.MkdirAll(destPath, 0o755); err != nil {
			return transfer.Result{Outcome: transfer.Failure, Reason: err.Error()}
		}
		if err := os.WriteFile(filepath.Join(destPath, "payload"), []byte("data"), 0o644); err != nil {
			return transfer.Result{Outcome: transfer.Failure, Reason: err.Error()}
		}
	}
	return res
}

func (f *fakeCopier) Delete(path string) transfer.Result {
	f.deletes++
	if f.failDelete {
		return transfer.Result{Outcome: transfer.Failure, Reason: "simulated delete failure"}
	}
	if err := os.RemoveAll(path); err != nil {
		return transfer.Result{Outcome: transfer.Failure, Reason: err.Error()}
	}
	return transfer.Result{Outcome: transfer.Success}
}

func newTestEngine(t *testing.T, sb Seedbox, cp Copier) (*Engine, *store.Store, config.Config) {
	t.Helper()
	db, err := repo.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	st := store.New(db)
	cfg := config.Config{
		StoragePath:    t.TempDir(),
		SeedboxSSHHost: "seedbox.example",
		RelaySSHHost:   "relay.example",
		ClaimTTL:       time.Hour,
	}
	return New(st, sb, cp, cfg), st, cfg
}

func seedSeeding(t *testing.T, st *store.Store, id string) {
	t.Helper()
	if _, err := st.MergeTasks([]store.TaskFact{{
		ID:          id,
		Status:      model.TaskSeeding,
		ContentPath: "/downloads/" + id,
		Name:        "torrent-" + id,
	}}); err != nil {
		t.Fatalf("merge %s: %v", id, err)
	}
}

func TestPullMergesFacts(t *testing.T) {
	sb := &fakeSeedbox{facts: []store.TaskFact{
		{ID: "t1", Status: model.TaskSeeding, ContentPath: "/dl/t1", Name: "one"},
		{ID: "t2", Status: model.TaskDownloading, ContentPath: "/dl/t2", Name: "two"},
	}}
	eng, st, _ := newTestEngine(t, sb, &fakeCopier{})

	summary, err := eng.Pull(context.Background())
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if summary.Merged != 2 {
		t.Fatalf("merged %d, want 2", summary.Merged)
	}

	counts, err := st.CountsByState()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.TasksSeeding != 1 || counts.TasksDownloading != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestHappyPath(t *testing.T) {
	cp := &fakeCopier{}
	eng, st, cfg := newTestEngine(t, &fakeSeedbox{}, cp)
	seedSeeding(t, st, "t1")

	summary, err := eng.Transfer(context.Background())
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if summary.Started != 1 || summary.Transferred != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	ready, err := st.ListReady()
	if err != nil {
		t.Fatalf("list ready: %v", err)
	}
	if len(ready) != 1 || ready[0].SizeBytes != int64(len("data")) {
		t.Fatalf("unexpected ready list: %+v", ready)
	}

	info, err := eng.Claim("t1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if info.RelayEndpoint != "relay.example" || info.RelayPath != cfg.ArtifactDir("t1") {
		t.Fatalf("unexpected claim info: %+v", info)
	}

	if err := eng.Confirm("t1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	counts, err := st.CountsByState()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.ArtifactsDeleted != 1 {
		t.Fatalf("artifact not deleted: %+v", counts)
	}
	if transfer.PathExists(cfg.ArtifactDir("t1")) {
		t.Fatal("relay storage still present after confirm")
	}
}

func TestTransferFailureThenSuccess(t *testing.T) {
	cp := &fakeCopier{results: []transfer.Result{
		{Outcome: transfer.Failure, Reason: "connection reset"},
	}}
	eng, st, _ := newTestEngine(t, &fakeSeedbox{}, cp)
	seedSeeding(t, st, "t1")

	summary, err := eng.Transfer(context.Background())
	if err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	if summary.Transferred != 0 || summary.Pending != 1 {
		t.Fatalf("unexpected first summary: %+v", summary)
	}

	pending, err := st.ListPending()
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("got %d pending, want 1", len(pending))
	}

	// Next scheduled run is the retry; the copy now succeeds and there is
	// still exactly one artifact row.
	summary, err = eng.Transfer(context.Background())
	if err != nil {
		t.Fatalf("second transfer: %v", err)
	}
	if summary.Started != 0 || summary.Transferred != 1 {
		t.Fatalf("unexpected second summary: %+v", summary)
	}

	counts, err := st.CountsByState()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.ArtifactsReady != 1 || counts.ArtifactsPending != 0 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
}

func TestTransferCancelledLeavesPending(t *testing.T) {
	cp := &fakeCopier{results: []transfer.Result{
		{Outcome: transfer.Cancelled, Reason: "context canceled"},
	}}
	eng, st, _ := newTestEngine(t, &fakeSeedbox{}, cp)
	seedSeeding(t, st, "t1")

	summary, err := eng.Transfer(context.Background())
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if summary.Pending != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	pending, err := st.ListPending()
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("cancelled copy did not stay pending")
	}
}

func TestConfirmDeleteFailureLeavesClaimed(t *testing.T) {
	cp := &fakeCopier{failDelete: true}
	eng, st, _ := newTestEngine(t, &fakeSeedbox{}, cp)
	seedSeeding(t, st, "t1")

	if _, err := eng.Transfer(context.Background()); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := eng.Confirm("t1"); err == nil {
		t.Fatal("confirm succeeded despite delete failure")
	}

	claimed, err := st.ListClaimedUnreclaimed()
	if err != nil {
		t.Fatalf("list claimed: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("artifact not left claimed for sweep: %+v", claimed)
	}
}

func TestSweepReclaimsInterruptedClaim(t *testing.T) {
	cp := &fakeCopier{}
	eng, st, cfg := newTestEngine(t, &fakeSeedbox{}, cp)
	seedSeeding(t, st, "t1")
	seedSeeding(t, st, "t2")

	if _, err := eng.Transfer(context.Background()); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// t1: crashed between MarkClaimed and delete, storage still present.
	if _, err := st.MarkClaimed("t1"); err != nil {
		t.Fatalf("claim t1: %v", err)
	}
	// t2: crashed between delete and MarkDeleted, storage already gone.
	if _, err := st.MarkClaimed("t2"); err != nil {
		t.Fatalf("claim t2: %v", err)
	}
	if err := os.RemoveAll(cfg.ArtifactDir("t2")); err != nil {
		t.Fatalf("remove t2 storage: %v", err)
	}

	summary, err := eng.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if summary.Reclaimed != 2 {
		t.Fatalf("reclaimed %d, want 2", summary.Reclaimed)
	}
	if transfer.PathExists(cfg.ArtifactDir("t1")) {
		t.Fatal("t1 storage survived sweep")
	}
	counts, err := st.CountsByState()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.ArtifactsDeleted != 2 {
		t.Fatalf("unexpected counts after sweep: %+v", counts)
	}

	// Sweep is idempotent: a second run finds nothing to do.
	summary, err = eng.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if summary.Reclaimed != 0 {
		t.Fatalf("second sweep reclaimed %d, want 0", summary.Reclaimed)
	}
}

func TestSweepAppliesRetention(t *testing.T) {
	cp := &fakeCopier{}
	eng, st, _ := newTestEngine(t, &fakeSeedbox{}, cp)
	eng.cfg.Retention = time.Nanosecond
	seedSeeding(t, st, "t1")

	if _, err := eng.Transfer(context.Background()); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := eng.Confirm("t1"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	summary, err := eng.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if summary.Purged != 1 {
		t.Fatalf("purged %d, want 1", summary.Purged)
	}
}

func TestClaimConflict(t *testing.T) {
	cp := &fakeCopier{}
	eng, st, _ := newTestEngine(t, &fakeSeedbox{}, cp)
	seedSeeding(t, st, "t1")
	if _, err := eng.Transfer(context.Background()); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if _, err := eng.Claim("t1"); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := eng.Claim("t1"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second claim: got %v, want ErrConflict", err)
	}
}

func TestListReadyExposesReadyArtifacts(t *testing.T) {
	eng, st, _ := newTestEngine(t, &fakeSeedbox{}, &fakeCopier{})
	seedSeeding(t, st, "t1")

	if _, err := eng.Transfer(context.Background()); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	ready, err := eng.ListReady()
	if err != nil {
		t.Fatalf("list ready: %v", err)
	}
	if len(ready) != 1 || ready[0].TaskID != "t1" || ready[0].Name != "torrent-t1" {
		t.Fatalf("unexpected ready list: %+v", ready)
	}
}

func TestIngestForwardsToSeedbox(t *testing.T) {
	sb := &fakeSeedbox{}
	eng, _, _ := newTestEngine(t, sb, &fakeCopier{})

	if err := eng.Ingest(context.Background(), "magnet:?xt=urn:btih:abc"); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if len(sb.added) != 1 || sb.added[0] != "magnet:?xt=urn:btih:abc" {
		t.Fatalf("unexpected submissions: %v", sb.added)
	}
}
