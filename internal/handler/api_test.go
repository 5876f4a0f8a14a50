package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"seedrelay/config"
	"seedrelay/internal/dto"
	"seedrelay/internal/engine"
	"seedrelay/internal/handler"
	"seedrelay/internal/repo"
	"seedrelay/internal/store"
	"seedrelay/internal/transfer"
	"seedrelay/model"
	"seedrelay/router"
)

const testSecret = "test-secret"

type nopCopier struct{}

func (nopCopier) Copy(ctx context.Context, sourceHost, sourcePath, destPath string) transfer.Result {
	return transfer.Result{Outcome: transfer.Success}
}

func (nopCopier) Delete(path string) transfer.Result {
	return transfer.Result{Outcome: transfer.Success}
}

func newTestServer(t *testing.T) (*gin.Engine, *store.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := repo.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	st := store.New(db)
	cfg := config.Config{
		StoragePath:  t.TempDir(),
		RelaySSHHost: "relay.example.net",
	}
	eng := engine.New(st, nil, nopCopier{}, cfg)
	return router.InitRouter(handler.NewAPI(eng), testSecret), st
}

func seedReady(t *testing.T, st *store.Store, taskID string, size int64) {
	t.Helper()
	_, err := st.MergeTasks([]store.TaskFact{{
		ID:          taskID,
		Status:      model.TaskSeeding,
		ContentPath: "/downloads/" + taskID,
		Name:        "torrent-" + taskID,
	}})
	if err != nil {
		t.Fatalf("merge task: %v", err)
	}
	if _, err := st.BeginArtifact(taskID, "/srv/artifacts/"+taskID); err != nil {
		t.Fatalf("begin artifact: %v", err)
	}
	if _, err := st.MarkReady(taskID, size); err != nil {
		t.Fatalf("mark ready: %v", err)
	}
}

func doRequest(r *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRejectsMissingAndWrongToken(t *testing.T) {
	r, _ := newTestServer(t)

	noToken := doRequest(r, http.MethodGet, "/api/ready", "", "")
	wrongToken := doRequest(r, http.MethodGet, "/api/ready", "wrong", "")

	for name, w := range map[string]*httptest.ResponseRecorder{"missing": noToken, "wrong": wrongToken} {
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("%s token: status %d, want 401", name, w.Code)
		}
	}
	// Both failure modes return the same body, disclosing nothing.
	if noToken.Body.String() != wrongToken.Body.String() {
		t.Fatalf("401 bodies differ: %q vs %q", noToken.Body.String(), wrongToken.Body.String())
	}
}

func TestReadyListsReadyArtifacts(t *testing.T) {
	r, st := newTestServer(t)
	seedReady(t, st, "t1", 42)
	seedReady(t, st, "t2", 7)

	w := doRequest(r, http.MethodGet, "/api/ready", testSecret, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}

	var items []dto.ReadyItem
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].TaskID != "t1" || items[0].Name != "torrent-t1" || items[0].Size != 42 {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
}

func TestReadyIsEmptyListNotNull(t *testing.T) {
	r, _ := newTestServer(t)

	w := doRequest(r, http.MethodGet, "/api/ready", testSecret, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("empty list body %q, want []", w.Body.String())
	}
}

func TestClaimReservesOnce(t *testing.T) {
	r, st := newTestServer(t)
	seedReady(t, st, "t1", 42)

	w := doRequest(r, http.MethodPost, "/api/claim", testSecret, `{"task_id":"t1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("claim status %d: %s", w.Code, w.Body.String())
	}
	var resp dto.ClaimResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.RelayEndpoint != "relay.example.net" || resp.RelayPath != "/srv/artifacts/t1" {
		t.Fatalf("unexpected claim response: %+v", resp)
	}

	if w := doRequest(r, http.MethodPost, "/api/claim", testSecret, `{"task_id":"t1"}`); w.Code != http.StatusConflict {
		t.Fatalf("second claim status %d, want 409", w.Code)
	}
}

func TestClaimValidation(t *testing.T) {
	r, _ := newTestServer(t)

	if w := doRequest(r, http.MethodPost, "/api/claim", testSecret, `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing task_id status %d, want 400", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/claim", testSecret, `{"task_id":"missing"}`); w.Code != http.StatusNotFound {
		t.Fatalf("unknown task status %d, want 404", w.Code)
	}
}

func TestConfirmAdvancesToDeleted(t *testing.T) {
	r, st := newTestServer(t)
	seedReady(t, st, "t1", 42)

	if w := doRequest(r, http.MethodPost, "/api/claim", testSecret, `{"task_id":"t1"}`); w.Code != http.StatusOK {
		t.Fatalf("claim status %d", w.Code)
	}
	if w := doRequest(r, http.MethodPost, "/api/confirm", testSecret, `{"task_id":"t1"}`); w.Code != http.StatusOK {
		t.Fatalf("confirm status %d: %s", w.Code, w.Body.String())
	}

	counts, err := st.CountsByState()
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.ArtifactsDeleted != 1 || counts.ArtifactsReady != 0 {
		t.Fatalf("unexpected counts after confirm: %+v", counts)
	}

	// A repeated confirm finds the artifact past ready and conflicts.
	if w := doRequest(r, http.MethodPost, "/api/confirm", testSecret, `{"task_id":"t1"}`); w.Code != http.StatusConflict {
		t.Fatalf("repeat confirm status %d, want 409", w.Code)
	}
}

func TestConfirmUnknownTask(t *testing.T) {
	r, _ := newTestServer(t)

	if w := doRequest(r, http.MethodPost, "/api/confirm", testSecret, `{"task_id":"missing"}`); w.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", w.Code)
	}
}
