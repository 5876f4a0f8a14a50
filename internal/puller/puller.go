package puller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"seedrelay/internal/dto"
	"seedrelay/internal/store"
	"seedrelay/internal/transfer"
)

// Copier is the local secure-copy capability.
type Copier interface {
	Copy(ctx context.Context, sourceHost, sourcePath, destPath string) transfer.Result
}

// Puller drives the claim flow from the user side: list ready artifacts,
// claim each, copy it down, and confirm so the relay can reclaim storage.
type Puller struct {
	baseURL     string
	apiKey      string
	destination string
	copier      Copier
	http        *http.Client
}

// New builds a puller against the relay's control channel.
func New(baseURL, apiKey, destination string, copier Copier) *Puller {
	return &Puller{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		destination: destination,
		copier:      copier,
		http:        &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *Puller) request(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && out != nil {
		return resp.StatusCode, json.NewDecoder(resp.Body).Decode(out)
	}
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

// FetchReady lists artifacts available on the relay.
func (p *Puller) FetchReady(ctx context.Context) ([]dto.ReadyItem, error) {
	var items []dto.ReadyItem
	status, err := p.request(ctx, http.MethodGet, "/api/ready", nil, &items)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("ready list: status %d", status)
	}
	return items, nil
}

// Claim reserves one artifact. store.ErrConflict means another puller
// instance holds it.
func (p *Puller) Claim(ctx context.Context, taskID string) (dto.ClaimResponse, error) {
	var info dto.ClaimResponse
	status, err := p.request(ctx, http.MethodPost, "/api/claim", dto.ClaimRequest{TaskID: taskID}, &info)
	if err != nil {
		return info, err
	}
	switch status {
	case http.StatusOK:
		return info, nil
	case http.StatusConflict:
		return info, fmt.Errorf("claim %s: %w", taskID, store.ErrConflict)
	case http.StatusNotFound:
		return info, fmt.Errorf("claim %s: %w", taskID, store.ErrNotFound)
	default:
		return info, fmt.Errorf("claim %s: status %d", taskID, status)
	}
}

// Confirm reports durable receipt. A 409 means the artifact was already
// confirmed, which is not an error here.
func (p *Puller) Confirm(ctx context.Context, taskID string) error {
	status, err := p.request(ctx, http.MethodPost, "/api/confirm", dto.ClaimRequest{TaskID: taskID}, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusConflict:
		log.Printf("puller: %s already confirmed", taskID)
		return nil
	default:
		return fmt.Errorf("confirm %s: status %d", taskID, status)
	}
}

// PullOne claims an artifact, copies it into the destination and confirms.
// The copy is verified by size before the relay is told to delete; a
// mismatch leaves the claim to expire and the artifact intact.
func (p *Puller) PullOne(ctx context.Context, item dto.ReadyItem) error {
	info, err := p.Claim(ctx, item.TaskID)
	if err != nil {
		return err
	}

	dest := filepath.Join(p.destination, item.TaskID)
	// Trailing slash copies the artifact directory's contents, so the
	// original content name survives one level under dest.
	res := p.copier.Copy(ctx, info.RelayEndpoint, info.RelayPath+"/", dest)
	if res.Outcome != transfer.Success {
		return fmt.Errorf("copy %s: %s: %s", item.TaskID, res.Outcome, res.Reason)
	}

	if got := transfer.DirSize(dest); got != item.Size {
		return fmt.Errorf("copy %s: size mismatch, got %d want %d; not confirming", item.TaskID, got, item.Size)
	}

	return p.Confirm(ctx, item.TaskID)
}

// PullAll transfers every ready artifact. Artifacts claimed by someone else
// are skipped; any other error aborts the run.
func (p *Puller) PullAll(ctx context.Context) (int, error) {
	items, err := p.FetchReady(ctx)
	if err != nil {
		return 0, err
	}
	log.Printf("puller: %d artifacts ready", len(items))

	pulled := 0
	for _, item := range items {
		if err := p.PullOne(ctx, item); err != nil {
			if errors.Is(err, store.ErrConflict) {
				log.Printf("puller: %s claimed elsewhere, skipping", item.TaskID)
				continue
			}
			return pulled, err
		}
		log.Printf("puller: pulled %s (%s)", item.Name, item.TaskID)
		pulled++
	}
	return pulled, nil
}
