package seedbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"seedrelay/internal/store"
	"seedrelay/model"
)

// Client talks to the qBittorrent WebUI API on the seedbox. Only torrents
// carrying the managed tag are visible through it.
type Client struct {
	BaseURL  string
	Username string
	Password string
	Tag      string
	HTTP     *http.Client
}

// Torrent is the subset of qBittorrent's torrent info the relay consumes.
type Torrent struct {
	Hash        string  `json:"hash"`
	Name        string  `json:"name"`
	Progress    float64 `json:"progress"`
	ContentPath string  `json:"content_path"`
	AddedOn     int64   `json:"added_on"`
}

// NewClient builds a client with a cookie jar for the WebUI session.
func NewClient(baseURL, username, password, tag string) *Client {
	jar, _ := cookiejar.New(nil)
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Username: username,
		Password: password,
		Tag:      tag,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
	}
}

// login obtains the WebUI session cookie. qBittorrent answers 200 with the
// body "Fails." on bad credentials, so the body must be checked too.
func (c *Client) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("username", c.Username)
	form.Set("password", c.Password)

	body, err := c.postForm(ctx, "/api/v2/auth/login", form)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(body, "Ok") {
		return fmt.Errorf("seedbox login rejected: %s", strings.TrimSpace(body))
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("seedbox %s: status %d: %s", path, resp.StatusCode, string(raw))
	}
	return string(raw), nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("seedbox %s: status %d: %s", path, resp.StatusCode, string(raw))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func taskStatus(progress float64) string {
	if progress < 1.0 {
		return model.TaskDownloading
	}
	return model.TaskSeeding
}

// ListTagged returns facts for every managed torrent added at or after the
// cutoff. Progress below 1.0 means still downloading, otherwise seeding.
func (c *Client) ListTagged(ctx context.Context, earliestImport time.Time) ([]store.TaskFact, error) {
	if err := c.login(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("tag", c.Tag)

	var torrents []Torrent
	if err := c.getJSON(ctx, "/api/v2/torrents/info", query, &torrents); err != nil {
		return nil, err
	}

	tracked := 0
	ignored := 0
	facts := make([]store.TaskFact, 0, len(torrents))
	for _, t := range torrents {
		if t.Hash == "" || t.Name == "" || t.ContentPath == "" {
			return nil, fmt.Errorf("seedbox torrent info missing required fields: %+v", t)
		}
		if t.AddedOn < earliestImport.Unix() {
			ignored++
			continue
		}
		status := taskStatus(t.Progress)
		facts = append(facts, store.TaskFact{
			ID:          t.Hash,
			Status:      status,
			ContentPath: t.ContentPath,
			Name:        t.Name,
		})
		tracked++
	}
	log.Printf("seedbox: tracked %d torrents, ignored %d before import cutoff", tracked, ignored)

	return facts, nil
}

// AddTorrent submits new work to the seedbox, tagged so the pull job will
// adopt it. The source may be a magnet link or a torrent URL.
func (c *Client) AddTorrent(ctx context.Context, source string) error {
	if err := c.login(ctx); err != nil {
		return err
	}

	form := url.Values{}
	form.Set("urls", source)
	form.Set("tags", c.Tag)

	body, err := c.postForm(ctx, "/api/v2/torrents/add", form)
	if err != nil {
		return err
	}
	if strings.HasPrefix(body, "Fails") {
		return fmt.Errorf("seedbox rejected torrent: %s", source)
	}
	return nil
}
