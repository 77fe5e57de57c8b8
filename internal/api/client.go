// Package api talks to the planner REST API that owns objectives and tasks.
// Reads go through an ETag / Last-Modified disk cache so a flaky upstream
// still yields the last known records.
package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	appLog "plancal/internal/log"
	"plancal/internal/model"
	"plancal/internal/reschedule"
)

// ErrNotModifiedWithoutCache is returned when the server answers 304 but no
// cached body exists to reuse.
var ErrNotModifiedWithoutCache = errors.New("received 304 Not Modified but no cached body available")

// StatusError is a non-2xx answer from the API.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.Path, e.Status)
}

// FetchResult is the outcome of listing objectives.
type FetchResult struct {
	Objectives []model.Objective
	FromCache  bool // body came from disk (304 or upstream failure)
	UpdatedAt  time.Time
}

// cacheEntry holds HTTP cache metadata for the objectives listing.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	Token    string
	Timeout  time.Duration
	CacheDir string
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Client is a small REST client for /objectives.
type Client struct {
	baseURL  string
	token    string
	client   *http.Client
	cacheDir string
}

func New(opts Options) *Client {
	cacheDir := opts.CacheDir
	if cacheDir == "" {
		cacheDir = "./cache"
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		token:    opts.Token,
		client:   hc,
		cacheDir: cacheDir,
	}
}

// FetchObjectives lists every objective, honoring ETag and Last-Modified.
// On network errors or non-OK answers the cached body is used if present.
func (c *Client) FetchObjectives(ctx context.Context) (FetchResult, error) {
	u := c.baseURL + "/objectives"
	cachePath := c.cachePathForURL(u)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := loadCacheMeta(cachePath)
	cachedBody, _ := loadCacheBody(cachePath)

	req, err := c.newRequest(ctx, http.MethodGet, "/objectives", nil)
	if err != nil {
		return FetchResult{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Debug("objectives fetch start", "url", redactURL(u), "request_id", req.Header.Get("X-Request-ID"))

	resp, err := c.client.Do(req)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("objectives fetch network error, using cached body", err, "url", redactURL(u))
			return decodeCached(cachedBody, meta)
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return FetchResult{}, err
		}
		var objs []model.Objective
		if err := json.Unmarshal(body, &objs); err != nil {
			if len(cachedBody) > 0 {
				appLog.Error("objectives decode failed, using cached body", err, "url", redactURL(u))
				return decodeCached(cachedBody, meta)
			}
			return FetchResult{}, fmt.Errorf("decode objectives: %w", err)
		}

		newMeta := cacheEntry{
			URL:          u,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := saveCache(cachePath, &newMeta, body); err != nil {
			appLog.Error("objectives cache save failed", err, "url", redactURL(u))
		}
		appLog.Info("objectives fetch success", "url", redactURL(u), "count", len(objs))
		return FetchResult{Objectives: objs, UpdatedAt: newMeta.UpdatedAt}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, ErrNotModifiedWithoutCache
		}
		appLog.Debug("objectives not modified; using cache", "url", redactURL(u))
		return decodeCached(cachedBody, meta)

	default:
		statusErr := &StatusError{Method: http.MethodGet, Path: "/objectives", Code: resp.StatusCode, Status: resp.Status}
		if len(cachedBody) > 0 {
			appLog.Error("objectives fetch non-OK, using cached body", statusErr, "url", redactURL(u), "status", resp.StatusCode)
			return decodeCached(cachedBody, meta)
		}
		return FetchResult{}, statusErr
	}
}

// CreateObjective posts a new record. Tasks go to /objectives/task.
func (c *Client) CreateObjective(ctx context.Context, obj model.Objective) (model.Objective, error) {
	path := "/objectives"
	if model.Kind(obj.ObjectiveType) == model.KindTask {
		path = "/objectives/task"
	}
	var out model.Objective
	err := c.send(ctx, http.MethodPost, path, obj, &out)
	return out, err
}

// UpdateObjective sends a partial update for id.
func (c *Client) UpdateObjective(ctx context.Context, id string, fields any) (model.Objective, error) {
	if id == "" {
		return model.Objective{}, errors.New("objective id is empty")
	}
	var out model.Objective
	err := c.send(ctx, http.MethodPut, "/objectives/"+url.PathEscape(id), fields, &out)
	return out, err
}

// Apply forwards a reschedule payload to the matching endpoint.
func (c *Client) Apply(ctx context.Context, p reschedule.Payload) (model.Objective, error) {
	switch p.Op {
	case reschedule.OpCreate:
		if p.Record == nil {
			return model.Objective{}, errors.New("create payload without record")
		}
		return c.CreateObjective(ctx, *p.Record)
	default:
		return c.UpdateObjective(ctx, p.TargetID, p.Fields)
	}
}

func (c *Client) send(ctx context.Context, method, path string, in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Status: resp.Status}
	}
	appLog.Info("objectives write", "method", method, "path", path, "status", resp.StatusCode, "request_id", req.Header.Get("X-Request-ID"))

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if c.baseURL == "" {
		return nil, errors.New("api base URL is empty")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func decodeCached(body []byte, meta cacheEntry) (FetchResult, error) {
	var objs []model.Objective
	if err := json.Unmarshal(body, &objs); err != nil {
		return FetchResult{}, fmt.Errorf("decode cached objectives: %w", err)
	}
	return FetchResult{Objectives: objs, FromCache: true, UpdatedAt: meta.UpdatedAt}, nil
}

func (c *Client) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(c.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body.json"))
}

func saveCache(cachePath string, meta *cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body.json"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host for logging.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "api://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
