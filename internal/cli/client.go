package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hyperjump/recall/internal/hnsw"
	"github.com/hyperjump/recall/internal/models"
	"github.com/hyperjump/recall/internal/server"
)

// Client talks to a running recall server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for baseURL (e.g. http://localhost:8080).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Open initializes ownerID's store on the server.
func (c *Client) Open(ctx context.Context, ownerID string, forceNew bool) error {
	return c.do(ctx, http.MethodPost, ownerPath(ownerID, "open"), server.OpenRequest{ForceNew: forceNew}, nil)
}

// Store stores text and returns the record id.
func (c *Client) Store(ctx context.Context, ownerID, recordID, text string) (string, error) {
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := c.do(ctx, http.MethodPost, ownerPath(ownerID, "records"), server.StoreRequest{ID: recordID, Text: text}, &out); err != nil {
		return "", err
	}
	if out.Status == "not_durable" {
		return out.ID, &models.PersistError{Op: "save", OwnerID: ownerID, RecordID: out.ID, Err: fmt.Errorf("%s", out.Error)}
	}
	return out.ID, nil
}

// Get fetches a record.
func (c *Client) Get(ctx context.Context, ownerID, recordID string) (*models.Record, error) {
	var rec models.Record
	if err := c.do(ctx, http.MethodGet, ownerPath(ownerID, "records", recordID), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete removes a record.
func (c *Client) Delete(ctx context.Context, ownerID, recordID string) error {
	var out struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := c.do(ctx, http.MethodDelete, ownerPath(ownerID, "records", recordID), nil, &out); err != nil {
		return err
	}
	if out.Status == "not_durable" {
		return &models.PersistError{Op: "delete", OwnerID: ownerID, RecordID: recordID, Err: fmt.Errorf("%s", out.Error)}
	}
	return nil
}

// Search runs a search on the server.
func (c *Client) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	var resp models.SearchResponse
	if err := c.do(ctx, http.MethodPost, ownerPath(query.OwnerID, "search"), query, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BuildIndex builds the proximity index for ownerID.
func (c *Client) BuildIndex(ctx context.Context, ownerID string) (hnsw.Stats, error) {
	var st hnsw.Stats
	err := c.do(ctx, http.MethodPost, ownerPath(ownerID, "index"), nil, &st)
	return st, err
}

// Regenerate re-embeds every record of ownerID. The server reports no progress, so
// progress is only called once with the final count.
func (c *Client) Regenerate(ctx context.Context, ownerID string, progress func(done, total int)) (int, error) {
	var out server.RegenerateResponse
	if err := c.do(ctx, http.MethodPost, ownerPath(ownerID, "regenerate"), nil, &out); err != nil {
		return 0, err
	}
	if progress != nil {
		progress(out.Regenerated, out.Regenerated)
	}
	return out.Regenerated, nil
}

// Status fetches the server status.
func (c *Client) Status(ctx context.Context) (*server.StatusResponse, error) {
	var st server.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Settings fetches the semantic settings.
func (c *Client) Settings(ctx context.Context) (models.SemanticSettings, error) {
	var s models.SemanticSettings
	err := c.do(ctx, http.MethodGet, "/api/v1/settings", nil, &s)
	return s, err
}

// Configure replaces the semantic settings.
func (c *Client) Configure(ctx context.Context, settings models.SemanticSettings) error {
	return c.do(ctx, http.MethodPut, "/api/v1/settings", settings, nil)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request failed: %v", models.ErrIO, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(b))
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return fmt.Errorf("%w: server returned %d: %s", errorFor(resp.StatusCode), resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorFor maps an HTTP status back onto the error taxonomy.
func errorFor(status int) error {
	switch status {
	case http.StatusBadRequest:
		return models.ErrInvalidArgument
	case http.StatusNotFound:
		return models.ErrNotFound
	case http.StatusNotImplemented:
		return models.ErrNotImplemented
	default:
		return models.ErrIO
	}
}

func ownerPath(ownerID string, parts ...string) string {
	p := "/api/v1/owners/" + url.PathEscape(ownerID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}
