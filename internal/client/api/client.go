// Package api is the HTTP client for the camwatch server, used by the
// camctl command.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client talks to the camwatch JSON API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Upload mirrors the server's upload snapshot.
type Upload struct {
	ID                 string `json:"id"`
	SourcePath         string `json:"source_path"`
	Name               string `json:"name"`
	State              string `json:"state"`
	BytesTotal         int64  `json:"bytes_total"`
	BytesTransferred   int64  `json:"bytes_transferred"`
	Percent            int    `json:"percent"`
	Error              string `json:"error,omitempty"`
	ViewLink           string `json:"view_link,omitempty"`
	ContentLink        string `json:"content_link,omitempty"`
	DirectDownloadLink string `json:"direct_download_link,omitempty"`
}

// Terminal reports whether the upload has finished.
func (u Upload) Terminal() bool {
	return u.State == "completed" || u.State == "failed" || u.State == "canceled"
}

// Trigger mirrors the server's trigger snapshot.
type Trigger struct {
	ID          string `json:"id"`
	Destination string `json:"destination"`
	Filename    string `json:"filename"`
	Stage       string `json:"stage"`
	UploadID    string `json:"upload_id,omitempty"`
	EarlySent   bool   `json:"early_notification_sent"`
	Error       string `json:"error,omitempty"`
	NotifyError string `json:"notify_error,omitempty"`
}

// Terminal reports whether the trigger workflow has finished.
func (t Trigger) Terminal() bool {
	return t.Stage == "completed" || t.Stage == "failed"
}

// StartUploadRequest is the body for POST /api/v1/uploads.
type StartUploadRequest struct {
	Path     string `json:"path"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	FolderID string `json:"folder_id,omitempty"`
}

// StartTriggerRequest is the body for POST /api/v1/triggers.
type StartTriggerRequest struct {
	Destination       string  `json:"destination"`
	DurationSeconds   float64 `json:"duration"`
	Filename          string  `json:"filename,omitempty"`
	Message           string  `json:"message,omitempty"`
	EarlyNotification bool    `json:"early_notification,omitempty"`
}

func (c *Client) StartUpload(ctx context.Context, req StartUploadRequest) (Upload, error) {
	var out Upload
	err := c.do(ctx, http.MethodPost, "/api/v1/uploads", req, &out)
	return out, err
}

func (c *Client) GetUpload(ctx context.Context, id string) (Upload, error) {
	var out Upload
	err := c.do(ctx, http.MethodGet, "/api/v1/uploads/"+id, nil, &out)
	return out, err
}

func (c *Client) ListUploads(ctx context.Context) ([]Upload, error) {
	var out []Upload
	err := c.do(ctx, http.MethodGet, "/api/v1/uploads", nil, &out)
	return out, err
}

func (c *Client) CancelUpload(ctx context.Context, id string) (bool, error) {
	var out struct {
		Canceled bool `json:"canceled"`
	}
	err := c.do(ctx, http.MethodDelete, "/api/v1/uploads/"+id, nil, &out)
	return out.Canceled, err
}

func (c *Client) StartTrigger(ctx context.Context, req StartTriggerRequest) (Trigger, error) {
	var out Trigger
	err := c.do(ctx, http.MethodPost, "/api/v1/triggers", req, &out)
	return out, err
}

func (c *Client) GetTrigger(ctx context.Context, id string) (Trigger, error) {
	var out Trigger
	err := c.do(ctx, http.MethodGet, "/api/v1/triggers/"+id, nil, &out)
	return out, err
}

func (c *Client) ListTriggers(ctx context.Context) ([]Trigger, error) {
	var out []Trigger
	err := c.do(ctx, http.MethodGet, "/api/v1/triggers", nil, &out)
	return out, err
}

func (c *Client) GetTriggerUpload(ctx context.Context, id string) (Upload, error) {
	var out Upload
	err := c.do(ctx, http.MethodGet, "/api/v1/triggers/"+id+"/upload", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
