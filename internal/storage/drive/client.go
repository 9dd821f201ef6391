// Package drive implements the object-storage backend client: a one-shot
// multipart upload for small files, a resumable byte-range session for large
// ones, and the make-public permission call.
package drive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/camwatch/internal/common"
)

const (
	// DefaultAPIBase is the metadata/permissions endpoint prefix.
	DefaultAPIBase = "https://www.googleapis.com/drive/v3"
	// DefaultUploadBase is the media upload endpoint prefix.
	DefaultUploadBase = "https://www.googleapis.com/upload/drive/v3"
	// DefaultScope is the OAuth scope requested for uploads.
	DefaultScope = "https://www.googleapis.com/auth/drive.file"

	objectFields = "id,name,webViewLink,webContentLink"
)

// FileMeta describes the object being created.
type FileMeta struct {
	Name     string
	MimeType string
	FolderID string
}

// Object is the remote file record returned on upload completion.
type Object struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	WebViewLink    string `json:"webViewLink"`
	WebContentLink string `json:"webContentLink"`
}

// DirectDownloadLink derives a link that bypasses the preview page.
func (o *Object) DirectDownloadLink() string {
	if o.ID == "" {
		return ""
	}
	return fmt.Sprintf("https://drive.google.com/uc?export=download&id=%s", o.ID)
}

// ChunkResult reports the outcome of a single byte-range write.
//
// Done is true when the server acknowledged the whole file; Object is then
// populated. Otherwise NextOffset holds the next byte the server expects,
// or -1 when the server's Range header could not be parsed.
type ChunkResult struct {
	Done       bool
	Object     *Object
	NextOffset int64
}

// Client talks to the storage backend over HTTP.
type Client struct {
	apiBase    string
	uploadBase string
	tokens     TokenSource
	httpClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURLs overrides the API and upload endpoint prefixes (tests point
// them at an httptest server).
func WithBaseURLs(apiBase, uploadBase string) Option {
	return func(c *Client) {
		c.apiBase = strings.TrimRight(apiBase, "/")
		c.uploadBase = strings.TrimRight(uploadBase, "/")
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a storage client using the given token source.
func NewClient(tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		apiBase:    DefaultAPIBase,
		uploadBase: DefaultUploadBase,
		tokens:     tokens,
		// No overall timeout: a chunk write may legitimately take minutes
		// on a slow uplink. Cancellation comes from the request context.
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func metadataJSON(meta FileMeta) ([]byte, error) {
	m := map[string]any{"name": meta.Name}
	if meta.MimeType != "" {
		m["mimeType"] = meta.MimeType
	}
	if meta.FolderID != "" {
		m["parents"] = []string{meta.FolderID}
	}
	return json.Marshal(m)
}

// SimpleUpload sends metadata and the whole payload in one multipart/related
// request. Used for files at or below the simple-upload threshold.
func (c *Client) SimpleUpload(ctx context.Context, meta FileMeta, r io.Reader) (*Object, error) {
	metaPart, err := metadataJSON(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	jsonHdr := textproto.MIMEHeader{}
	jsonHdr.Set("Content-Type", "application/json; charset=UTF-8")
	pw, err := mw.CreatePart(jsonHdr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}
	if _, err := pw.Write(metaPart); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}

	mediaHdr := textproto.MIMEHeader{}
	if meta.MimeType != "" {
		mediaHdr.Set("Content-Type", meta.MimeType)
	} else {
		mediaHdr.Set("Content-Type", "application/octet-stream")
	}
	pw, err = mw.CreatePart(mediaHdr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}
	if _, err := io.Copy(pw, r); err != nil {
		return nil, fmt.Errorf("%w: reading payload: %v", common.ErrNetwork, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}

	url := fmt.Sprintf("%s/files?uploadType=multipart&fields=%s", c.uploadBase, objectFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: simple upload returned %s", common.ErrNetwork, resp.Status)
	}

	var obj Object
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: decoding upload response: %v", common.ErrNetwork, err)
	}
	return &obj, nil
}

// CreateSession initiates a resumable upload and returns the session URI.
func (c *Client) CreateSession(ctx context.Context, meta FileMeta, size int64) (string, error) {
	metaPart, err := metadataJSON(meta)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}

	url := fmt.Sprintf("%s/files?uploadType=resumable&fields=%s", c.uploadBase, objectFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(metaPart))
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	if meta.MimeType != "" {
		req.Header.Set("X-Upload-Content-Type", meta.MimeType)
	}
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))
	if err := c.authorize(ctx, req); err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: initiating session: %v", common.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: session initiation returned %s", common.ErrNetwork, resp.Status)
	}

	sessionURI := resp.Header.Get("Location")
	if sessionURI == "" {
		return "", fmt.Errorf("%w: session initiation returned no Location header", common.ErrNetwork)
	}
	return sessionURI, nil
}

// UploadChunk writes one byte range to an open session.
//
// A 200/201 response completes the transfer. A 308 response reports how much
// the server has durably received; the next expected offset is parsed from
// its Range header. A 404/410 response means the session is gone and the
// caller must re-initiate it.
func (c *Client) UploadChunk(ctx context.Context, sessionURI string, chunk []byte, offset, total int64) (*ChunkResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURI, bytes.NewReader(chunk))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}
	end := offset + int64(len(chunk)) - 1
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end, total))
	req.ContentLength = int64(len(chunk))
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk write: %v", common.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var obj Object
		if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
			return nil, fmt.Errorf("%w: decoding final response: %v", common.ErrNetwork, err)
		}
		return &ChunkResult{Done: true, Object: &obj}, nil

	case resp.StatusCode == http.StatusPermanentRedirect:
		next, ok := nextOffsetFromRange(resp.Header.Get("Range"))
		if !ok {
			next = -1
		}
		return &ChunkResult{NextOffset: next}, nil

	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: chunk write returned %s", common.ErrSessionExpired, resp.Status)

	default:
		return nil, fmt.Errorf("%w: chunk write returned %s", common.ErrNetwork, resp.Status)
	}
}

// MakePublic grants anyone-with-the-link read access to the object.
// The call is idempotent on the backend and is not retried here.
func (c *Client) MakePublic(ctx context.Context, fileID string) error {
	body, err := json.Marshal(map[string]string{"role": "reader", "type": "anyone"})
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}

	url := fmt.Sprintf("%s/files/%s/permissions", c.apiBase, fileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: make public: %v", common.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%w: make public returned %s", common.ErrNetwork, resp.Status)
	}
	return nil
}

// nextOffsetFromRange parses a "Range: bytes=0-N" header into the next byte
// offset the server expects (N+1).
func nextOffsetFromRange(h string) (int64, bool) {
	if h == "" {
		return 0, false
	}
	h = strings.TrimPrefix(h, "bytes=")
	parts := strings.SplitN(h, "-", 2)
	if len(parts) != 2 {
		return 0, false
	}
	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return end + 1, true
}
