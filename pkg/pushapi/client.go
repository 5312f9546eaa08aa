// Package pushapi is a client for the Push API and Stream API endpoints used
// to load documents into a push source.
package pushapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxErrorBody caps how much of an error response is kept on a RequestError.
const maxErrorBody = 4096

// SourceStatus is the externally visible state of a push source.
type SourceStatus string

const (
	StatusRebuild SourceStatus = "REBUILD"
	StatusIdle    SourceStatus = "IDLE"
)

// ErrPayloadTooLarge is returned when an upload body exceeds the configured
// upload limit.
var ErrPayloadTooLarge = errors.New("payload exceeds maximum upload size")

// FileContainer is a single-use upload target for the batch protocol.
type FileContainer struct {
	FileID    string `json:"fileId"`
	UploadURI string `json:"uploadUri"`
}

// Stream is an open Stream API session. UploadURI is the first chunk's
// upload target.
type Stream struct {
	StreamID  string `json:"streamId"`
	UploadURI string `json:"uploadUri"`
	FileID    string `json:"fileId,omitempty"`
}

// StreamChunk is an additional upload target inside an open stream.
type StreamChunk struct {
	UploadURI string `json:"uploadUri"`
	FileID    string `json:"fileId,omitempty"`
}

// RequestError describes a failed HTTP exchange with the platform or the
// upload storage.
type RequestError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *RequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Client talks to the Push API on behalf of a single source.
type Client struct {
	cfg    *Config
	client *http.Client
	logger hclog.Logger
}

// NewClient creates a new Push API client.
func NewClient(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid push API config: %w", err)
	}
	cfg.setDefaults()

	return &Client{
		cfg:    cfg,
		client: cfg.HTTPClient,
		logger: cfg.Logger.Named("pushapi-client"),
	}, nil
}

// SetSourceStatus changes the status of the source.
func (c *Client) SetSourceStatus(ctx context.Context, status SourceStatus) error {
	u := c.sourceURL("status", url.Values{"statusType": {string(status)}})
	return c.doRequest(ctx, http.MethodPost, u, nil, true)
}

// DeleteOlderThan deletes every document of the source whose ordering ID is
// lower than orderingID (milliseconds since the Unix epoch).
func (c *Client) DeleteOlderThan(ctx context.Context, orderingID int64) error {
	u := c.sourceURL("documents/olderthan", url.Values{"orderingId": {fmt.Sprint(orderingID)}})
	return c.doRequest(ctx, http.MethodDelete, u, nil, true)
}

// CreateFileContainer requests a new file container for the batch protocol.
func (c *Client) CreateFileContainer(ctx context.Context) (*FileContainer, error) {
	u := fmt.Sprintf("%s/v1/organizations/%s/files",
		c.cfg.PushBaseURL, url.PathEscape(c.cfg.OrganizationID))

	var fc FileContainer
	if err := c.doRequest(ctx, http.MethodPost, u, &fc, false); err != nil {
		return nil, fmt.Errorf("failed to create file container: %w", err)
	}
	if fc.FileID == "" || fc.UploadURI == "" {
		return nil, fmt.Errorf("file container response is missing fileId or uploadUri")
	}

	c.logger.Debug("file container created", "file_id", fc.FileID)
	return &fc, nil
}

// PushDocumentBatch tells the platform to process the content of a file
// container as a batch of AddOrUpdate operations.
func (c *Client) PushDocumentBatch(ctx context.Context, fileID string) error {
	u := c.sourceURL("documents/batch", url.Values{"fileId": {fileID}})
	if err := c.doRequest(ctx, http.MethodPut, u, nil, false); err != nil {
		return fmt.Errorf("failed to push document batch: %w", err)
	}
	return nil
}

// OpenStream opens a Stream API session on the source.
func (c *Client) OpenStream(ctx context.Context) (*Stream, error) {
	var s Stream
	if err := c.doRequest(ctx, http.MethodPost, c.streamURL("open"), &s, false); err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if s.StreamID == "" {
		return nil, fmt.Errorf("open stream response is missing streamId")
	}

	c.logger.Info("stream opened", "source", c.cfg.SourceID, "stream_id", s.StreamID)
	return &s, nil
}

// RequestStreamChunk requests a new upload target inside an open stream.
func (c *Client) RequestStreamChunk(ctx context.Context, streamID string) (*StreamChunk, error) {
	var chunk StreamChunk
	u := c.streamURL(url.PathEscape(streamID) + "/chunk")
	if err := c.doRequest(ctx, http.MethodPost, u, &chunk, false); err != nil {
		return nil, fmt.Errorf("failed to request stream chunk: %w", err)
	}
	if chunk.UploadURI == "" {
		return nil, fmt.Errorf("stream chunk response is missing uploadUri")
	}
	return &chunk, nil
}

// CloseStream closes a Stream API session.
func (c *Client) CloseStream(ctx context.Context, streamID string) error {
	u := c.streamURL(url.PathEscape(streamID) + "/close")
	if err := c.doRequest(ctx, http.MethodPost, u, nil, true); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}

	c.logger.Info("stream closed", "stream_id", streamID)
	return nil
}

// Upload transfers body to a pre-signed upload URI. The URI is opaque and
// carries its own credentials, so no Authorization header is sent.
func (c *Client) Upload(ctx context.Context, uploadURI string, body []byte) error {
	target := redact(uploadURI)

	if len(body) > c.cfg.UploadLimit {
		return &RequestError{
			Method: http.MethodPut,
			URL:    target,
			Err:    fmt.Errorf("%w: %s", ErrPayloadTooLarge, humanize.IBytes(uint64(len(body)))),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURI, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("x-amz-server-side-encryption", "AES256")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return &RequestError{Method: http.MethodPut, URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &RequestError{
			Method:     http.MethodPut,
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Info("upload completed",
		"size", humanize.Bytes(uint64(len(body))),
		"duration", time.Since(start),
	)
	return nil
}

// doRequest executes a platform request. When retry is set, 5xx responses
// and transport failures are retried up to MaxRetries times; 4xx responses
// are never retried.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, result any, retry bool) error {
	maxRetries := uint64(0)
	if retry {
		maxRetries = uint64(c.cfg.MaxRetries)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.RetryInterval
	b := backoff.WithContext(backoff.WithMaxRetries(eb, maxRetries), ctx)

	op := func() error {
		err := c.do(ctx, method, endpoint, result)
		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.StatusCode >= 400 && reqErr.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("request failed, retrying", "method", method, "error", err, "wait", wait)
	}

	return backoff.RetryNotify(op, b, notify)
}

func (c *Client) do(ctx context.Context, method, endpoint string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return &RequestError{Method: method, URL: endpoint, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &RequestError{Method: method, URL: endpoint, StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Debug("request", "method", method, "url", endpoint, "status", resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(respBody) > maxErrorBody {
			respBody = respBody[:maxErrorBody]
		}
		return &RequestError{
			Method:     method,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       string(respBody),
		}
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

func (c *Client) sourceURL(action string, query url.Values) string {
	u := fmt.Sprintf("%s/v1/organizations/%s/sources/%s/%s",
		c.cfg.PushBaseURL,
		url.PathEscape(c.cfg.OrganizationID),
		url.PathEscape(c.cfg.SourceID),
		action,
	)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (c *Client) streamURL(action string) string {
	return fmt.Sprintf("%s/v1/organizations/%s/sources/%s/stream/%s",
		c.cfg.StreamBaseURL,
		url.PathEscape(c.cfg.OrganizationID),
		url.PathEscape(c.cfg.SourceID),
		action,
	)
}

// redact drops the query string of a pre-signed URI so signatures never end
// up in logs or errors.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid upload URI>"
	}
	u.RawQuery = ""
	return u.String()
}
