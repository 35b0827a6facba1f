package uploadclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/kirillkom/qc-inspection/internal/core/domain"
)

const (
	pathSingle  = "/v1/orders/upload"
	pathInit    = "/v1/orders/upload/init"
	pathChunk   = "/v1/orders/upload/chunk"
	pathImport  = "/v1/orders/import"
	pathCompact = "/v1/compact/orders/import"
)

// Client calls the order upload endpoints. It does not retry on its own;
// retries belong to the caller so they can be counted per chunk.
type Client struct {
	baseURL string
	http    *resty.Client
}

type Options struct {
	Timeout   time.Duration
	UserAgent string
}

func New(baseURL string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if strings.TrimSpace(opts.UserAgent) == "" {
		opts.UserAgent = "qcimport"
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: resty.New().
			SetHeader("User-Agent", opts.UserAgent).
			SetHeader("Accept", "application/json").
			SetTimeout(opts.Timeout),
	}
}

func (c *Client) InitUpload(ctx context.Context, req domain.InitUploadRequest) (domain.InitUploadResponse, error) {
	var out domain.InitUploadResponse
	if err := c.postJSON(ctx, "init", pathInit, req, &out); err != nil {
		return domain.InitUploadResponse{}, err
	}
	if strings.TrimSpace(out.UploadID) == "" {
		return domain.InitUploadResponse{}, errors.New("upload init: response has no uploadId")
	}
	return out, nil
}

func (c *Client) UploadChunk(ctx context.Context, req domain.ChunkUploadRequest) (domain.ChunkCounters, error) {
	var out domain.ChunkUploadResponse
	if err := c.postJSON(ctx, "chunk", pathChunk, req, &out); err != nil {
		return domain.ChunkCounters{}, err
	}
	return out.ChunkResult, nil
}

func (c *Client) UploadAll(ctx context.Context, req domain.SingleUploadRequest) (domain.ChunkCounters, error) {
	var out domain.SingleUploadResponse
	if err := c.postJSON(ctx, "single", pathSingle, req, &out); err != nil {
		return domain.ChunkCounters{}, err
	}
	return out.Results, nil
}

func (c *Client) CancelUpload(ctx context.Context, uploadID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete(c.baseURL + pathSingle + "/" + url.PathEscape(uploadID))
	if err != nil {
		return fmt.Errorf("upload cancel request: %w", err)
	}
	if resp.IsError() {
		return statusError("cancel", resp)
	}
	return nil
}

// GetUpload fetches the server-side session snapshot.
func (c *Client) GetUpload(ctx context.Context, uploadID string) (*domain.UploadSession, error) {
	var out domain.UploadSession
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(c.baseURL + pathSingle + "/" + url.PathEscape(uploadID))
	if err != nil {
		return nil, fmt.Errorf("upload status request: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("status", resp)
	}
	return &out, nil
}

// SubmitFile sends a whole workbook to the server-side import endpoint of
// the given mode.
func (c *Client) SubmitFile(ctx context.Context, mode domain.ImportMode, fileName string, content []byte) (*domain.UploadSession, error) {
	path := pathImport
	if mode == domain.ImportModeCompact {
		path = pathCompact
	}

	var out domain.UploadSession
	resp, err := c.http.R().
		SetContext(ctx).
		SetFileReader("file", fileName, bytes.NewReader(content)).
		SetResult(&out).
		Post(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("file import request: %w", err)
	}
	if resp.IsError() {
		return nil, statusError("import", resp)
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, operation, path string, body, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(out).
		Post(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("upload %s request: %w", operation, err)
	}
	if resp.IsError() {
		return statusError(operation, resp)
	}
	return nil
}

// HTTPStatusError is returned for any non-2xx response.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "upload status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("upload %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("upload %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// Temporary reports whether the server signalled a transient condition.
func (e *HTTPStatusError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func statusError(operation string, resp *resty.Response) error {
	body := resp.String()
	if len(body) > 512 {
		body = body[:512]
	}
	return &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode(),
		Status:     resp.Status(),
		Body:       body,
	}
}
