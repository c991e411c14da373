package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/InsulaLabs/fleet/models"
)

const (
	defaultTimeout = 10 * time.Second
)

var (
	ErrNotFound     = errors.New("not found")
	ErrBadRequest   = errors.New("bad request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
)

type Config struct {
	BaseURL    string // e.g. http://127.0.0.1:7400
	Token      string // bearer token, empty when the server runs without auth
	SkipVerify bool
	Timeout    time.Duration
	Logger     *slog.Logger
}

// ErrorResponse is returned for any non-2xx status that has no sentinel.
type ErrorResponse struct {
	StatusCode int
	ErrorType  string
	Message    string
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("server error (status %d): %s - %s", e.StatusCode, e.ErrorType, e.Message)
}

// Client is the API client for the fleet service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      string
	logger     *slog.Logger
}

func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url cannot be empty")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL '%s': %w", cfg.BaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("base url '%s' must be http or https", cfg.BaseURL)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clientLogger := logger.WithGroup("fleet_client")

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.SkipVerify},
		},
		Timeout: cfg.Timeout,
	}

	clientLogger.Debug("Fleet client initialized", "base_url", cfg.BaseURL, "tls_skip_verify", cfg.SkipVerify)

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		token:      cfg.Token,
		logger:     clientLogger,
	}, nil
}

// internal request helper
func (c *Client) doRequest(ctx context.Context, method, path string, body any, target any) error {
	targetURL := c.baseURL + path

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body for %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, targetURL, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request %s %s: %w", method, targetURL, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.logger.Debug("Sending request", "method", method, "url", targetURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("HTTP request failed", "method", method, "url", targetURL, "error", err)
		return fmt.Errorf("http request %s %s failed: %w", method, targetURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("Received non-2xx status code",
			"method", method,
			"url", targetURL,
			"status_code", resp.StatusCode,
			"request_id", resp.Header.Get("X-Request-Id"))
		return decodeError(resp)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode response body for %s %s (status %d): %w", method, targetURL, resp.StatusCode, err)
		}
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var errorResp models.ErrorResponse
	bodyBytes, readErr := io.ReadAll(resp.Body)
	if readErr != nil || json.Unmarshal(bodyBytes, &errorResp) != nil {
		errorResp.Message = strings.TrimSpace(string(bodyBytes))
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, errorResp.Message)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", ErrBadRequest, errorResp.Message)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, errorResp.Message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: retry after %ss", ErrRateLimited, resp.Header.Get("Retry-After"))
	}
	return &ErrorResponse{
		StatusCode: resp.StatusCode,
		ErrorType:  errorResp.ErrorType,
		Message:    errorResp.Message,
	}
}

func idPath(prefix, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: id cannot be empty", ErrBadRequest)
	}
	if id == "." || id == ".." {
		return "", fmt.Errorf("%w: id '%s' is not addressable", ErrBadRequest, id)
	}
	return prefix + url.PathEscape(id), nil
}

// --- Node Operations ---

// UpdateNode reports a node's current capacity and load, replacing whatever
// the registry held for it.
func (c *Client) UpdateNode(ctx context.Context, update models.NodeUpdate) error {
	return c.doRequest(ctx, http.MethodPost, "/api/v1/node/update", update, nil)
}

// ListNodes returns every known node, highest remaining capacity first.
func (c *Client) ListNodes(ctx context.Context) ([]models.NodeRecord, error) {
	var response models.NodeListResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/node/status", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

func (c *Client) GetNode(ctx context.Context, nodeID string) (models.NodeRecord, error) {
	path, err := idPath("/api/v1/node/status/", nodeID)
	if err != nil {
		return models.NodeRecord{}, err
	}
	var node models.NodeRecord
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &node); err != nil {
		return models.NodeRecord{}, err
	}
	return node, nil
}

func (c *Client) RemoveNode(ctx context.Context, nodeID string) error {
	path, err := idPath("/api/v1/node/", nodeID)
	if err != nil {
		return err
	}
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}

// --- File Operations ---

func (c *Client) AssignNode(ctx context.Context, fileID, nodeID string) (models.OpResponse, error) {
	var response models.OpResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/file/assign", models.FileNodePayload{FileID: fileID, NodeID: nodeID}, &response)
	return response, err
}

// CompleteReplica counts one finished replica. nodeID is optional and only
// shows up in the server's logs.
func (c *Client) CompleteReplica(ctx context.Context, fileID, nodeID string) (models.OpResponse, error) {
	var response models.OpResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/file/complete", models.FileNodePayload{FileID: fileID, NodeID: nodeID}, &response)
	return response, err
}

// FileStatus returns the file's record. The server creates it on first sight
// when the blob exists.
func (c *Client) FileStatus(ctx context.Context, fileID string) (models.FileRecord, error) {
	path, err := idPath("/api/v1/file/status/", fileID)
	if err != nil {
		return models.FileRecord{}, err
	}
	var record models.FileRecord
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &record); err != nil {
		return models.FileRecord{}, err
	}
	return record, nil
}

func (c *Client) AllFileStatuses(ctx context.Context) ([]models.FileRecord, error) {
	var response models.FileListResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/v1/file/status", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

func (c *Client) Lock(ctx context.Context, fileID string) (models.OpResponse, error) {
	var response models.OpResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/file/lock", models.FilePayload{FileID: fileID}, &response)
	return response, err
}

func (c *Client) Unlock(ctx context.Context, fileID string) (models.OpResponse, error) {
	var response models.OpResponse
	err := c.doRequest(ctx, http.MethodPost, "/api/v1/file/unlock", models.FilePayload{FileID: fileID}, &response)
	return response, err
}

func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	path, err := idPath("/api/v1/file/", fileID)
	if err != nil {
		return err
	}
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil)
}

// --- System Operations ---

func (c *Client) Ping(ctx context.Context) (models.PingResponse, error) {
	var response models.PingResponse
	err := c.doRequest(ctx, http.MethodGet, "/api/v1/ping", nil, &response)
	return response, err
}
