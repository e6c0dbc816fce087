// Package api is the typed HTTP client for the remote fish analysis
// service. It performs uploads, analysis starts, progress polling, and
// result retrieval, and normalizes every failure into *Error before it
// reaches the caller.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"fishdash/internal/metrics"
)

const (
	defaultUploadTimeout  = 5 * time.Minute
	defaultRequestTimeout = 30 * time.Second
	defaultPollTimeout    = 10 * time.Second

	apiPrefix = "/api/v1"
)

// File is one local image queued for upload.
type File struct {
	// Name is the filename presented to the server.
	Name string
	// Path is the local filesystem path read at upload time.
	Path string
}

// Options configures a Client.
type Options struct {
	// UploadTimeout bounds the whole multipart upload. Uploads are long
	// by design; scale this to expected batch sizes.
	UploadTimeout time.Duration
	// RequestTimeout bounds result retrieval and analysis-start calls.
	RequestTimeout time.Duration
	// PollTimeout bounds a single progress poll.
	PollTimeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the remote analysis service.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	uploadTimeout  time.Duration
	requestTimeout time.Duration
	pollTimeout    time.Duration
	logger         *zap.Logger
}

// New creates a Client for the service at baseURL.
func New(baseURL string, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = defaultUploadTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaultPollTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		httpClient:     httpClient,
		uploadTimeout:  opts.UploadTimeout,
		requestTimeout: opts.RequestTimeout,
		pollTimeout:    opts.PollTimeout,
		logger:         logger,
	}
}

// UploadBatch uploads the given files with their analysis parameters as a
// single multipart request, reporting byte-level progress as the body is
// streamed.
func (c *Client) UploadBatch(ctx context.Context, files []File, cfg AnalysisConfig, onProgress UploadProgressFunc) (*BatchUploadResponse, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no files to upload")
	}

	var bytesTotal int64
	for _, f := range files {
		info, err := os.Stat(f.Path)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", f.Path, err)
		}
		bytesTotal += info.Size()
	}

	tracker := newProgressTracker(len(files), bytesTotal, onProgress, nil)

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)

	go func() {
		err := writeMultipartBody(writer, files, cfg, tracker)
		if closeErr := writer.Close(); err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPrefix+"/upload/batch", pr)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out BatchUploadResponse
	if err := c.do(req, "upload_batch", &out); err != nil {
		return nil, err
	}
	metrics.UploadBytesTotal.Add(float64(bytesTotal))

	c.logger.Info("batch upload completed",
		zap.String("batchId", out.BatchID),
		zap.Int("uploaded", len(out.UploadedFiles)),
		zap.Int("failed", len(out.FailedFiles)),
	)
	return &out, nil
}

func writeMultipartBody(writer *multipart.Writer, files []File, cfg AnalysisConfig, tracker *progressTracker) error {
	if err := writer.WriteField("grid_square_size", strconv.FormatFloat(cfg.GridSquareSizeInches, 'f', -1, 64)); err != nil {
		return err
	}
	if err := writer.WriteField("include_visualizations", strconv.FormatBool(cfg.IncludeVisualizations)); err != nil {
		return err
	}

	for _, f := range files {
		src, err := os.Open(f.Path)
		if err != nil {
			return fmt.Errorf("open %s: %w", f.Path, err)
		}

		info, err := src.Stat()
		if err != nil {
			src.Close()
			return fmt.Errorf("stat %s: %w", f.Path, err)
		}

		name := f.Name
		if name == "" {
			name = filepath.Base(f.Path)
		}

		part, err := writer.CreateFormFile("files", name)
		if err != nil {
			src.Close()
			return err
		}

		tracker.beginFile(name, info.Size())
		_, err = io.Copy(&progressWriter{w: part, tracker: tracker}, src)
		src.Close()
		if err != nil {
			return fmt.Errorf("upload %s: %w", name, err)
		}
		tracker.endFile()
	}

	return nil
}

// UploadSingle uploads one file for individual analysis.
func (c *Client) UploadSingle(ctx context.Context, file File, cfg AnalysisConfig) (*SingleUploadResponse, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("grid_square_size", strconv.FormatFloat(cfg.GridSquareSizeInches, 'f', -1, 64)); err != nil {
		return nil, err
	}
	if err := writer.WriteField("include_visualizations", strconv.FormatBool(cfg.IncludeVisualizations)); err != nil {
		return nil, err
	}

	name := file.Name
	if name == "" {
		name = filepath.Base(file.Path)
	}
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, err
	}
	src, err := os.Open(file.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", file.Path, err)
	}
	written, err := io.Copy(part, src)
	src.Close()
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPrefix+"/upload/single", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var out SingleUploadResponse
	if err := c.do(req, "upload_single", &out); err != nil {
		return nil, err
	}
	metrics.UploadBytesTotal.Add(float64(written))
	return &out, nil
}

// StartAnalysis asks the server to begin analyzing an uploaded batch.
func (c *Client) StartAnalysis(ctx context.Context, req BatchAnalysisRequest) (*BatchAnalysisStarted, error) {
	var out BatchAnalysisStarted
	if err := c.postJSON(ctx, "/analysis/batch", "start_analysis", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AnalyzeSingle analyzes a single already-uploaded image.
func (c *Client) AnalyzeSingle(ctx context.Context, req SingleAnalysisRequest) (*FishAnalysisResult, error) {
	var out FishAnalysisResult
	if err := c.postJSON(ctx, "/analysis/single", "analyze_single", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProgress polls the progress of a running batch. The per-poll
// timeout is short; the orchestrator's iteration ceiling is the backstop
// against hung remote jobs.
func (c *Client) GetProgress(ctx context.Context, batchID string) (*AnalysisProgress, error) {
	ctx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	var out AnalysisProgress
	if err := c.getJSON(ctx, "/analysis/batch/"+url.PathEscape(batchID)+"/progress", "get_progress", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetComprehensive retrieves the full batch result including population
// statistics and download URLs.
func (c *Client) GetComprehensive(ctx context.Context, batchID string) (*ComprehensiveBatchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var out ComprehensiveBatchResult
	if err := c.getJSON(ctx, "/analysis/batch/"+url.PathEscape(batchID)+"/comprehensive", "get_comprehensive", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPaginatedResults retrieves one page of individual results.
func (c *Client) GetPaginatedResults(ctx context.Context, batchID string, query ResultsQuery) (*PaginatedResults, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	params := url.Values{}
	if query.Page > 0 {
		params.Set("page", strconv.Itoa(query.Page))
	}
	if query.PerPage > 0 {
		params.Set("per_page", strconv.Itoa(query.PerPage))
	}
	if query.StatusFilter != "" {
		params.Set("status_filter", string(query.StatusFilter))
	}
	if query.SortBy != "" {
		params.Set("sort_by", query.SortBy)
	}
	if query.SortOrder != "" {
		params.Set("sort_order", query.SortOrder)
	}
	if query.Search != "" {
		params.Set("search", query.Search)
	}

	path := "/analysis/batch/" + url.PathEscape(batchID) + "/results/paginated"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var out PaginatedResults
	if err := c.getJSON(ctx, path, "get_paginated_results", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelBatch issues a best-effort cancellation of a running batch.
func (c *Client) CancelBatch(ctx context.Context, batchID string) (*CancelResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+apiPrefix+"/analysis/batch/"+url.PathEscape(batchID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build cancel request: %w", err)
	}

	var out CancelResponse
	if err := c.do(req, "cancel_batch", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks remote service and model health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build health request: %w", err)
	}

	var out HealthResponse
	if err := c.do(req, "health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) postJSON(ctx context.Context, path, operation string, in, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPrefix+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, operation, out)
}

func (c *Client) getJSON(ctx context.Context, path, operation string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiPrefix+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	return c.do(req, operation, out)
}

// do executes the request, records metrics, and decodes the response.
// Non-2xx responses come back as *Error.
func (c *Client) do(req *http.Request, operation string, out interface{}) error {
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	metrics.APIRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(operation, "transport_error").Inc()
		return fmt.Errorf("%s request failed: %w", operation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := errorFromResponse(resp)
		metrics.APIRequestsTotal.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()
		c.logger.Debug("analysis service returned error",
			zap.String("operation", operation),
			zap.Int("status", apiErr.StatusCode),
			zap.String("detail", apiErr.Detail),
		)
		return apiErr
	}

	metrics.APIRequestsTotal.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", operation, err)
	}
	return nil
}
