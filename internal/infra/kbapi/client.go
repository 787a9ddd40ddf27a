// Package kbapi はマネージドインデックスのジョブ制御APIの HTTP クライアント。
package kbapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jinford/doc-rag/internal/core/kbsync"
)

const defaultTimeout = 30 * time.Second

// ErrBaseURLNotSet はAPIのベースURLが設定されていない場合のエラー
var ErrBaseURLNotSet = errors.New("KB_API_URL is not set")

// APIError は 2xx 以外の応答
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kb api returned %d: %s", e.StatusCode, e.Body)
}

// Client は kbsync.JobController を実装する
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption は Client の設定オプション
type ClientOption func(*Client)

// WithHTTPClient は使用する http.Client を設定する
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithToken は Authorization ヘッダーに付与する Bearer トークンを設定する
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// NewClient は新しい Client を作成する
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, ErrBaseURLNotSet
	}

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

var _ kbsync.JobController = (*Client)(nil)

type startJobResponse struct {
	JobID string `json:"job_id"`
}

type jobResponse struct {
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

type listJobsResponse struct {
	Jobs []jobResponse `json:"jobs"`
}

// StartIngestionJob は同期ジョブを開始する。409 は kbsync.ErrSyncConflict として返す。
func (c *Client) StartIngestionJob(ctx context.Context, indexID, sourceID string) (string, error) {
	path := fmt.Sprintf("/indexes/%s/sources/%s/jobs", url.PathEscape(indexID), url.PathEscape(sourceID))

	var resp startJobResponse
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, &resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
			return "", fmt.Errorf("%w: %s", kbsync.ErrSyncConflict, apiErr.Body)
		}
		return "", fmt.Errorf("failed to start ingestion job: %w", err)
	}
	if resp.JobID == "" {
		return "", errors.New("failed to start ingestion job: empty job id")
	}
	return resp.JobID, nil
}

// GetJobStatus はジョブの状態を返す
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (kbsync.JobStatus, error) {
	var resp jobResponse
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &resp); err != nil {
		return "", fmt.Errorf("failed to get job status: %w", err)
	}
	return kbsync.JobStatus(resp.Status), nil
}

// ListActiveJobs は終了していないジョブを返す
func (c *Client) ListActiveJobs(ctx context.Context, indexID string) ([]kbsync.Job, error) {
	path := fmt.Sprintf("/indexes/%s/jobs?active=true", url.PathEscape(indexID))

	var resp listJobsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list active jobs: %w", err)
	}

	jobs := make([]kbsync.Job, 0, len(resp.Jobs))
	for _, j := range resp.Jobs {
		status := kbsync.JobStatus(j.Status)
		// サーバーが active フィルタを無視した場合に備えて終了済みを除外
		if status.IsTerminal() {
			continue
		}
		jobs = append(jobs, kbsync.Job{ID: j.JobID, Status: status, StartedAt: j.StartedAt})
	}
	return jobs, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
