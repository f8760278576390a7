// Package jobs submits catalog jobs to the portal API.
package jobs

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

	"go.uber.org/zap"

	"github.com/goliatone/go-catalogform/pkg/submission"
)

// ReportType tags catalog jobs on the job queue.
const ReportType = "catalog"

// maxErrorBody caps how much of a failed response is echoed into errors.
const maxErrorBody = 512

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.http = client
		}
	}
}

// WithTimeout bounds each submission.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Client posts jobs to {base}/jobs.
type Client struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration
	logger   *zap.Logger
}

var _ submission.Submitter = (*Client)(nil)

// New constructs a Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("jobs: invalid base URL %q", baseURL)
	}
	c := &Client{
		endpoint: base + "/jobs",
		http:     http.DefaultClient,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c, nil
}

type parameters struct {
	ItemID  string         `json:"item_id"`
	Version string         `json:"version"`
	Inputs  map[string]any `json:"inputs"`
}

type request struct {
	ReportType string     `json:"report_type"`
	Parameters parameters `json:"parameters"`
}

type response struct {
	JobID string `json:"job_id"`
}

// ResponseError reports a rejected submission.
type ResponseError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *ResponseError) Error() string {
	if e.Body == "" {
		return "jobs: HTTP " + e.Status
	}
	return fmt.Sprintf("jobs: HTTP %s: %s", e.Status, e.Body)
}

// SubmitJob posts job and returns the queued job id.
func (c *Client) SubmitJob(ctx context.Context, job submission.Job) (submission.Receipt, error) {
	inputs := job.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	body, err := json.Marshal(request{
		ReportType: ReportType,
		Parameters: parameters{ItemID: job.ItemID, Version: job.Version, Inputs: inputs},
	})
	if err != nil {
		return submission.Receipt{}, fmt.Errorf("jobs: encode request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return submission.Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return submission.Receipt{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return submission.Receipt{}, &ResponseError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	var decoded response
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return submission.Receipt{}, fmt.Errorf("jobs: decode response: %w", err)
	}
	if decoded.JobID == "" {
		return submission.Receipt{}, errors.New("jobs: response carries no job_id")
	}
	c.logger.Debug("job queued", zap.String("item", job.ItemID), zap.String("job_id", decoded.JobID))
	return submission.Receipt{JobID: decoded.JobID}, nil
}
