package agent

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

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/ChuLiYu/ledger-scheduler/pkg/types"
)

// Source is the scheduler as the agent sees it
type Source interface {
	Register(ctx context.Context, node types.Node) (types.Node, error)
	MatchingJobs(ctx context.Context, nodeID types.NodeID) ([]types.Job, error)
	Assign(ctx context.Context, jobID types.JobID, address string) (Assignment, error)
	SubmitResult(ctx context.Context, jobID types.JobID, result Result) error
}

// Assignment mirrors the assign-provider response
type Assignment struct {
	Success bool       `json:"success"`
	Job     types.Job  `json:"job"`
	Node    types.Node `json:"node"`
}

// Result is what the agent reports for a finished job
type Result struct {
	NodeID     types.NodeID `json:"node_id"`
	ResultHash string       `json:"result_hash"`
	Logs       string       `json:"logs,omitempty"`
}

// StatusError is a non-2xx answer from the scheduler
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("scheduler returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("scheduler returned %d %s: %s", e.Status, e.Code, e.Message)
}

// HasStatus reports whether err is a StatusError with one of the statuses
func HasStatus(err error, statuses ...int) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	for _, s := range statuses {
		if se.Status == s {
			return true
		}
	}
	return false
}

// ============================================================================
// HTTP source
// ============================================================================

// HTTPSource talks to the scheduler's HTTP API
type HTTPSource struct {
	base   *url.URL
	client *retryablehttp.Client
}

// NewHTTPSource creates a source for the scheduler at baseURL. Transport
// errors and 502/504 are retried; every other answer is returned as is.
func NewHTTPSource(baseURL string, retries int, logger *zap.Logger) (*HTTPSource, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse scheduler url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("scheduler url must be http or https, got %q", baseURL)
	}
	return &HTTPSource{base: base, client: newRetryClient(retries, logger)}, nil
}

func newRetryClient(retries int, logger *zap.Logger) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	client.Logger = leveledLogger{logger}
	client.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if err == nil && resp != nil && resp.StatusCode != http.StatusBadGateway && resp.StatusCode != http.StatusGatewayTimeout {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return client
}

func (s *HTTPSource) Register(ctx context.Context, node types.Node) (types.Node, error) {
	var out types.Node
	err := s.do(ctx, http.MethodPost, "/nodes/register", node, &out)
	return out, err
}

func (s *HTTPSource) MatchingJobs(ctx context.Context, nodeID types.NodeID) ([]types.Job, error) {
	var out []types.Job
	err := s.do(ctx, http.MethodGet, "/nodes/"+url.PathEscape(string(nodeID))+"/jobs", nil, &out)
	return out, err
}

func (s *HTTPSource) Assign(ctx context.Context, jobID types.JobID, address string) (Assignment, error) {
	body := map[string]string{"job_id": string(jobID), "address": address}
	var out Assignment
	err := s.do(ctx, http.MethodPost, "/nodes/assign-provider", body, &out)
	return out, err
}

func (s *HTTPSource) SubmitResult(ctx context.Context, jobID types.JobID, result Result) error {
	return s.do(ctx, http.MethodPost, "/nodes/"+url.PathEscape(string(jobID))+"/result", result, nil)
}

func (s *HTTPSource) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, s.base.String()+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode/100 != 2 {
		return statusError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func statusError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return &StatusError{Status: status, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	return &StatusError{Status: status, Message: strings.TrimSpace(string(body))}
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger
type leveledLogger struct {
	l *zap.Logger
}

func (l leveledLogger) sugar() *zap.SugaredLogger {
	if l.l == nil {
		return zap.NewNop().Sugar()
	}
	return l.l.Sugar()
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.sugar().Errorw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.sugar().Warnw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.sugar().Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.sugar().Debugw(msg, kv...) }
