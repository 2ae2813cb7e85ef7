// Package tracking is a client for the REST API of an MLflow tracking server.
package tracking

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	apiPrefix = "api/2.0/mlflow"

	// maxParamsPerBatch is the server-side limit of params in one log-batch.
	maxParamsPerBatch = 100

	errResourceDoesNotExist = "RESOURCE_DOES_NOT_EXIST"
	errResourceExists       = "RESOURCE_ALREADY_EXISTS"
	lifecycleDeleted        = "deleted"
)

// Client talks to one tracking server. It is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock replaces time.Now for run start and end times.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient returns a client for the server at trackingURI, which must be an
// http or https URL.
func NewClient(trackingURI string, opts ...Option) (*Client, error) {
	u, err := url.Parse(trackingURI)
	if err != nil {
		return nil, errors.Wrap(err, "invalid tracking uri")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("tracking uri %q must use http or https", trackingURI)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 5 * time.Minute},
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// IsNotFound reports whether err is the server saying a resource is missing.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == errResourceDoesNotExist
}

func isAlreadyExists(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == errResourceExists
}

// SetExperiment returns the active experiment called name, creating it when it
// does not exist yet.
func (c *Client) SetExperiment(ctx context.Context, name string) (Experiment, error) {
	exp, err := c.GetExperimentByName(ctx, name)
	switch {
	case err == nil:
		if exp.LifecycleStage == lifecycleDeleted {
			return Experiment{}, errors.Errorf("experiment %q is deleted; restore it or pick another name", name)
		}
		return exp, nil
	case !IsNotFound(err):
		return Experiment{}, err
	}

	id, err := c.CreateExperiment(ctx, name)
	if isAlreadyExists(err) {
		// Created concurrently by another driver.
		return c.GetExperimentByName(ctx, name)
	}
	if err != nil {
		return Experiment{}, err
	}
	c.logger.Info("created experiment", zap.String("experiment", name), zap.String("experiment_id", id))
	return Experiment{ExperimentID: id, Name: name}, nil
}

func (c *Client) GetExperimentByName(ctx context.Context, name string) (Experiment, error) {
	var resp getExperimentResponse
	q := url.Values{"experiment_name": {name}}
	if err := c.do(ctx, http.MethodGet, "experiments/get-by-name", q, nil, &resp); err != nil {
		return Experiment{}, errors.Wrapf(err, "get experiment %q", name)
	}
	return resp.Experiment, nil
}

func (c *Client) CreateExperiment(ctx context.Context, name string) (string, error) {
	var resp createExperimentResponse
	if err := c.do(ctx, http.MethodPost, "experiments/create", nil, createExperimentRequest{Name: name}, &resp); err != nil {
		return "", errors.Wrapf(err, "create experiment %q", name)
	}
	return resp.ExperimentID, nil
}

// CreateRun starts a run in the given experiment.
func (c *Client) CreateRun(ctx context.Context, experimentID, runName string) (RunInfo, error) {
	req := createRunRequest{
		ExperimentID: experimentID,
		RunName:      runName,
		StartTime:    c.now().UnixMilli(),
	}
	if runName != "" {
		req.Tags = []Tag{{Key: TagRunName, Value: runName}}
	}
	var resp runResponse
	if err := c.do(ctx, http.MethodPost, "runs/create", nil, req, &resp); err != nil {
		return RunInfo{}, errors.Wrapf(err, "create run %q", runName)
	}
	return resp.Run.Info, nil
}

// LogParams records params on a run, splitting them into server-sized batches.
func (c *Client) LogParams(ctx context.Context, runID string, params []Param) error {
	for start := 0; start < len(params); start += maxParamsPerBatch {
		end := min(start+maxParamsPerBatch, len(params))
		req := logBatchRequest{RunID: runID, Params: params[start:end]}
		if err := c.do(ctx, http.MethodPost, "runs/log-batch", nil, req, nil); err != nil {
			return errors.Wrapf(err, "log params on run %s", runID)
		}
	}
	return nil
}

// UpdateRun ends or otherwise changes the status of a run.
func (c *Client) UpdateRun(ctx context.Context, runID string, status RunStatus) error {
	req := updateRunRequest{RunID: runID, Status: status}
	if status != StatusRunning {
		req.EndTime = c.now().UnixMilli()
	}
	if err := c.do(ctx, http.MethodPost, "runs/update", nil, req, nil); err != nil {
		return errors.Wrapf(err, "set run %s to %s", runID, status)
	}
	return nil
}

func (c *Client) endpoint(parts ...string) *url.URL {
	return c.baseURL.JoinPath(parts...)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.endpoint(apiPrefix, path)
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

func checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
