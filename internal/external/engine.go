package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"regionwatch/internal/types"
)

const defaultEngineBaseURL = "https://api.runpod.ai"

// EngineClientConfig configures an EngineClient.
type EngineClientConfig struct {
	APIKey  string
	BaseURL string
	// Endpoints maps a priority to the serverless endpoint that runs it.
	// PriorityStandard is required; other priorities fall back to it.
	Endpoints  map[types.Priority]string
	WebhookURL string
	// RateLimit caps submissions per second across this process; zero
	// disables limiting.
	RateLimit float64
	RateBurst int
	Logger    *slog.Logger
}

type engineRunRequest struct {
	Input   types.JobSpec `json:"input"`
	Webhook string        `json:"webhook,omitempty"`
}

type engineRunResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// EngineJobStatus is the engine's view of one job.
type EngineJobStatus struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	DelayTime     int64           `json:"delayTime,omitempty"`
	ExecutionTime int64           `json:"executionTime,omitempty"`
	Error         string          `json:"error,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
}

// EngineClient submits JobSpecs to a serverless execution engine over its
// REST API. Submission is never retried here: a duplicate submit would start
// a second job, so failures surface to the caller and the message is
// redelivered instead.
type EngineClient struct {
	base       *BaseClient
	apiKey     string
	baseURL    string
	endpoints  map[types.Priority]string
	webhookURL string
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewEngineClient creates an EngineClient over base. Callers normally build
// base with NoRetry().
func NewEngineClient(base *BaseClient, cfg EngineClientConfig) (*EngineClient, error) {
	if cfg.Endpoints[types.PriorityStandard] == "" {
		return nil, fmt.Errorf("engine: an endpoint for priority %q is required", types.PriorityStandard)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultEngineBaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	endpoints := make(map[types.Priority]string, len(cfg.Endpoints))
	for p, ep := range cfg.Endpoints {
		if ep != "" {
			endpoints[p] = ep
		}
	}

	return &EngineClient{
		base:       base,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		endpoints:  endpoints,
		webhookURL: cfg.WebhookURL,
		limiter:    limiter,
		logger:     logger,
	}, nil
}

func (c *EngineClient) endpointFor(p types.Priority) string {
	if ep, ok := c.endpoints[p.OrDefault()]; ok {
		return ep
	}
	return c.endpoints[types.PriorityStandard]
}

// Submit starts one job and returns the engine's handle for it.
func (c *EngineClient) Submit(ctx context.Context, spec types.JobSpec) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", types.NewAppError(types.ErrCodeJobSubmissionFailed, "engine submission rate limit wait aborted", err)
		}
	}

	body, err := json.Marshal(engineRunRequest{Input: spec, Webhook: c.webhookURL})
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to serialize job spec", err)
	}

	endpoint := c.endpointFor(spec.Priority)
	url := fmt.Sprintf("%s/v2/%s/run", c.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create engine request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.base.Do(req)
	if err != nil {
		return "", c.submitError(err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", c.handleErrorResponse(ctx, resp, "Submit")
	}

	var run engineRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		return "", types.NewAppError(types.ErrCodeJobSubmissionFailed, "failed to decode engine response", err)
	}
	if run.ID == "" {
		return "", types.NewAppError(types.ErrCodeJobSubmissionFailed, "engine returned an empty job handle", nil)
	}

	c.logger.InfoContext(ctx, "job submitted to engine",
		"job_id", spec.JobID,
		"engine_handle", run.ID,
		"endpoint", endpoint,
		"engine_status", run.Status,
	)
	return run.ID, nil
}

// Status fetches the engine's current view of a job. It is used by
// operators to reconcile a job whose notifications were lost.
func (c *EngineClient) Status(ctx context.Context, priority types.Priority, handle string) (*EngineJobStatus, error) {
	if handle == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "engine handle is required", nil)
	}
	url := fmt.Sprintf("%s/v2/%s/status/%s", c.baseURL, c.endpointFor(priority), handle)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to create engine status request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.base.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, c.handleErrorResponse(ctx, resp, "Status")
	}

	var status EngineJobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, types.NewAppError(types.ErrCodeUpstreamUnavailable, "failed to decode engine status", err)
	}
	return &status, nil
}

// handleErrorResponse maps a non-2xx engine reply. Submission failures keep
// JobSubmissionFailed so the dispatcher reports them uniformly.
func (c *EngineClient) handleErrorResponse(ctx context.Context, resp *http.Response, operation string) *types.AppError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	c.logger.ErrorContext(ctx, "engine API error",
		"operation", operation,
		"status_code", resp.StatusCode,
		"response_body", string(raw),
	)

	cause := fmt.Errorf("engine %s returned %d: %s", operation, resp.StatusCode, raw)
	if operation == "Submit" {
		return c.submitError(cause, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return types.NewAppError(types.ErrCodeUnknownJob, "engine has no such job", cause)
	}
	return types.NewAppError(types.ErrCodeUpstreamUnavailable,
		fmt.Sprintf("engine %s failed (%d)", operation, resp.StatusCode), cause)
}

func (c *EngineClient) submitError(err error, status int) *types.AppError {
	details := map[string]any{}
	if status > 0 {
		details["status_code"] = status
	}
	if code := types.CodeOf(err); code != "" {
		details["upstream_code"] = string(code)
	}
	return types.NewAppErrorWithDetails(types.ErrCodeJobSubmissionFailed, "engine rejected job submission", err, details)
}
