package comfyui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/anuvgupta/worker-comfyui/internal/backend"
)

// Compile-time interface satisfaction check.
var _ backend.Submitter = (*Client)(nil)

// Client submits graphs to the engine's /prompt endpoint.
type Client struct {
	http     *retryablehttp.Client
	baseURL  string
	clientID string
	logger   *slog.Logger
}

// newHTTPClient builds the shared HTTP session. Transport errors and
// 502/503/504 responses are retried with exponential backoff; every other
// response is returned to the caller as is.
func newHTTPClient(cfg Config, logger *slog.Logger) *retryablehttp.Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = cfg.SubmitRetries
	hc.RetryWaitMin = submitRetryWaitMin
	hc.RetryWaitMax = submitRetryWaitMax
	hc.Backoff = retryablehttp.DefaultBackoff
	hc.CheckRetry = checkRetry
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	hc.Logger = logger.With("component", "engine_http")
	hc.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		if attempt > 0 {
			submitRetries.Inc()
		}
	}
	return hc
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		// Defer to the library for transport errors so unrecoverable ones
		// (bad scheme, TLS verification) are not retried.
		return retryablehttp.DefaultRetryPolicy(ctx, nil, err)
	}
	return isRetryableStatus(resp.StatusCode), nil
}

// Submit posts g to the engine and returns the prompt id it was queued
// under. Rejections are never retried.
func (c *Client) Submit(ctx context.Context, g backend.Graph) (string, error) {
	body, err := json.Marshal(PromptRequest{Prompt: g, ClientID: c.clientID})
	if err != nil {
		return "", fmt.Errorf("marshal prompt: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", body)
	if err != nil {
		return "", fmt.Errorf("build prompt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("submitting prompt", "units", g.Units())
	resp, err := c.http.Do(req)
	if err != nil {
		// Exhausted retries hand back the last response alongside the error.
		if resp != nil {
			resp.Body.Close()
		}
		submissionsTotal.WithLabelValues(submitUnavailable).Inc()
		if ctx.Err() != nil {
			return "", fmt.Errorf("submit prompt: %w", ctx.Err())
		}
		return "", fmt.Errorf("%w: submit prompt: %v", backend.ErrEngineUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		submissionsTotal.WithLabelValues(submitUnavailable).Inc()
		return "", fmt.Errorf("%w: read prompt response: %v", backend.ErrEngineUnavailable, err)
	}

	if isRetryableStatus(resp.StatusCode) {
		submissionsTotal.WithLabelValues(submitUnavailable).Inc()
		return "", fmt.Errorf("%w: engine answered %d after retries", backend.ErrEngineUnavailable, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		submissionsTotal.WithLabelValues(submitRejected).Inc()
		return "", fmt.Errorf("%w: engine answered %d: %s", backend.ErrSubmissionRejected, resp.StatusCode, truncate(data, 512))
	}

	promptID, err := ParsePromptResponse(data)
	if err != nil {
		submissionsTotal.WithLabelValues(submitRejected).Inc()
		return "", err
	}

	submissionsTotal.WithLabelValues(submitAccepted).Inc()
	c.logger.Info("prompt queued", "prompt_id", promptID)
	return promptID, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
