package reportclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"epex-trade-report/internal/aggregator"
	"epex-trade-report/internal/api"
	"epex-trade-report/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrRequestFailed is returned when the report server cannot answer.
var ErrRequestFailed = errors.New("report request failed")

const maxRetries = 3

// Client reads reports from a running report server.
// It implements api.Ledger.
type Client struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	backoff func(attempt int) time.Duration
}

var _ api.Ledger = (*Client)(nil)

// NewClient creates a Client for the server at cfg.BaseURL.
func NewClient(cfg *config.Remote, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		client:  client,
		logger:  logger.Named("report-client"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst),
		backoff: exponentialBackoff,
	}
}

// exponentialBackoff returns 1s, 2s, ... for attempt 0, 1, ...
// With maxRetries attempts only the first maxRetries-1 waits happen.
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(math.Pow(2, float64(attempt))) * time.Second
}

// TotalVolume fetches the total traded volume for side.
func (c *Client) TotalVolume(ctx context.Context, side string) (float64, error) {
	req := c.client.R().
		SetQueryParam("side", side).
		SetResult(&api.VolumeResponse{})

	resp, err := c.doRequest(ctx, "/api/volume", req)
	if err != nil {
		return 0, fmt.Errorf("failed to get total volume: %w", err)
	}
	return resp.Result().(*api.VolumeResponse).Volume, nil
}

// PnL fetches the PnL of a strategy.
func (c *Client) PnL(ctx context.Context, strategyID string) (float64, error) {
	req := c.client.R().
		SetQueryParam("strategy", strategyID).
		SetResult(&api.PnLResponse{})

	resp, err := c.doRequest(ctx, "/api/pnl", req)
	if err != nil {
		return 0, fmt.Errorf("failed to get pnl: %w", err)
	}
	return resp.Result().(*api.PnLResponse).PnL, nil
}

// Strategies fetches the strategy ids present in the ledger.
func (c *Client) Strategies(ctx context.Context) ([]string, error) {
	req := c.client.R().SetResult(&api.StrategiesResponse{})

	resp, err := c.doRequest(ctx, "/api/strategies", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get strategies: %w", err)
	}
	return resp.Result().(*api.StrategiesResponse).Strategies, nil
}

// Summarize fetches the full report for the given strategies, or all of them.
func (c *Client) Summarize(ctx context.Context, strategyIDs []string) (*aggregator.Summary, error) {
	req := c.client.R().SetResult(&aggregator.Summary{})
	if len(strategyIDs) > 0 {
		req.SetQueryParamsFromValues(map[string][]string{"strategy": strategyIDs})
	}

	resp, err := c.doRequest(ctx, "/api/summary", req)
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	return resp.Result().(*aggregator.Summary), nil
}

// doRequest executes a GET with rate limiting and retry on 429, 5xx and
// transport errors.
func (c *Client) doRequest(ctx context.Context, url string, req *resty.Request) (*resty.Response, error) {
	var resp *resty.Response
	var err error

	req.SetContext(ctx)

	for i := 0; i < maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("url", c.client.BaseURL+url))
		resp, err = req.Get(url)

		if err == nil && !resp.IsError() {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err == nil {
			statusCode := resp.StatusCode()
			if statusCode == http.StatusTooManyRequests {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		} else {
			shouldRetry = true
		}

		if !shouldRetry {
			return nil, fmt.Errorf("%w: status %s: %s", ErrRequestFailed, resp.Status(), resp.String())
		}
		if i == maxRetries-1 {
			break
		}

		if retryAfter == 0 {
			retryAfter = c.backoff(i)
		}

		c.logger.Warn("Request failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(err),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrRequestFailed, maxRetries, err)
	}
	return nil, fmt.Errorf("%w after %d attempts: status %s", ErrRequestFailed, maxRetries, resp.Status())
}
