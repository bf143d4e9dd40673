// Package source implements the chain REST API client used to fetch the
// latest block and specific blocks by height.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/chainsync-io/blockindexer/internal/block"
	"github.com/chainsync-io/blockindexer/internal/metrics"
)

// ErrPermanent marks a fetch failure that retrying cannot fix, such as a
// non-2xx HTTP status.
var ErrPermanent = errors.New("permanent fetch error")

// Config controls the source client.
type Config struct {
	LatestURL        string
	BlockURLTemplate string
	Timeout          time.Duration
	MaxRetries       int
	RetryBackoff     float64

	// BackoffUnit scales the RetryBackoff^attempt wait. Defaults to one
	// second; tests shrink it.
	BackoffUnit time.Duration
}

// Client fetches blocks over HTTP with bounded retry.
type Client struct {
	httpClient *http.Client
	cfg        Config
	registry   *metrics.Registry
	logger     *zap.Logger
}

// New constructs a Client.
func New(cfg Config, registry *metrics.Registry, logger *zap.Logger) *Client {
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	if cfg.RetryBackoff < 1 {
		cfg.RetryBackoff = 1
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		registry:   registry,
		logger:     logger,
	}
}

// Latest fetches the current head block.
func (c *Client) Latest(ctx context.Context) (block.Block, error) {
	return c.fetch(ctx, c.cfg.LatestURL)
}

// ByHeight fetches a specific block.
func (c *Client) ByHeight(ctx context.Context, height int64) (block.Block, error) {
	return c.fetch(ctx, fmt.Sprintf(c.cfg.BlockURLTemplate, height))
}

// Health probes the latest-block endpoint once, without retry.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.get(ctx, c.cfg.LatestURL); err != nil {
		return fmt.Errorf("source unreachable: %w", err)
	}
	return nil
}

// fetch runs the bounded retry loop: up to MaxRetries+1 attempts with
// RetryBackoff^attempt waits between them. Permanent errors abort the loop
// immediately. The failure counter reflects only the final outcome; every
// attempt counts as an API request.
func (c *Client) fetch(ctx context.Context, url string) (block.Block, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt - 1)
			c.logger.Info("retrying fetch",
				zap.String("url", url),
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait),
			)
			select {
			case <-ctx.Done():
				c.registry.Inc(metrics.APIFailures)
				return block.Block{}, fmt.Errorf("fetch canceled: %w", ctx.Err())
			case <-time.After(wait):
			}
		}

		raw, err := c.get(ctx, url)
		if err == nil {
			b, perr := block.Parse(raw)
			if perr != nil {
				c.registry.Inc(metrics.APIFailures)
				return block.Block{}, perr
			}
			return b, nil
		}
		lastErr = err

		if errors.Is(err, ErrPermanent) || ctx.Err() != nil {
			break
		}
		c.logger.Warn("fetch attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", c.cfg.MaxRetries+1),
			zap.Error(err),
		)
	}

	c.registry.Inc(metrics.APIFailures)
	return block.Block{}, fmt.Errorf("fetch %s: %w", url, lastErr)
}

// get performs a single request attempt.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	c.registry.Inc(metrics.APIRequests)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrPermanent, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are transient.
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, fmt.Errorf("%w: %s returned status %d", ErrPermanent, url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	return time.Duration(math.Pow(c.cfg.RetryBackoff, float64(attempt)) * float64(c.cfg.BackoffUnit))
}
