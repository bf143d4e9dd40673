// Package health runs pre-flight probes against the indexer's dependencies.
package health

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Target is one dependency to probe before the pipeline starts.
type Target struct {
	Name  string
	Probe func(ctx context.Context) error
}

// Checker probes each target with a bounded timeout. Any failure is fatal:
// starting a batch against a broken dependency would only burn the batch.
type Checker struct {
	targets []Target
	timeout time.Duration
	logger  *zap.Logger
}

// NewChecker constructs a Checker.
func NewChecker(targets []Target, timeout time.Duration, logger *zap.Logger) *Checker {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Checker{targets: targets, timeout: timeout, logger: logger}
}

// Run probes every target in order and returns the first failure.
func (c *Checker) Run(ctx context.Context) error {
	for _, t := range c.targets {
		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := t.Probe(probeCtx)
		cancel()

		if err != nil {
			c.logger.Error("health check failed",
				zap.String("target", t.Name),
				zap.Duration("elapsed", time.Since(start)),
				zap.Error(err),
			)
			return fmt.Errorf("health check %s: %w", t.Name, err)
		}
		c.logger.Info("health check passed",
			zap.String("target", t.Name),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return nil
}
