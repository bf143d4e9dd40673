package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/chainsync-io/blockindexer/internal/metrics"
)

// HeightLister supplies the union of persisted heights across backends.
type HeightLister interface {
	KnownHeights(ctx context.Context) ([]int64, error)
}

// GapDetector scans the persisted height set for missing heights and queues
// one GapRequestTask per hole, capped at MaxToFix earliest-first.
type GapDetector struct {
	lister   HeightLister
	queue    *TaskQueue
	registry *metrics.Registry
	logger   *zap.Logger
	maxToFix int
}

// NewGapDetector constructs a GapDetector.
func NewGapDetector(
	lister HeightLister,
	queue *TaskQueue,
	registry *metrics.Registry,
	maxToFix int,
	logger *zap.Logger,
) *GapDetector {
	return &GapDetector{
		lister:   lister,
		queue:    queue,
		registry: registry,
		logger:   logger,
		maxToFix: maxToFix,
	}
}

// DetectMissing returns the exact integer complement of the sorted
// deduplicated input within [min(input), max(input)], ascending. Fewer than
// two heights cannot bracket a gap.
func DetectMissing(heights []int64) []int64 {
	if len(heights) < 2 {
		return nil
	}
	var missing []int64
	for i := 1; i < len(heights); i++ {
		prev, cur := heights[i-1], heights[i]
		for h := prev + 1; h < cur; h++ {
			missing = append(missing, h)
		}
	}
	return missing
}

// Run scans and queues gaps, returning the number queued. The gaps-detected
// counter reflects only what was queued, not the full discovered count.
func (g *GapDetector) Run(ctx context.Context) (int, error) {
	heights, err := g.lister.KnownHeights(ctx)
	if err != nil {
		return 0, fmt.Errorf("gap detection: %w", err)
	}
	if len(heights) < 2 {
		g.logger.Info("not enough blocks to detect gaps", zap.Int("known", len(heights)))
		return 0, nil
	}

	g.logger.Info("scanning for gaps",
		zap.Int("known", len(heights)),
		zap.Int64("earliest", heights[0]),
		zap.Int64("latest", heights[len(heights)-1]),
	)

	missing := DetectMissing(heights)
	if len(missing) == 0 {
		g.logger.Info("no gaps detected")
		return 0, nil
	}

	toFix := missing
	if len(missing) > g.maxToFix {
		toFix = missing[:g.maxToFix]
		g.logger.Warn("capping gaps to fix",
			zap.Int("detected", len(missing)),
			zap.Int("queued", g.maxToFix),
		)
	}

	for _, h := range toFix {
		if err := g.queue.Enqueue(GapRequestTask{Height: h}); err != nil {
			return 0, fmt.Errorf("queue gap %d: %w", h, err)
		}
	}
	g.registry.Add(metrics.GapsDetected, int64(len(toFix)))

	g.logger.Info("queued missing blocks",
		zap.Int("count", len(toFix)),
		zap.String("ranges", formatRanges(toFix, 10)),
	)
	return len(toFix), nil
}

// formatRanges renders missing heights as compact ranges ("12, 15-16"),
// truncated to maxRanges entries.
func formatRanges(heights []int64, maxRanges int) string {
	if len(heights) == 0 {
		return ""
	}
	var ranges []string
	start, end := heights[0], heights[0]
	flush := func() {
		if start == end {
			ranges = append(ranges, fmt.Sprintf("%d", start))
		} else {
			ranges = append(ranges, fmt.Sprintf("%d-%d", start, end))
		}
	}
	for _, h := range heights[1:] {
		if h == end+1 {
			end = h
			continue
		}
		flush()
		start, end = h, h
	}
	flush()

	if len(ranges) > maxRanges {
		return fmt.Sprintf("%s … and %d more",
			strings.Join(ranges[:maxRanges], ", "), len(ranges)-maxRanges)
	}
	return strings.Join(ranges, ", ")
}
