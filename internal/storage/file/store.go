// Package file implements the filesystem block store: one JSON file per
// height under a configured directory.
package file

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/chainsync-io/blockindexer/internal/block"
	"github.com/chainsync-io/blockindexer/internal/storage"
)

// Config captures the parameters for the file store.
type Config struct {
	// DataDir is the directory holding one file per block height.
	DataDir string

	// JSONExtension appends ".json" to block file names.
	JSONExtension bool

	// PrettyJSON indents stored payloads; otherwise they are minified.
	PrettyJSON bool
}

// Store writes block payloads to the local filesystem.
type Store struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a file-backed Store, creating the data directory if needed.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	info, err := os.Stat(cfg.DataDir)
	switch {
	case err == nil:
		if !info.IsDir() {
			return nil, fmt.Errorf("data directory path is not a directory")
		}
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.DataDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create data directory: %w", mkErr)
		}
	default:
		return nil, fmt.Errorf("stat data directory: %w", err)
	}
	return &Store{cfg: cfg, logger: logger}, nil
}

// Name identifies the backend in logs and metrics.
func (s *Store) Name() string { return "file" }

func (s *Store) path(height int64) string {
	name := strconv.FormatInt(height, 10)
	if s.cfg.JSONExtension {
		name += ".json"
	}
	return filepath.Join(s.cfg.DataDir, name)
}

// Store writes the block payload atomically: the payload lands under a
// unique temporary name and is linked into place, so a crash never leaves a
// half-written file visible under the final name and concurrent stores of
// the same height collapse to exactly one wrote=true. An existing file
// reports wrote=false.
func (s *Store) Store(_ context.Context, b block.Block) (bool, error) {
	final := s.path(b.Height)
	if _, err := os.Stat(final); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat block file %d: %w", b.Height, err)
	}

	data, err := s.encode(b.Raw)
	if err != nil {
		return false, fmt.Errorf("encode block %d: %w", b.Height, err)
	}

	tmp, err := os.CreateTemp(s.cfg.DataDir, ".block-*.tmp")
	if err != nil {
		return false, fmt.Errorf("create temp file for block %d: %w", b.Height, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()          //nolint:errcheck
		os.Remove(tmpName)   //nolint:errcheck
		return false, fmt.Errorf("write block file %d: %w", b.Height, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return false, fmt.Errorf("close block file %d: %w", b.Height, err)
	}

	// Link fails with EEXIST if another store won the race; blocks are
	// immutable, so the loser discards its copy as a no-op.
	if err := os.Link(tmpName, final); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("link block file %d: %w", b.Height, err)
	}
	os.Remove(tmpName) //nolint:errcheck
	return true, nil
}

func (s *Store) encode(raw json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	if s.cfg.PrettyJSON {
		if err := json.Indent(&buf, raw, "", "  "); err != nil {
			return nil, err
		}
	} else {
		if err := json.Compact(&buf, raw); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Exists reports whether a file for the height is present.
func (s *Store) Exists(_ context.Context, height int64) (bool, error) {
	if _, err := os.Stat(s.path(height)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat block file %d: %w", height, err)
	}
	return true, nil
}

// Load reads a stored payload back, used by integrity verification.
func (s *Store) Load(_ context.Context, height int64) (block.Block, error) {
	data, err := os.ReadFile(s.path(height))
	if err != nil {
		if os.IsNotExist(err) {
			return block.Block{}, storage.ErrNotFound
		}
		return block.Block{}, fmt.Errorf("read block file %d: %w", height, err)
	}
	b, err := block.Parse(data)
	if err != nil {
		return block.Block{}, fmt.Errorf("block file %d: %w", height, err)
	}
	return b, nil
}

// KnownHeights lists all stored heights in ascending order. Non-numeric
// names (including leftover .tmp files) are skipped.
func (s *Store) KnownHeights(_ context.Context) ([]int64, error) {
	entries, err := os.ReadDir(s.cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("read data directory: %w", err)
	}
	var heights []int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		h, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights, nil
}

// Stats reports totals for the final report.
func (s *Store) Stats(ctx context.Context) (storage.Stats, error) {
	heights, err := s.KnownHeights(ctx)
	if err != nil {
		return storage.Stats{}, err
	}
	st := storage.Stats{Total: int64(len(heights))}
	if len(heights) > 0 {
		st.Earliest = heights[0]
		st.Latest = heights[len(heights)-1]
	}
	return st, nil
}

// Health verifies the data directory is writable.
func (s *Store) Health(_ context.Context) error {
	probe := filepath.Join(s.cfg.DataDir, ".writable_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("data directory not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return fmt.Errorf("clean up probe file: %w", err)
	}
	return nil
}

// Verify checks that the stored file parses and its embedded height matches
// the filename.
func (s *Store) Verify(ctx context.Context, height int64) error {
	b, err := s.Load(ctx, height)
	if err != nil {
		return err
	}
	if b.Height != height {
		return fmt.Errorf("block file %d: embedded height %d does not match", height, b.Height)
	}
	return nil
}

// Cleanup scans all stored files and deletes the ones failing verification.
// This is the only operation that removes a stored copy.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	heights, err := s.KnownHeights(ctx)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, h := range heights {
		if err := s.Verify(ctx, h); err == nil {
			continue
		} else {
			s.logger.Warn("corrupted block file", zap.Int64("height", h), zap.Error(err))
		}
		if err := os.Remove(s.path(h)); err != nil {
			s.logger.Error("delete corrupted block file failed",
				zap.Int64("height", h),
				zap.Error(err),
			)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// Close is a no-op for the file store.
func (s *Store) Close() {}
