package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/probelight/specdriver/api/schemas"
)

// HashContent returns the hex SHA-256 of the source text. Any change to the
// source yields a different hash and therefore a cache miss.
func HashContent(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// PlanCache stores compiled plans on disk, one JSON file per source
// basename. Writes are guarded by an advisory file lock so concurrent runs
// against the same cache directory do not tear entries.
type PlanCache struct {
	dir    string
	maxAge time.Duration
	logger *zap.Logger
}

// NewPlanCache creates the cache rooted at dir, creating it as needed.
func NewPlanCache(dir string, maxAge time.Duration, logger *zap.Logger) (*PlanCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &schemas.CacheError{Op: "init", Err: err}
	}
	return &PlanCache{
		dir:    dir,
		maxAge: maxAge,
		logger: logger.Named("plan_cache"),
	}, nil
}

func (c *PlanCache) entryPath(basename string) string {
	safe := strings.ReplaceAll(basename, string(filepath.Separator), "_")
	return filepath.Join(c.dir, safe+".plan.json")
}

func (c *PlanCache) lockPath(basename string) string {
	return c.entryPath(basename) + ".lock"
}

// Lookup returns the cached plan for the basename when the entry both
// matches contentHash and is younger than the horizon. A missing, stale or
// corrupt entry is a miss; corruption is logged, never fatal.
func (c *PlanCache) Lookup(basename, contentHash string) (*schemas.ExecutionPlan, bool) {
	raw, err := os.ReadFile(c.entryPath(basename))
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("Cache read failed, treating as miss.",
				zap.String("file", basename), zap.Error(err))
		}
		return nil, false
	}

	var entry schemas.CacheEntry
	if err := jsoniter.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("Cache entry is corrupt, treating as miss.",
			zap.String("file", basename), zap.Error(err))
		return nil, false
	}

	if entry.ContentHash != contentHash {
		c.logger.Debug("Cache entry hash mismatch.", zap.String("file", basename))
		return nil, false
	}
	if age := time.Since(entry.CreatedAt); age > c.maxAge {
		c.logger.Debug("Cache entry expired.",
			zap.String("file", basename), zap.Duration("age", age))
		return nil, false
	}

	return &entry.Plan, true
}

// Store persists the plan pre-substitution, keyed by basename. Errors are
// returned as CacheError for the caller to log; they never abort a compile.
func (c *PlanCache) Store(basename, contentHash string, plan *schemas.ExecutionPlan) error {
	entry := schemas.CacheEntry{
		FeatureFile: basename,
		ContentHash: contentHash,
		CreatedAt:   time.Now().UTC(),
		Plan:        *plan,
	}
	data, err := jsoniter.MarshalIndent(entry, "", "  ")
	if err != nil {
		return &schemas.CacheError{Op: "encode", Err: err}
	}

	lock := flock.New(c.lockPath(basename))
	if err := lock.Lock(); err != nil {
		return &schemas.CacheError{Op: "lock", Err: err}
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			c.logger.Warn("Failed to release cache lock.", zap.Error(err))
		}
	}()

	tmp := c.entryPath(basename) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &schemas.CacheError{Op: "write", Err: err}
	}
	if err := os.Rename(tmp, c.entryPath(basename)); err != nil {
		return &schemas.CacheError{Op: "rename", Err: fmt.Errorf("%s: %w", basename, err)}
	}
	return nil
}
