package jobs

import (
	"context"
	"time"

	"postpulse/internal/cache"
	"postpulse/internal/logging"
	"postpulse/internal/normalize"
	"postpulse/internal/store/sqlitevec"
)

// RefreshOptions configure RunRefreshLoop.
type RefreshOptions struct {
	Interval time.Duration
	// SourcePath, when set, is re-imported on every tick; unchanged files
	// are skipped by checksum.
	SourcePath string
	Normalize  normalize.Options
	// Cache, when set, drops results cached for a replaced corpus.
	Cache *cache.ResultCache
}

// RefreshOnce imports the source (if any), reloads the stored corpus and
// rebuilds the index when the corpus changed. It reports whether a rebuild
// happened. A failed import is logged and the stored corpus is still served.
func RefreshOnce(ctx context.Context, db *sqlitevec.DB, holder *IndexHolder, opts RefreshOptions) (bool, error) {
	if opts.SourcePath != "" {
		if _, err := RunImportOnce(ctx, db, opts.SourcePath, opts.Normalize, false); err != nil {
			logging.Warn("refresh_import_failed", map[string]any{"source": opts.SourcePath, "error": err.Error()})
		}
	}
	c, err := db.LoadCorpus(ctx)
	if err != nil {
		return false, err
	}
	prev := holder.Fingerprint()
	if c.Fingerprint() == prev && !holder.BuiltAt().IsZero() {
		return false, nil
	}
	if _, err := holder.Rebuild(ctx, c); err != nil {
		logging.Warn("refresh_mirror_failed", map[string]any{"error": err.Error()})
	}
	if err := opts.Cache.Invalidate(ctx, prev); err != nil {
		logging.Warn("cache_invalidate_failed", map[string]any{"fingerprint": prev, "error": err.Error()})
	}
	return true, nil
}

// RunRefreshLoop runs RefreshOnce on a ticker until ctx is cancelled.
func RunRefreshLoop(ctx context.Context, db *sqlitevec.DB, holder *IndexHolder, opts RefreshOptions) error {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	t := time.NewTicker(opts.Interval)
	defer t.Stop()
	// run immediately
	if _, err := RefreshOnce(ctx, db, holder, opts); err != nil {
		logging.Error("refresh_error", map[string]any{"error": err.Error()})
	}
	for {
		select {
		case <-ctx.Done():
			logging.Info("refresh_loop_stop", nil)
			return ctx.Err()
		case <-t.C:
			if _, err := RefreshOnce(ctx, db, holder, opts); err != nil {
				logging.Error("refresh_error", map[string]any{"error": err.Error()})
			}
		}
	}
}
