package jobs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"postpulse/internal/logging"
	"postpulse/internal/metrics"
	"postpulse/internal/model"
	"postpulse/internal/scoring"
	"postpulse/internal/similarity"
)

type snapshot struct {
	corpus  model.Corpus
	index   *similarity.Index
	builtAt time.Time
}

// IndexHolder publishes a corpus together with the similarity index built
// from it. Rebuild swaps both at once, so readers never see a half-built
// index or an index paired with a different corpus.
type IndexHolder struct {
	cur     atomic.Pointer[snapshot]
	workers int
	mirror  similarity.VectorStore

	// mirrorMu guards mirrored, the version last written to mirror.
	mirrorMu sync.Mutex
	mirrored string
}

// NewIndexHolder starts with an empty corpus. When mirror is set every
// rebuilt index is copied into it and the version it replaces is dropped.
func NewIndexHolder(workers int, mirror similarity.VectorStore) *IndexHolder {
	h := &IndexHolder{workers: workers, mirror: mirror}
	h.cur.Store(&snapshot{index: similarity.Build(nil, similarity.Options{})})
	return h
}

// Rebuild scores c, builds its index and publishes both. A mirror failure is
// returned after the swap; the in-memory index still serves queries.
func (h *IndexHolder) Rebuild(ctx context.Context, c model.Corpus) (*similarity.Index, error) {
	start := time.Now()
	scored, _ := scoring.ScoreCorpus(c)
	ix := similarity.Build(scored, similarity.Options{Workers: h.workers})
	h.cur.Store(&snapshot{corpus: c, index: ix, builtAt: time.Now().UTC()})
	metrics.IndexBuilds.Inc()
	metrics.IndexSize.Set(float64(ix.Len()))
	logging.Info("index_rebuilt", map[string]any{
		"posts": ix.Len(), "version": ix.Version(), "fingerprint": c.Fingerprint(), "elapsed_ms": time.Since(start).Milliseconds(),
	})
	if h.mirror != nil {
		if err := h.mirrorIndex(ctx, ix); err != nil {
			return ix, err
		}
	}
	return ix, nil
}

// mirrorIndex writes ix to the mirror and then deletes the previously
// mirrored version if the vocabulary changed.
func (h *IndexHolder) mirrorIndex(ctx context.Context, ix *similarity.Index) error {
	h.mirrorMu.Lock()
	defer h.mirrorMu.Unlock()
	if err := similarity.Mirror(ctx, h.mirror, ix); err != nil {
		logging.Error("index_mirror_error", map[string]any{"version": ix.Version(), "error": err.Error()})
		return err
	}
	prev := h.mirrored
	h.mirrored = ix.Version()
	if prev == "" || prev == ix.Version() {
		return nil
	}
	if err := h.mirror.DeleteVersion(ctx, prev); err != nil {
		logging.Warn("index_mirror_prune_error", map[string]any{"version": prev, "error": err.Error()})
		return err
	}
	logging.Info("index_mirror_pruned", map[string]any{"version": prev, "current": ix.Version()})
	return nil
}

// Current returns the published index.
func (h *IndexHolder) Current() *similarity.Index { return h.cur.Load().index }

// Snapshot returns the published corpus and its index.
func (h *IndexHolder) Snapshot() (model.Corpus, *similarity.Index) {
	s := h.cur.Load()
	return s.corpus, s.index
}

// Fingerprint identifies the published corpus.
func (h *IndexHolder) Fingerprint() string { return h.cur.Load().corpus.Fingerprint() }

// BuiltAt is zero until the first Rebuild.
func (h *IndexHolder) BuiltAt() time.Time { return h.cur.Load().builtAt }
