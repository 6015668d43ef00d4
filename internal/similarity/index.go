package similarity

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"postpulse/internal/model"
	"postpulse/internal/scoring"
)

// Entry is one indexed post.
type Entry struct {
	PostID   string         `json:"post_id"`
	PostType model.PostType `json:"post_type"`
	Score    float64        `json:"score"`
	Vector   FeatureVector  `json:"vector"`
}

// Neighbor is a query hit.
type Neighbor struct {
	PostID   string  `json:"post_id"`
	Distance float64 `json:"distance"`
	Score    float64 `json:"score"`
}

// Searcher answers nearest-neighbor queries for vectors encoded with the
// vocabulary identified by version.
type Searcher interface {
	Search(ctx context.Context, version string, vec FeatureVector, k int) ([]Neighbor, error)
}

// VectorStore persists index entries for an external backend. Upsert replaces
// every entry of version; DeleteVersion drops them.
type VectorStore interface {
	Searcher
	Upsert(ctx context.Context, version string, entries []Entry) error
	DeleteVersion(ctx context.Context, version string) error
}

// Options control index construction.
type Options struct {
	Workers int
}

// Index is an immutable exact-search index. Rebuilding produces a new value;
// an existing Index is never mutated, so concurrent readers are safe.
type Index struct {
	vocab   Vocabulary
	entries []Entry
	byID    map[string]int
	// corpusFP identifies the posts the index was built from.
	corpusFP string
}

// Build freezes a vocabulary over scored posts and encodes every post.
func Build(scored []scoring.Scored, opts Options) *Index {
	posts := make([]model.PostMetrics, len(scored))
	for i, s := range scored {
		posts[i] = s.Post
	}
	ix := &Index{
		vocab:    NewVocabulary(posts),
		entries:  make([]Entry, len(scored)),
		byID:     make(map[string]int, len(scored)),
		corpusFP: model.Fingerprint(posts),
	}
	encode := func(lo, hi int) {
		for i := lo; i < hi; i++ {
			s := scored[i]
			ix.entries[i] = Entry{
				PostID:   s.Post.PostID,
				PostType: s.Post.PostType,
				Score:    s.Engagement.Score,
				Vector:   ix.vocab.Encode(s.Post),
			}
		}
	}
	workers := opts.Workers
	if workers > 1 && len(scored) >= 2*workers {
		size := (len(scored) + workers - 1) / workers
		var g errgroup.Group
		for lo := 0; lo < len(scored); lo += size {
			lo := lo // per-iteration copy (go directive < 1.22)
			hi := min(lo+size, len(scored))
			g.Go(func() error {
				encode(lo, hi)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		encode(0, len(scored))
	}
	for i, e := range ix.entries {
		ix.byID[e.PostID] = i
	}
	return ix
}

func (ix *Index) Vocabulary() Vocabulary { return ix.vocab }
func (ix *Index) Version() string        { return ix.vocab.Version }
func (ix *Index) Len() int               { return len(ix.entries) }

// Fingerprint is the fingerprint of the corpus the index was built from.
func (ix *Index) Fingerprint() string { return ix.corpusFP }

// Entries returns a copy of the indexed entries, e.g. to mirror them into a
// VectorStore.
func (ix *Index) Entries() []Entry {
	out := make([]Entry, len(ix.entries))
	copy(out, ix.entries)
	return out
}

// Encode projects p with the index's frozen vocabulary.
func (ix *Index) Encode(p model.PostMetrics) FeatureVector { return ix.vocab.Encode(p) }

// CheckFresh reports ErrIndexStale unless c is the corpus the index was built
// from. A different vocabulary and a different post set with the same tokens
// are both stale.
func (ix *Index) CheckFresh(c model.Corpus) error {
	current := NewVocabulary(c.Posts())
	if current.Version != ix.vocab.Version {
		return fmt.Errorf("%w: built on %s, corpus is %s", model.ErrIndexStale, ix.vocab.Version, current.Version)
	}
	if fp := c.Fingerprint(); fp != ix.corpusFP {
		return fmt.Errorf("%w: built from corpus %s, corpus is %s", model.ErrIndexStale, ix.corpusFP, fp)
	}
	return nil
}

// Query returns up to k posts nearest to target by cosine distance. An indexed
// post is matched with its stored vector and comes back first, ahead of other
// posts at distance zero.
func (ix *Index) Query(target model.PostMetrics, k int) ([]Neighbor, error) {
	if i, ok := ix.byID[target.PostID]; ok {
		return ix.search(ix.entries[i].Vector, k, target.PostID)
	}
	return ix.search(ix.vocab.Encode(target), k, "")
}

// Search implements Searcher for the in-memory index.
func (ix *Index) Search(_ context.Context, version string, vec FeatureVector, k int) ([]Neighbor, error) {
	if version != ix.vocab.Version {
		return nil, fmt.Errorf("%w: index %s, query %s", model.ErrIndexStale, ix.vocab.Version, version)
	}
	return ix.search(vec, k, "")
}

// search ranks every entry against vec. selfID, when set, wins ties at equal
// distance.
func (ix *Index) search(vec FeatureVector, k int, selfID string) ([]Neighbor, error) {
	if k < 1 {
		return nil, model.ErrInvalidK
	}
	out := make([]Neighbor, len(ix.entries))
	for i, e := range ix.entries {
		out[i] = Neighbor{PostID: e.PostID, Distance: CosineDistance(vec, e.Vector), Score: e.Score}
	}
	sortNeighbors(out, selfID)
	if k < len(out) {
		out = out[:k]
	}
	return out, nil
}

// SortNeighbors orders by distance ascending; equal distances put the higher
// engagement score first, then the lower post id.
func SortNeighbors(ns []Neighbor) { sortNeighbors(ns, "") }

func sortNeighbors(ns []Neighbor, selfID string) {
	sort.Slice(ns, func(i, j int) bool {
		a, b := ns[i], ns[j]
		if a.Distance != b.Distance {
			return a.Distance < b.Distance
		}
		if selfID != "" && (a.PostID == selfID) != (b.PostID == selfID) {
			return a.PostID == selfID
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.PostID < b.PostID
	})
}

// Mirror copies the index's entries into an external store under its version.
func Mirror(ctx context.Context, store VectorStore, ix *Index) error {
	return store.Upsert(ctx, ix.Version(), ix.Entries())
}
