// Package engine answers the analytics queries exposed to the CLI and the HTTP
// service. An Engine holds configuration only; every call works on the corpus
// snapshot it is given.
package engine

import (
	"fmt"
	"sort"

	"postpulse/internal/analytics"
	"postpulse/internal/forecast"
	"postpulse/internal/model"
	"postpulse/internal/scoring"
	"postpulse/internal/similarity"
)

type Config struct {
	MinSamples  int
	Granularity analytics.Granularity
	Workers     int
}

type Engine struct {
	cfg Config
}

func New(cfg Config) *Engine {
	if cfg.MinSamples < 1 {
		cfg.MinSamples = forecast.DefaultMinSamples
	}
	if cfg.Granularity == "" {
		cfg.Granularity = analytics.Day
	}
	return &Engine{cfg: cfg}
}

func (e *Engine) aggOpts() analytics.Options {
	return analytics.Options{Granularity: e.cfg.Granularity, Workers: e.cfg.Workers}
}

// RankContentTypes returns one stat per post type, best first.
func (e *Engine) RankContentTypes(c model.Corpus) []analytics.AggregateStat {
	scored, _ := scoring.ScoreCorpus(c)
	stats, _ := analytics.Aggregate(scored, analytics.ByContentType, e.aggOpts())
	return stats
}

// TopHashtags returns the n best hashtags; n <= 0 returns all of them.
func (e *Engine) TopHashtags(c model.Corpus, n int) []analytics.AggregateStat {
	scored, _ := scoring.ScoreCorpus(c)
	return topHashtags(scored, n, e.aggOpts())
}

func topHashtags(scored []scoring.Scored, n int, opts analytics.Options) []analytics.AggregateStat {
	stats, _ := analytics.Aggregate(scored, analytics.ByHashtag, opts)
	if n > 0 && n < len(stats) {
		stats = stats[:n]
	}
	return stats
}

// BuildIndex scores c and builds a similarity index over it.
func (e *Engine) BuildIndex(c model.Corpus) *similarity.Index {
	scored, _ := scoring.ScoreCorpus(c)
	return similarity.Build(scored, similarity.Options{Workers: e.cfg.Workers})
}

// FindSimilar returns the k posts closest to postID, never including the post
// itself, using an index built from c.
func (e *Engine) FindSimilar(c model.Corpus, postID string, k int) ([]similarity.Neighbor, error) {
	if k < 1 {
		return nil, model.ErrInvalidK
	}
	target, ok := c.Get(postID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownPost, postID)
	}
	return excludeSelf(e.BuildIndex(c), target, k)
}

// FindSimilarWith answers from a prebuilt index, rejecting one whose
// vocabulary no longer matches c.
func (e *Engine) FindSimilarWith(ix *similarity.Index, c model.Corpus, postID string, k int) ([]similarity.Neighbor, error) {
	if k < 1 {
		return nil, model.ErrInvalidK
	}
	target, ok := c.Get(postID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownPost, postID)
	}
	if err := ix.CheckFresh(c); err != nil {
		return nil, err
	}
	return excludeSelf(ix, target, k)
}

func excludeSelf(ix *similarity.Index, target model.PostMetrics, k int) ([]similarity.Neighbor, error) {
	ns, err := ix.Query(target, k+1)
	if err != nil {
		return nil, err
	}
	out := make([]similarity.Neighbor, 0, k)
	for _, n := range ns {
		if n.PostID == target.PostID {
			continue
		}
		if len(out) == k {
			break
		}
		out = append(out, n)
	}
	return out, nil
}

// Forecast estimates the score of a planned post.
func (e *Engine) Forecast(c model.Corpus, cand forecast.Candidate) forecast.ForecastResult {
	scored, _ := scoring.ScoreCorpus(c)
	return forecast.Forecast(scored, cand, forecast.Options{MinSamples: e.cfg.MinSamples})
}

// BestHours ranks posting hours for typ.
func (e *Engine) BestHours(c model.Corpus, typ model.PostType, n int) []forecast.HourStat {
	scored, _ := scoring.ScoreCorpus(c)
	return forecast.BestHours(scored, typ, n)
}

// TrendPoint is one time bucket of a series. Direction is the sign of the
// change from the previous bucket's mean (0 for the first point).
type TrendPoint struct {
	Bucket    string  `json:"bucket"`
	Mean      float64 `json:"mean"`
	Count     int     `json:"count"`
	Direction int     `json:"direction"`
}

type TrendSeries struct {
	Key    string       `json:"key"`
	Points []TrendPoint `json:"points"`
}

// Trend buckets scores over time. For time_bucket the result is one series
// keyed "all"; for content_type and hashtag there is one series per value.
// bucketCount <= 0 keeps every bucket, otherwise the most recent ones.
func (e *Engine) Trend(c model.Corpus, dim analytics.Dimension, bucketCount int) ([]TrendSeries, error) {
	dim, err := analytics.ParseDimension(string(dim))
	if err != nil {
		return nil, err
	}
	scored, _ := scoring.ScoreCorpus(c)
	return trend(scored, dim, bucketCount, e.aggOpts())
}

func trend(scored []scoring.Scored, dim analytics.Dimension, bucketCount int, opts analytics.Options) ([]TrendSeries, error) {
	if dim == analytics.ByTimeBucket {
		s, err := series("all", scored, bucketCount, opts)
		if err != nil {
			return nil, err
		}
		if len(s.Points) == 0 {
			return []TrendSeries{}, nil
		}
		return []TrendSeries{s}, nil
	}
	parts, err := analytics.Partition(scored, dim, opts.Granularity)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]TrendSeries, 0, len(keys))
	for _, k := range keys {
		s, err := series(k, parts[k], bucketCount, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func series(key string, scored []scoring.Scored, bucketCount int, opts analytics.Options) (TrendSeries, error) {
	stats, err := analytics.Aggregate(scored, analytics.ByTimeBucket, opts)
	if err != nil {
		return TrendSeries{}, err
	}
	stats = analytics.Chronological(stats)
	if bucketCount > 0 && bucketCount < len(stats) {
		stats = stats[len(stats)-bucketCount:]
	}
	s := TrendSeries{Key: key, Points: make([]TrendPoint, len(stats))}
	for i, st := range stats {
		p := TrendPoint{Bucket: st.Key, Mean: st.Mean, Count: st.Count}
		if i > 0 {
			p.Direction = sign(st.Mean - stats[i-1].Mean)
		}
		s.Points[i] = p
	}
	return s, nil
}

func sign(d float64) int {
	switch {
	case d > 0:
		return 1
	case d < 0:
		return -1
	}
	return 0
}

// Report bundles the structured results handed to the advisory layer.
type Report struct {
	Fingerprint  string                    `json:"fingerprint"`
	Posts        int                       `json:"posts"`
	Model        scoring.Model             `json:"model"`
	ContentTypes []analytics.AggregateStat `json:"content_types"`
	TopHashtags  []analytics.AggregateStat `json:"top_hashtags"`
	Trends       []TrendSeries             `json:"trends"`
	BestHours    []forecast.HourStat       `json:"best_hours"`
}

// Report scores c once and derives rankings, the n best hashtags, per-type
// trends and the best posting hours of the leading type.
func (e *Engine) Report(c model.Corpus, n int) Report {
	scored, m := scoring.ScoreCorpus(c)
	opts := e.aggOpts()
	r := Report{Fingerprint: c.Fingerprint(), Posts: c.Len(), Model: m}
	r.ContentTypes, _ = analytics.Aggregate(scored, analytics.ByContentType, opts)
	r.TopHashtags = topHashtags(scored, n, opts)
	r.Trends, _ = trend(scored, analytics.ByContentType, 0, opts)
	if len(r.ContentTypes) > 0 {
		r.BestHours = forecast.BestHours(scored, model.PostType(r.ContentTypes[0].Key), 3)
	}
	return r
}
