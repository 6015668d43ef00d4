package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"postpulse/internal/model"
	"postpulse/internal/scoring"
)

// Dimension is a grouping key for aggregation.
type Dimension string

const (
	ByContentType Dimension = "content_type"
	ByHashtag     Dimension = "hashtag"
	ByTimeBucket  Dimension = "time_bucket"
)

// ParseDimension accepts the wire names of the supported dimensions.
func ParseDimension(s string) (Dimension, error) {
	switch d := Dimension(strings.ToLower(strings.TrimSpace(s))); d {
	case ByContentType, ByHashtag, ByTimeBucket:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", model.ErrUnknownDimension, s)
	}
}

// Granularity is the width of a time bucket.
type Granularity string

const (
	Day  Granularity = "day"
	Week Granularity = "week"
)

// ParseGranularity defaults an empty value to Day.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case "":
		return Day, nil
	case Day, Week:
		return g, nil
	default:
		return "", fmt.Errorf("unknown granularity %q", s)
	}
}

// BucketStart truncates t to the granularity boundary of its own calendar
// (weeks start on Monday). The result is that calendar date at midnight UTC,
// so buckets compare equal regardless of the source offset.
func BucketStart(t time.Time, g Granularity) time.Time {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if g == Week {
		offset := (int(d.Weekday()) + 6) % 7
		d = d.AddDate(0, 0, -offset)
	}
	return d
}

const bucketLayout = "2006-01-02"

// AggregateStat summarizes the scores of one group.
type AggregateStat struct {
	Dimension   Dimension  `json:"dimension"`
	Key         string     `json:"key"`
	Count       int        `json:"count"`
	Mean        float64    `json:"mean"`
	Variance    float64    `json:"variance"`
	Rank        int        `json:"rank"`
	BucketStart *time.Time `json:"bucket_start,omitempty"`
}

// Options control aggregation.
type Options struct {
	Granularity Granularity
	// Workers > 1 accumulates partitions of the input concurrently.
	Workers int
}

// Aggregate produces one stat per distinct value of dim, ordered by mean
// descending, then count descending, then key ascending. The result is a pure
// function of its input.
func Aggregate(scored []scoring.Scored, dim Dimension, opts Options) ([]AggregateStat, error) {
	if _, err := ParseDimension(string(dim)); err != nil {
		return nil, err
	}
	if opts.Granularity == "" {
		opts.Granularity = Day
	}
	var groups map[string]*accumulator
	if opts.Workers > 1 && len(scored) >= 2*opts.Workers {
		groups = accumulateParallel(scored, dim, opts)
	} else {
		groups = accumulate(scored, dim, opts.Granularity)
	}

	out := make([]AggregateStat, 0, len(groups))
	for key, a := range groups {
		st := AggregateStat{Dimension: dim, Key: key, Count: a.n, Mean: a.mean, Variance: a.variance()}
		if dim == ByTimeBucket {
			start, _ := time.Parse(bucketLayout, key)
			st.BucketStart = &start
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return statLess(out[i], out[j]) })
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}

func statLess(a, b AggregateStat) bool {
	if a.Mean != b.Mean {
		return a.Mean > b.Mean
	}
	if a.Count != b.Count {
		return a.Count > b.Count
	}
	return a.Key < b.Key
}

// Chronological returns time-bucket stats ordered by bucket start.
func Chronological(stats []AggregateStat) []AggregateStat {
	out := make([]AggregateStat, len(stats))
	copy(out, stats)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Partition splits scored posts by the value of dim. A post carrying several
// hashtags lands in every hashtag partition.
func Partition(scored []scoring.Scored, dim Dimension, g Granularity) (map[string][]scoring.Scored, error) {
	if _, err := ParseDimension(string(dim)); err != nil {
		return nil, err
	}
	out := make(map[string][]scoring.Scored)
	for _, s := range scored {
		for _, k := range keysOf(s.Post, dim, g) {
			out[k] = append(out[k], s)
		}
	}
	return out, nil
}

func keysOf(p model.PostMetrics, dim Dimension, g Granularity) []string {
	switch dim {
	case ByContentType:
		return []string{string(p.PostType)}
	case ByHashtag:
		return p.Hashtags
	case ByTimeBucket:
		return []string{BucketStart(p.DatePosted, g).Format(bucketLayout)}
	}
	return nil
}

func accumulate(scored []scoring.Scored, dim Dimension, g Granularity) map[string]*accumulator {
	groups := make(map[string]*accumulator)
	for _, s := range scored {
		for _, k := range keysOf(s.Post, dim, g) {
			a, ok := groups[k]
			if !ok {
				a = &accumulator{}
				groups[k] = a
			}
			a.add(s.Engagement.Score)
		}
	}
	return groups
}

// accumulateParallel splits the input into contiguous partitions and merges
// the partial results in partition order, so the outcome does not depend on
// goroutine scheduling.
func accumulateParallel(scored []scoring.Scored, dim Dimension, opts Options) map[string]*accumulator {
	parts := make([]map[string]*accumulator, opts.Workers)
	size := (len(scored) + opts.Workers - 1) / opts.Workers
	var g errgroup.Group
	for i := 0; i < opts.Workers; i++ {
		lo := i * size
		hi := min(lo+size, len(scored))
		if lo >= hi {
			continue
		}
		i := i // per-iteration copy (go directive < 1.22)
		g.Go(func() error {
			parts[i] = accumulate(scored[lo:hi], dim, opts.Granularity)
			return nil
		})
	}
	_ = g.Wait()

	merged := make(map[string]*accumulator)
	for _, part := range parts {
		for k, a := range part {
			if m, ok := merged[k]; ok {
				m.merge(*a)
			} else {
				cp := *a
				merged[k] = &cp
			}
		}
	}
	return merged
}

// accumulator keeps a running mean and sum of squared deviations (Welford).
type accumulator struct {
	n    int
	mean float64
	m2   float64
}

func (a *accumulator) add(x float64) {
	a.n++
	d := x - a.mean
	a.mean += d / float64(a.n)
	a.m2 += d * (x - a.mean)
}

func (a *accumulator) merge(b accumulator) {
	if b.n == 0 {
		return
	}
	if a.n == 0 {
		*a = b
		return
	}
	n := a.n + b.n
	d := b.mean - a.mean
	a.mean += d * float64(b.n) / float64(n)
	a.m2 += b.m2 + d*d*float64(a.n)*float64(b.n)/float64(n)
	a.n = n
}

func (a *accumulator) variance() float64 {
	if a.n == 0 {
		return 0
	}
	return a.m2 / float64(a.n)
}
