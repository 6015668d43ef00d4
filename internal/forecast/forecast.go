// Package forecast estimates engagement for posts that have not been
// published yet.
package forecast

import (
	"sort"
	"strings"
	"time"

	"postpulse/internal/model"
	"postpulse/internal/scoring"
	"postpulse/internal/util"
)

const DefaultMinSamples = 5

// Candidate describes a planned post. It carries no counters.
type Candidate struct {
	PostType model.PostType `json:"post_type"`
	Hashtags []string       `json:"hashtags,omitempty"`
	PostedAt time.Time      `json:"posted_at,omitempty"`
}

// Basis names the historical group an estimate came from.
type Basis string

const (
	BasisTypeHashtag Basis = "type_hashtag"
	BasisType        Basis = "type"
	BasisGlobal      Basis = "global"
	BasisNone        Basis = "none"
)

// ForecastResult is the expected score and the number of posts behind it.
type ForecastResult struct {
	Expected        float64  `json:"expected"`
	Confidence      int      `json:"confidence"`
	Basis           Basis    `json:"basis"`
	MatchedHashtags []string `json:"matched_hashtags,omitempty"`
}

type Options struct {
	// MinSamples is the smallest type+hashtag group trusted on its own.
	MinSamples int
}

// Forecast returns the mean score of the most specific historical group that
// matches c: same type with at least one shared hashtag, then same type, then
// the whole corpus.
func Forecast(scored []scoring.Scored, c Candidate, opts Options) ForecastResult {
	if opts.MinSamples < 1 {
		opts.MinSamples = DefaultMinSamples
	}
	typ := model.PostType(strings.ToLower(strings.TrimSpace(string(c.PostType))))
	tags := util.CanonicalTags(c.Hashtags)

	var tagged, typed, global group
	matched := map[string]struct{}{}
	for _, s := range scored {
		global.add(s)
		if s.Post.PostType != typ {
			continue
		}
		typed.add(s)
		if overlap := util.Overlap(tags, s.Post.Hashtags); len(overlap) > 0 {
			tagged.add(s)
			for _, h := range overlap {
				matched[h] = struct{}{}
			}
		}
	}

	switch {
	case len(tags) > 0 && tagged.n >= opts.MinSamples:
		res := tagged.result(BasisTypeHashtag)
		for h := range matched {
			res.MatchedHashtags = append(res.MatchedHashtags, h)
		}
		sort.Strings(res.MatchedHashtags)
		return res
	case typed.n > 0:
		return typed.result(BasisType)
	case global.n > 0:
		return global.result(BasisGlobal)
	}
	return ForecastResult{Basis: BasisNone}
}

type group struct {
	n   int
	sum float64
}

func (g *group) add(s scoring.Scored) {
	g.n++
	g.sum += s.Engagement.Score
}

func (g group) result(b Basis) ForecastResult {
	return ForecastResult{Expected: g.sum / float64(g.n), Confidence: g.n, Basis: b}
}

// HourStat is the mean score of posts published in one hour of the day.
type HourStat struct {
	Hour  int     `json:"hour"`
	Mean  float64 `json:"mean"`
	Count int     `json:"count"`
}

// BestHours ranks hours of day by mean score for typ, falling back to every
// post when typ has no history. Ties go to the better-sampled hour, then the
// earlier one. n <= 0 returns all observed hours.
func BestHours(scored []scoring.Scored, typ model.PostType, n int) []HourStat {
	pick := func(match func(scoring.Scored) bool) []HourStat {
		var buckets [24]group
		for _, s := range scored {
			if match(s) {
				buckets[s.Post.DatePosted.Hour()].add(s)
			}
		}
		var out []HourStat
		for h, g := range buckets {
			if g.n > 0 {
				out = append(out, HourStat{Hour: h, Mean: g.sum / float64(g.n), Count: g.n})
			}
		}
		return out
	}
	out := pick(func(s scoring.Scored) bool { return s.Post.PostType == typ })
	if len(out) == 0 {
		out = pick(func(scoring.Scored) bool { return true })
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mean != out[j].Mean {
			return out[i].Mean > out[j].Mean
		}
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Hour < out[j].Hour
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}
