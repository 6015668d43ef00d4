// Package scoring turns raw engagement counters into scores that are
// comparable across content types.
package scoring

import (
	"sort"

	"postpulse/internal/model"
)

// Weights are per-channel multipliers. All weights are strictly positive.
type Weights struct {
	Likes    float64 `json:"likes"`
	Comments float64 `json:"comments"`
	Shares   float64 `json:"shares"`
}

// Contributions are the weighted channel values; they sum to the score.
type Contributions struct {
	Likes    float64 `json:"likes"`
	Comments float64 `json:"comments"`
	Shares   float64 `json:"shares"`
}

// EngagementScore is derived from a post and references it by id.
type EngagementScore struct {
	PostID        string         `json:"post_id"`
	PostType      model.PostType `json:"post_type"`
	Score         float64        `json:"score"`
	Contributions Contributions  `json:"contributions"`
	Weights       Weights        `json:"weights"`
}

// Scored pairs a post with its score.
type Scored struct {
	Post       model.PostMetrics `json:"post"`
	Engagement EngagementScore   `json:"engagement"`
}

// Model holds calibrated weights. It is a pure function of the corpus it was
// calibrated on.
type Model struct {
	ByType  map[model.PostType]Weights `json:"by_type"`
	Default Weights                    `json:"default"`
	Samples map[model.PostType]int     `json:"samples"`
}

// Calibrate derives per-type weights as the inverse of each type's median
// channel value, so a median post contributes equally on every channel
// regardless of its type. Zero medians fall back to the global channel
// weight, and a zero global median falls back to 1.
func Calibrate(posts []model.PostMetrics) Model {
	m := Model{ByType: map[model.PostType]Weights{}, Samples: map[model.PostType]int{}}
	m.Default = Weights{
		Likes:    inverse(median(collect(posts, likes)), 1),
		Comments: inverse(median(collect(posts, comments)), 1),
		Shares:   inverse(median(collect(posts, shares)), 1),
	}
	byType := make(map[model.PostType][]model.PostMetrics)
	for _, p := range posts {
		byType[p.PostType] = append(byType[p.PostType], p)
	}
	for typ, ps := range byType {
		m.Samples[typ] = len(ps)
		m.ByType[typ] = Weights{
			Likes:    inverse(median(collect(ps, likes)), m.Default.Likes),
			Comments: inverse(median(collect(ps, comments)), m.Default.Comments),
			Shares:   inverse(median(collect(ps, shares)), m.Default.Shares),
		}
	}
	return m
}

// WeightsFor returns the weights for typ, or the global default for a type
// with no history.
func (m Model) WeightsFor(typ model.PostType) Weights {
	if w, ok := m.ByType[typ]; ok {
		return w
	}
	if m.Default == (Weights{}) {
		return Weights{Likes: 1, Comments: 1, Shares: 1}
	}
	return m.Default
}

// Score computes (wL*likes + wC*comments + wS*shares) / 3 for p.
func (m Model) Score(p model.PostMetrics) EngagementScore {
	w := m.WeightsFor(p.PostType)
	c := Contributions{
		Likes:    w.Likes * float64(p.Likes) / 3,
		Comments: w.Comments * float64(p.Comments) / 3,
		Shares:   w.Shares * float64(p.Shares) / 3,
	}
	return EngagementScore{
		PostID:        p.PostID,
		PostType:      p.PostType,
		Score:         c.Likes + c.Comments + c.Shares,
		Contributions: c,
		Weights:       w,
	}
}

// ScoreAll scores posts in order.
func (m Model) ScoreAll(posts []model.PostMetrics) []Scored {
	out := make([]Scored, len(posts))
	for i, p := range posts {
		out[i] = Scored{Post: p, Engagement: m.Score(p)}
	}
	return out
}

// ScoreCorpus calibrates on c and scores every post in it.
func ScoreCorpus(c model.Corpus) ([]Scored, Model) {
	posts := c.Posts()
	m := Calibrate(posts)
	return m.ScoreAll(posts), m
}

// ScoreMap indexes scores by post id.
func ScoreMap(scored []Scored) map[string]float64 {
	out := make(map[string]float64, len(scored))
	for _, s := range scored {
		out[s.Post.PostID] = s.Engagement.Score
	}
	return out
}

func likes(p model.PostMetrics) int64    { return p.Likes }
func comments(p model.PostMetrics) int64 { return p.Comments }
func shares(p model.PostMetrics) int64   { return p.Shares }

func collect(posts []model.PostMetrics, f func(model.PostMetrics) int64) []float64 {
	out := make([]float64, len(posts))
	for i, p := range posts {
		out[i] = float64(f(p))
	}
	return out
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := make([]float64, len(vals))
	copy(s, vals)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return (s[mid-1] + s[mid]) / 2
}

func inverse(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return 1 / v
}
