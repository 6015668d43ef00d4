// Package similarity builds post feature vectors and answers nearest-neighbor
// queries over them.
package similarity

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"

	"postpulse/internal/model"
)

// FeatureVector is a fixed-length projection of a post:
// one-hot post type, IDF-weighted hashtag presence, then sin/cos of the
// posting hour.
type FeatureVector []float32

// Vocabulary is the token space an index is built over. It is frozen at build
// time; tokens outside it are ignored when encoding.
type Vocabulary struct {
	Types    []model.PostType `json:"types"`
	Hashtags []string         `json:"hashtags"`
	IDF      []float64        `json:"idf"`
	Version  string           `json:"version"`

	typeIdx map[model.PostType]int
	tagIdx  map[string]int
}

// NewVocabulary collects post types and hashtags from posts. Hashtag weights
// are ln(1 + N/df) over the same posts.
func NewVocabulary(posts []model.PostMetrics) Vocabulary {
	types := map[model.PostType]struct{}{}
	for _, t := range model.KnownPostTypes() {
		types[t] = struct{}{}
	}
	df := map[string]int{}
	for _, p := range posts {
		types[p.PostType] = struct{}{}
		for _, h := range p.Hashtags {
			df[h]++
		}
	}
	v := Vocabulary{}
	for t := range types {
		v.Types = append(v.Types, t)
	}
	sort.Slice(v.Types, func(i, j int) bool { return v.Types[i] < v.Types[j] })
	for h := range df {
		v.Hashtags = append(v.Hashtags, h)
	}
	sort.Strings(v.Hashtags)
	n := float64(len(posts))
	v.IDF = make([]float64, len(v.Hashtags))
	for i, h := range v.Hashtags {
		v.IDF[i] = math.Log1p(n / float64(df[h]))
	}
	v.Version = versionOf(v.Types, v.Hashtags)
	v.index()
	return v
}

func (v *Vocabulary) index() {
	v.typeIdx = make(map[model.PostType]int, len(v.Types))
	for i, t := range v.Types {
		v.typeIdx[t] = i
	}
	v.tagIdx = make(map[string]int, len(v.Hashtags))
	for i, h := range v.Hashtags {
		v.tagIdx[h] = i
	}
}

// Dims is the length of every vector encoded with v.
func (v Vocabulary) Dims() int { return len(v.Types) + len(v.Hashtags) + 2 }

// Encode projects p into the vocabulary's feature space.
func (v Vocabulary) Encode(p model.PostMetrics) FeatureVector {
	x := make(FeatureVector, v.Dims())
	if i, ok := v.typeIdx[p.PostType]; ok {
		x[i] = 1
	}
	base := len(v.Types)
	for _, h := range p.Hashtags {
		if i, ok := v.tagIdx[h]; ok {
			x[base+i] = float32(v.IDF[i])
		}
	}
	// Hour of day on the unit circle so 23:00 and 00:00 are neighbors.
	hour := float64(p.DatePosted.Hour()) + float64(p.DatePosted.Minute())/60
	angle := 2 * math.Pi * hour / 24
	x[base+len(v.Hashtags)] = float32(math.Sin(angle))
	x[base+len(v.Hashtags)+1] = float32(math.Cos(angle))
	return x
}

func versionOf(types []model.PostType, tags []string) string {
	h := sha256.New()
	for _, t := range types {
		h.Write([]byte(t))
		h.Write([]byte{0})
	}
	h.Write([]byte{1})
	for _, t := range tags {
		h.Write([]byte(t))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}

// CosineDistance returns 1 - cos(a, b). A zero vector is at distance 1 from
// everything; distances within 1e-9 of zero are reported as exactly zero.
func CosineDistance(a, b FeatureVector) float64 {
	n := min(len(a), len(b))
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	for i := n; i < len(a); i++ {
		na += float64(a[i]) * float64(a[i])
	}
	for i := n; i < len(b); i++ {
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	if d < 1e-9 {
		return 0
	}
	return d
}
