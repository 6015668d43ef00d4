// Package advise turns analytics reports into short, human-readable posting
// suggestions, optionally drafted by an OpenAI-compatible chat model.
package advise

import (
	"fmt"
	"strings"

	"postpulse/internal/engine"
)

// Suggestion is one piece of advice and the figure behind it.
type Suggestion struct {
	Kind   string `json:"kind"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// Heuristic derives rule-based suggestions from a report.
func Heuristic(r engine.Report) []Suggestion {
	out := make([]Suggestion, 0)
	if len(r.ContentTypes) == 0 {
		return append(out, Suggestion{Kind: "data", Text: "Import some posts to get recommendations.", Reason: "corpus is empty"})
	}
	best := r.ContentTypes[0]
	out = append(out, Suggestion{
		Kind:   "content_type",
		Text:   fmt.Sprintf("Lean into %s posts.", best.Key),
		Reason: fmt.Sprintf("mean score %.2f over %d posts", best.Mean, best.Count),
	})
	if n := len(r.ContentTypes); n > 1 {
		worst := r.ContentTypes[n-1]
		out = append(out, Suggestion{
			Kind:   "content_type",
			Text:   fmt.Sprintf("Rethink %s posts or post them less often.", worst.Key),
			Reason: fmt.Sprintf("mean score %.2f over %d posts", worst.Mean, worst.Count),
		})
	}
	if len(r.TopHashtags) > 0 {
		tags := make([]string, 0, len(r.TopHashtags))
		for _, h := range r.TopHashtags {
			tags = append(tags, "#"+h.Key)
		}
		out = append(out, Suggestion{
			Kind:   "hashtag",
			Text:   "Reuse " + strings.Join(tags, ", ") + ".",
			Reason: fmt.Sprintf("best hashtag mean score %.2f", r.TopHashtags[0].Mean),
		})
	}
	for _, s := range r.Trends {
		if len(s.Points) < 2 {
			continue
		}
		last := s.Points[len(s.Points)-1]
		switch last.Direction {
		case 1:
			out = append(out, Suggestion{Kind: "trend", Text: fmt.Sprintf("%s engagement is rising.", s.Key), Reason: "latest bucket " + last.Bucket + " beat the previous one"})
		case -1:
			out = append(out, Suggestion{Kind: "trend", Text: fmt.Sprintf("%s engagement is cooling.", s.Key), Reason: "latest bucket " + last.Bucket + " fell below the previous one"})
		}
	}
	if len(r.BestHours) > 0 {
		h := r.BestHours[0]
		out = append(out, Suggestion{
			Kind:   "timing",
			Text:   fmt.Sprintf("Publish %s posts around %02d:00.", best.Key, h.Hour),
			Reason: fmt.Sprintf("mean score %.2f over %d posts at that hour", h.Mean, h.Count),
		})
	}
	return out
}

// Render formats suggestions as a bullet list.
func Render(ss []Suggestion) string {
	var b strings.Builder
	for _, s := range ss {
		fmt.Fprintf(&b, "- %s (%s)\n", s.Text, s.Reason)
	}
	return b.String()
}
