package scoring

import (
	"math"
	"testing"
	"time"

	"postpulse/internal/model"
)

var day = time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)

func p(id string, typ model.PostType, l, c, s int64) model.PostMetrics {
	return model.PostMetrics{PostID: id, PostType: typ, Likes: l, Comments: c, Shares: s, DatePosted: day}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestCalibrateInverseMedians(t *testing.T) {
	posts := []model.PostMetrics{
		p("1", model.PostTypePhoto, 10, 1, 0),
		p("2", model.PostTypePhoto, 20, 2, 1),
		p("3", model.PostTypePhoto, 30, 3, 2),
	}
	m := Calibrate(posts)
	w := m.WeightsFor(model.PostTypePhoto)
	if !near(w.Likes, 0.05) || !near(w.Comments, 0.5) || !near(w.Shares, 1) {
		t.Fatalf("weights: %+v", w)
	}
	scores := m.ScoreAll(posts)
	want := []float64{1.0 / 3, 1, 5.0 / 3}
	for i, s := range scores {
		if !near(s.Engagement.Score, want[i]) {
			t.Fatalf("post %d score %v want %v", i, s.Engagement.Score, want[i])
		}
		c := s.Engagement.Contributions
		if !near(c.Likes+c.Comments+c.Shares, s.Engagement.Score) {
			t.Fatalf("contributions do not sum to score")
		}
	}
}

func TestScoresComparableAcrossTypes(t *testing.T) {
	// Reels draw ten times the shares of text posts; a median post of either
	// type must score the same.
	posts := []model.PostMetrics{
		p("r1", model.PostTypeReel, 100, 10, 50),
		p("r2", model.PostTypeReel, 200, 20, 100),
		p("r3", model.PostTypeReel, 300, 30, 150),
		p("t1", model.PostTypeText, 10, 2, 5),
		p("t2", model.PostTypeText, 20, 4, 10),
		p("t3", model.PostTypeText, 30, 6, 15),
	}
	m := Calibrate(posts)
	if a, b := m.Score(posts[1]).Score, m.Score(posts[4]).Score; !near(a, b) || !near(a, 1) {
		t.Fatalf("median posts should both score 1: reel=%v text=%v", a, b)
	}
}

func TestZeroHistoryFallsBackToDefault(t *testing.T) {
	m := Calibrate([]model.PostMetrics{p("1", model.PostTypePhoto, 4, 2, 0), p("2", model.PostTypePhoto, 4, 2, 0)})
	w := m.WeightsFor(model.PostTypeVideo)
	if w != m.Default {
		t.Fatalf("video should use default weights, got %+v", w)
	}
	if m.Default.Shares != 1 {
		t.Fatalf("zero global share median should fall back to 1, got %v", m.Default.Shares)
	}
	if (Model{}).WeightsFor(model.PostTypeText) != (Weights{Likes: 1, Comments: 1, Shares: 1}) {
		t.Fatalf("empty model should use unit weights")
	}
}

func TestScoreMonotonic(t *testing.T) {
	m := Calibrate([]model.PostMetrics{
		p("1", model.PostTypeVideo, 5, 0, 3),
		p("2", model.PostTypeVideo, 50, 4, 0),
	})
	base := p("x", model.PostTypeVideo, 10, 2, 1)
	s0 := m.Score(base).Score
	for i := 0; i < 3; i++ {
		bumped := base
		switch i {
		case 0:
			bumped.Likes++
		case 1:
			bumped.Comments++
		case 2:
			bumped.Shares++
		}
		if m.Score(bumped).Score < s0 {
			t.Fatalf("channel %d decreased score", i)
		}
	}
}

func TestScoreCorpusDeterministic(t *testing.T) {
	c, err := model.NewCorpus([]model.PostMetrics{
		p("b", model.PostTypeText, 3, 1, 0),
		p("a", model.PostTypeText, 9, 0, 2),
	})
	if err != nil {
		t.Fatal(err)
	}
	s1, _ := ScoreCorpus(c)
	s2, _ := ScoreCorpus(c)
	for i := range s1 {
		if s1[i].Engagement != s2[i].Engagement {
			t.Fatalf("scores differ between runs")
		}
	}
	if ScoreMap(s1)["a"] != s1[0].Engagement.Score {
		t.Fatalf("score map mismatch")
	}
}
