package advise

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"postpulse/internal/config"
	"postpulse/internal/engine"
	"postpulse/internal/model"
)

func report(t *testing.T) engine.Report {
	t.Helper()
	at := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	c, err := model.NewCorpus([]model.PostMetrics{
		{PostID: "1", PostType: model.PostTypeReel, Likes: 100, Comments: 10, Shares: 5, DatePosted: at, Hashtags: []string{"launch"}},
		{PostID: "2", PostType: model.PostTypeReel, Likes: 300, Comments: 20, Shares: 9, DatePosted: at.AddDate(0, 0, 1), Hashtags: []string{"launch"}},
		{PostID: "3", PostType: model.PostTypeText, Likes: 5, Comments: 1, Shares: 0, DatePosted: at.Add(5 * time.Hour)},
	})
	if err != nil {
		t.Fatal(err)
	}
	return engine.New(engine.Config{}).Report(c, 3)
}

func TestHeuristic(t *testing.T) {
	ss := Heuristic(report(t))
	kinds := map[string]int{}
	for _, s := range ss {
		kinds[s.Kind]++
	}
	if kinds["content_type"] != 2 || kinds["hashtag"] != 1 || kinds["timing"] != 1 || kinds["trend"] != 1 {
		t.Fatalf("unexpected suggestions: %+v", ss)
	}
	if !strings.Contains(Render(ss), "#launch") {
		t.Fatalf("render: %s", Render(ss))
	}
	empty := Heuristic(engine.Report{})
	if len(empty) != 1 || empty[0].Kind != "data" {
		t.Fatalf("empty report: %+v", empty)
	}
}

func TestDraftWithoutProviderUsesHeuristic(t *testing.T) {
	a := New(config.AdvisorConfig{Provider: "none"})
	d, err := a.Draft(context.Background(), report(t))
	if err != nil || d.Source != "heuristic" || d.Text == "" {
		t.Fatalf("draft: %+v %v", d, err)
	}
}

func TestDraftCallsChatCompletions(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected request %s %s", r.URL.Path, r.Header.Get("Authorization"))
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model != "m" || len(req.Messages) != 2 {
			t.Errorf("bad request body: %+v %v", req, err)
		}
		if !strings.Contains(req.Messages[1].Content, `"launch"`) {
			t.Errorf("summary missing hashtags: %s", req.Messages[1].Content)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Post more reels.  "}}]}`))
	}))
	defer srv.Close()

	a := New(config.AdvisorConfig{Provider: "openai", APIKey: "sk-test", Model: "m", BaseURL: srv.URL + "/v1", RPS: 100, MaxRetries: 2})
	d, err := a.Draft(context.Background(), report(t))
	if err != nil {
		t.Fatal(err)
	}
	if d.Source != "llm" || d.Text != "Post more reels." || calls.Load() != 2 {
		t.Fatalf("draft: %+v calls=%d", d, calls.Load())
	}
}

func TestDraftFallsBackOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	a := New(config.AdvisorConfig{Provider: "openai", APIKey: "bad", BaseURL: srv.URL, RPS: 100, MaxRetries: 3})
	d, err := a.Draft(context.Background(), report(t))
	if err == nil || d.Source != "heuristic" || d.Text == "" {
		t.Fatalf("expected heuristic fallback with error: %+v %v", d, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx should not be retried, got %d calls", calls.Load())
	}
}
