package advise

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/time/rate"

	"postpulse/internal/config"
	"postpulse/internal/engine"
	"postpulse/internal/logging"
	"postpulse/internal/metrics"
)

const completionsPath = "/chat/completions"

// Draft is the advisory text for a report.
type Draft struct {
	Text        string       `json:"text"`
	Suggestions []Suggestion `json:"suggestions"`
	// Source is "llm" when the model answered, otherwise "heuristic".
	Source string `json:"source"`
}

type Advisor struct {
	cfg      config.AdvisorConfig
	client   *http.Client
	limiter  *rate.Limiter
	executor failsafe.Executor[*http.Response]
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("llm status %d", e.code) }

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

func New(cfg config.AdvisorConfig) *Advisor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	policy := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(200*time.Millisecond, 5*time.Second).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ *http.Response, err error) bool { return retryable(err) }).
		Build()
	return &Advisor{
		cfg:      cfg,
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		executor: failsafe.With[*http.Response](policy),
	}
}

// Enabled reports whether a model is configured.
func (a *Advisor) Enabled() bool {
	return strings.ToLower(a.cfg.Provider) == "openai" && a.cfg.APIKey != ""
}

// Draft asks the model for advice on r. Without a configured model, or when
// the request fails, it returns the heuristic suggestions; the error is
// returned alongside for logging.
func (a *Advisor) Draft(ctx context.Context, r engine.Report) (Draft, error) {
	ss := Heuristic(r)
	fallback := Draft{Text: Render(ss), Suggestions: ss, Source: "heuristic"}
	if !a.Enabled() {
		return fallback, nil
	}
	text, err := a.complete(ctx, r, ss)
	if err != nil {
		logging.Warn("advisor_fallback", map[string]any{"error": err.Error()})
		return fallback, err
	}
	if strings.TrimSpace(text) == "" {
		return fallback, nil
	}
	return Draft{Text: text, Suggestions: ss, Source: "llm"}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// summary is the compact payload sent to the model.
type summary struct {
	Posts        int          `json:"posts"`
	ContentTypes []rankedItem `json:"content_types"`
	TopHashtags  []rankedItem `json:"top_hashtags"`
	BestHours    []int        `json:"best_hours,omitempty"`
	Heuristics   []string     `json:"heuristics"`
}

type rankedItem struct {
	Key   string  `json:"key"`
	Mean  float64 `json:"mean"`
	Count int     `json:"count"`
}

func summarize(r engine.Report, ss []Suggestion) summary {
	s := summary{Posts: r.Posts}
	for _, st := range r.ContentTypes {
		s.ContentTypes = append(s.ContentTypes, rankedItem{Key: st.Key, Mean: st.Mean, Count: st.Count})
	}
	for _, st := range r.TopHashtags {
		s.TopHashtags = append(s.TopHashtags, rankedItem{Key: st.Key, Mean: st.Mean, Count: st.Count})
	}
	for _, h := range r.BestHours {
		s.BestHours = append(s.BestHours, h.Hour)
	}
	for _, sg := range ss {
		s.Heuristics = append(s.Heuristics, sg.Text)
	}
	return s
}

func (a *Advisor) complete(ctx context.Context, r engine.Report, ss []Suggestion) (string, error) {
	payload, err := json.Marshal(summarize(r, ss))
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(chatRequest{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: "You advise a social media team. Using only the engagement figures provided, write at most five short, concrete posting recommendations."},
			{Role: "user", Content: string(payload)},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", err
	}
	url := strings.TrimRight(a.cfg.BaseURL, "/") + completionsPath
	attempt := 0
	resp, err := a.executor.WithContext(ctx).Get(func() (*http.Response, error) {
		attempt++
		if attempt > 1 {
			metrics.IncAPIRetry(completionsPath)
		}
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")
		resp, err := a.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			return nil, &statusError{code: resp.StatusCode}
		}
		return resp, nil
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completion has no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
