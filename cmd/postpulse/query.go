package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"postpulse/internal/advise"
	"postpulse/internal/analytics"
	"postpulse/internal/cmdlog"
	"postpulse/internal/config"
	"postpulse/internal/forecast"
	"postpulse/internal/metrics"
	"postpulse/internal/model"
	"postpulse/internal/schedule"
	"postpulse/internal/similarity"
)

func newRankCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rank",
		Short: "Rank content types by mean engagement score",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("rank", func() error {
				defer metrics.ObserveQuery("content_types", time.Now())
				_, eng, c, err := queryEnv(cmd)
				if err != nil {
					return err
				}
				stats := eng.RankContentTypes(c)
				return render(cmd.OutOrStdout(), stats, func(w io.Writer) { printStats(w, stats) })
			})
		},
	}
}

func newHashtagsCmd() *cobra.Command {
	var n int
	c := &cobra.Command{
		Use:   "hashtags",
		Short: "List the best performing hashtags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("hashtags", func() error {
				defer metrics.ObserveQuery("hashtags", time.Now())
				_, eng, c, err := queryEnv(cmd)
				if err != nil {
					return err
				}
				stats := eng.TopHashtags(c, n)
				return render(cmd.OutOrStdout(), stats, func(w io.Writer) { printStats(w, stats) })
			})
		},
	}
	c.Flags().IntVarP(&n, "top", "n", 10, "number of hashtags (0 for all)")
	return c
}

func newSimilarCmd() *cobra.Command {
	var k int
	var fromStore bool
	c := &cobra.Command{
		Use:   "similar <post_id>",
		Short: "Find the posts most similar to a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("similar", func() error {
				defer metrics.ObserveQuery("similar", time.Now())
				cfg, eng, c, err := queryEnv(cmd)
				if err != nil {
					return err
				}
				if k < 1 {
					k = cfg.Engine.DefaultK
				}
				var ns []similarity.Neighbor
				if fromStore {
					ns, err = similarFromStore(cmd, cfg, eng.BuildIndex(c), c, args[0], k)
				} else {
					ns, err = eng.FindSimilar(c, args[0], k)
				}
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), ns, func(w io.Writer) {
					for i, n := range ns {
						fmt.Fprintf(w, "%2d. %-12s distance=%.4f score=%.3f\n", i+1, n.PostID, n.Distance, n.Score)
					}
				})
			})
		},
	}
	c.Flags().IntVarP(&k, "k", "k", 0, "number of neighbors (default from config)")
	c.Flags().BoolVar(&fromStore, "store", false, "search the configured vector backend instead of memory")
	return c
}

// similarFromStore mirrors ix into the configured vector backend and answers
// the query there.
func similarFromStore(cmd *cobra.Command, cfg config.Config, ix *similarity.Index, c model.Corpus, postID string, k int) ([]similarity.Neighbor, error) {
	target, ok := c.Get(postID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownPost, postID)
	}
	ctx := cmd.Context()
	store, closeStore, err := openVectorStore(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	defer closeStore()
	if store == nil {
		return nil, fmt.Errorf("no vector backend configured")
	}
	if err := similarity.Mirror(ctx, store, ix); err != nil {
		return nil, err
	}
	ns, err := store.Search(ctx, ix.Version(), ix.Encode(target), k+1)
	if err != nil {
		return nil, err
	}
	out := make([]similarity.Neighbor, 0, k)
	for _, n := range ns {
		if n.PostID != postID && len(out) < k {
			out = append(out, n)
		}
	}
	return out, nil
}

func newForecastCmd() *cobra.Command {
	var typ, tags, at string
	c := &cobra.Command{
		Use:   "forecast",
		Short: "Estimate the engagement score of a planned post",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("forecast", func() error {
				defer metrics.ObserveQuery("forecast", time.Now())
				_, eng, c, err := queryEnv(cmd)
				if err != nil {
					return err
				}
				cand := forecast.Candidate{PostType: model.PostType(typ)}
				if tags != "" {
					cand.Hashtags = strings.Split(tags, ",")
				}
				if at != "" {
					if cand.PostedAt, err = time.Parse(time.RFC3339, at); err != nil {
						return fmt.Errorf("invalid --at: %w", err)
					}
				}
				res := eng.Forecast(c, cand)
				return render(cmd.OutOrStdout(), res, func(w io.Writer) {
					if res.Basis == forecast.BasisNone {
						fmt.Fprintln(w, "no history to forecast from")
						return
					}
					fmt.Fprintf(w, "expected=%.3f confidence=%d basis=%s", res.Expected, res.Confidence, res.Basis)
					if len(res.MatchedHashtags) > 0 {
						fmt.Fprintf(w, " hashtags=%s", strings.Join(res.MatchedHashtags, ","))
					}
					fmt.Fprintln(w)
				})
			})
		},
	}
	c.Flags().StringVarP(&typ, "type", "t", "", "post type")
	c.Flags().StringVar(&tags, "tags", "", "comma separated hashtags")
	c.Flags().StringVar(&at, "at", "", "planned time (RFC3339)")
	_ = c.MarkFlagRequired("type")
	return c
}

func newTrendCmd() *cobra.Command {
	var dim string
	var buckets int
	c := &cobra.Command{
		Use:   "trend",
		Short: "Show score trends over time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("trend", func() error {
				defer metrics.ObserveQuery("trend", time.Now())
				_, eng, c, err := queryEnv(cmd)
				if err != nil {
					return err
				}
				series, err := eng.Trend(c, analytics.Dimension(dim), buckets)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), series, func(w io.Writer) {
					arrows := map[int]string{-1: "v", 0: "=", 1: "^"}
					for _, s := range series {
						fmt.Fprintf(w, "%s\n", s.Key)
						for _, p := range s.Points {
							fmt.Fprintf(w, "  %s %s mean=%.3f count=%d\n", p.Bucket, arrows[p.Direction], p.Mean, p.Count)
						}
					}
				})
			})
		},
	}
	c.Flags().StringVarP(&dim, "dimension", "d", string(analytics.ByTimeBucket), "time_bucket, content_type or hashtag")
	c.Flags().IntVarP(&buckets, "buckets", "b", 0, "most recent buckets to show (0 for all)")
	return c
}

func newHoursCmd() *cobra.Command {
	var typ, quiet string
	var n int
	c := &cobra.Command{
		Use:   "hours",
		Short: "Rank posting hours and show the next good window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("hours", func() error {
				defer metrics.ObserveQuery("hours", time.Now())
				qh, err := parseHours(quiet)
				if err != nil {
					return err
				}
				_, eng, c, err := queryEnv(cmd)
				if err != nil {
					return err
				}
				hours := eng.BestHours(c, model.PostType(typ), n)
				preferred := make([]int, len(hours))
				for i, h := range hours {
					preferred[i] = h.Hour
				}
				next := schedule.NextWindow(time.Now().UTC(), preferred, qh)
				out := struct {
					Hours []forecast.HourStat `json:"hours"`
					Next  time.Time           `json:"next_window"`
				}{hours, next}
				return render(cmd.OutOrStdout(), out, func(w io.Writer) {
					for _, h := range hours {
						fmt.Fprintf(w, "%02d:00 mean=%.3f count=%d\n", h.Hour, h.Mean, h.Count)
					}
					fmt.Fprintln(w, "Next window:", next.Format(time.RFC3339))
				})
			})
		},
	}
	c.Flags().StringVarP(&typ, "type", "t", "", "post type (empty for all posts)")
	c.Flags().IntVarP(&n, "top", "n", 3, "number of hours")
	c.Flags().StringVar(&quiet, "quiet", "0,1,2,3,4,5", "quiet hours (UTC) comma-separated")
	return c
}

func newReportCmd() *cobra.Command {
	var n int
	var advice bool
	c := &cobra.Command{
		Use:   "report",
		Short: "Summarize rankings, trends and best hours",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("report", func() error {
				defer metrics.ObserveQuery("report", time.Now())
				cfg, eng, c, err := queryEnv(cmd)
				if err != nil {
					return err
				}
				r := eng.Report(c, n)
				out := struct {
					Report any          `json:"report"`
					Advice *advise.Draft `json:"advice,omitempty"`
				}{Report: r}
				if advice {
					d, _ := advise.New(cfg.Advisor).Draft(cmd.Context(), r)
					out.Advice = &d
				}
				return render(cmd.OutOrStdout(), out, func(w io.Writer) {
					fmt.Fprintf(w, "%d posts (fingerprint %s)\n\nContent types\n", r.Posts, r.Fingerprint)
					printStats(w, r.ContentTypes)
					fmt.Fprintln(w, "\nTop hashtags")
					printStats(w, r.TopHashtags)
					if len(r.BestHours) > 0 {
						fmt.Fprintln(w, "\nBest hours")
						for _, h := range r.BestHours {
							fmt.Fprintf(w, "  %02d:00 mean=%.3f\n", h.Hour, h.Mean)
						}
					}
					if out.Advice != nil {
						fmt.Fprintf(w, "\nAdvice (%s)\n%s\n", out.Advice.Source, out.Advice.Text)
					}
				})
			})
		},
	}
	c.Flags().IntVarP(&n, "top", "n", 5, "number of hashtags")
	c.Flags().BoolVar(&advice, "advice", false, "draft advice from the report")
	return c
}
