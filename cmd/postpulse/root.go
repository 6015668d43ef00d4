package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"postpulse/internal/analytics"
	"postpulse/internal/config"
	"postpulse/internal/engine"
	"postpulse/internal/ingest"
	"postpulse/internal/logging"
	"postpulse/internal/model"
	"postpulse/internal/normalize"
	"postpulse/internal/store/sqlitevec"
)

var (
	cfgFile string
	output  string
	srcFile string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "postpulse",
		Short:         "Engagement analytics for social media posts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "./postpulse.yaml", "config path")
	root.PersistentFlags().StringVarP(&output, "output", "o", "text", "output format: text|json")
	root.PersistentFlags().StringVar(&srcFile, "file", "", "read posts from a CSV/JSON file instead of the database")

	root.AddCommand(newInitCmd())
	root.AddCommand(newImportCmd())
	root.AddCommand(newImportsCmd())
	root.AddCommand(newRankCmd())
	root.AddCommand(newHashtagsCmd())
	root.AddCommand(newSimilarCmd())
	root.AddCommand(newForecastCmd())
	root.AddCommand(newTrendCmd())
	root.AddCommand(newHoursCmd())
	root.AddCommand(newReportCmd())
	root.AddCommand(newServeCmd())
	return root
}

// loadConfig reads the config file, falling back to defaults when it does not
// exist yet.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if errors.Is(err, os.ErrNotExist) {
		cfg = config.Default()
		config.LoadDotEnv()
		cfg.ResolveEnv()
		return cfg, nil
	}
	return cfg, err
}

func newEngine(cfg config.Config) (*engine.Engine, error) {
	g, err := analytics.ParseGranularity(cfg.Engine.Granularity)
	if err != nil {
		return nil, err
	}
	return engine.New(engine.Config{MinSamples: cfg.Engine.MinSamples, Granularity: g, Workers: cfg.Engine.Workers}), nil
}

func normalizeOptions(cfg config.Config) normalize.Options {
	return normalize.Options{HashtagDelimiter: cfg.Ingest.HashtagDelimiter}
}

// loadCorpus returns the posts named by --file, or the stored corpus.
func loadCorpus(ctx context.Context, cfg config.Config) (model.Corpus, error) {
	if srcFile != "" {
		rows, err := ingest.ReadFile(srcFile)
		if err != nil {
			return model.Corpus{}, err
		}
		res := normalize.New(normalizeOptions(cfg)).Batch(rows)
		for _, r := range res.Rejected {
			logging.Warn("record_rejected", map[string]any{"index": r.Index, "post_id": r.PostID, "field": r.Field, "reason": r.Reason})
		}
		return model.NewCorpus(res.Posts)
	}
	db, err := sqlitevec.Open(cfg.Storage.DBPath)
	if err != nil {
		return model.Corpus{}, err
	}
	defer db.Close()
	return db.LoadCorpus(ctx)
}

// queryEnv bundles what every read-only command needs.
func queryEnv(cmd *cobra.Command) (config.Config, *engine.Engine, model.Corpus, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cfg, nil, model.Corpus{}, err
	}
	eng, err := newEngine(cfg)
	if err != nil {
		return cfg, nil, model.Corpus{}, err
	}
	c, err := loadCorpus(cmd.Context(), cfg)
	return cfg, eng, c, err
}

// render writes v as JSON when --output=json, otherwise calls text.
func render(w io.Writer, v any, text func(io.Writer)) error {
	if strings.EqualFold(output, "json") {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func printStats(w io.Writer, stats []analytics.AggregateStat) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "no posts")
		return
	}
	for _, s := range stats {
		fmt.Fprintf(w, "%2d. %-16s mean=%.3f count=%d var=%.3f\n", s.Rank, s.Key, s.Mean, s.Count, s.Variance)
	}
}

func parseHours(s string) ([]int, error) {
	var out []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		h, err := strconv.Atoi(p)
		if err != nil || h < 0 || h > 23 {
			return nil, fmt.Errorf("invalid hour %q", p)
		}
		out = append(out, h)
	}
	return out, nil
}
