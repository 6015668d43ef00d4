package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"postpulse/internal/cmdlog"
	"postpulse/internal/config"
	"postpulse/internal/jobs"
	"postpulse/internal/store/sqlitevec"
	"postpulse/internal/theme"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("init", func() error {
				if err := config.Save(cfgFile, config.Default()); err != nil {
					return err
				}
				abs, _ := filepath.Abs(cfgFile)
				theme.PrintBanner()
				fmt.Fprintln(cmd.OutOrStdout(), "Config written to:", abs)
				return nil
			})
		},
	}
}

func newImportCmd() *cobra.Command {
	var force bool
	c := &cobra.Command{
		Use:   "import [file]",
		Short: "Import posts from a CSV or JSON file into the database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("import", func() error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				path := cfg.Ingest.SourcePath
				if len(args) == 1 {
					path = args[0]
				}
				db, err := sqlitevec.Open(cfg.Storage.DBPath)
				if err != nil {
					return err
				}
				defer db.Close()
				sum, err := jobs.RunImportOnce(cmd.Context(), db, path, normalizeOptions(cfg), force)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), sum, func(w io.Writer) {
					if sum.Skipped {
						fmt.Fprintf(w, "%s unchanged since last import\n", sum.Source)
						return
					}
					fmt.Fprintf(w, "batch %s: %d rows, %d accepted, %d rejected\n", sum.BatchID, sum.Total, sum.Accepted, len(sum.Rejected))
					for _, r := range sum.Rejected {
						fmt.Fprintf(w, "  row %d: %s\n", r.Index, r.Error())
					}
				})
			})
		},
	}
	c.Flags().BoolVar(&force, "force", false, "import even if the file is unchanged")
	return c
}

func newImportsCmd() *cobra.Command {
	var since time.Duration
	c := &cobra.Command{
		Use:   "imports",
		Short: "List recent import batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("imports", func() error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				db, err := sqlitevec.Open(cfg.Storage.DBPath)
				if err != nil {
					return err
				}
				defer db.Close()
				now := time.Now().UTC()
				recs, err := db.LoadImports(cmd.Context(), now.Add(-since), now.Add(time.Second))
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), recs, func(w io.Writer) {
					for _, r := range recs {
						fmt.Fprintf(w, "%s %s %s total=%d accepted=%d rejected=%d\n",
							r.TS.Format(time.RFC3339), r.BatchID, r.Source, r.Total, r.Accepted, len(r.Rejected))
					}
				})
			})
		},
	}
	c.Flags().DurationVar(&since, "since", 7*24*time.Hour, "how far back to list")
	return c
}
