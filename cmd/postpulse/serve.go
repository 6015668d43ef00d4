package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"postpulse/internal/advise"
	"postpulse/internal/cache"
	"postpulse/internal/cmdlog"
	"postpulse/internal/config"
	"postpulse/internal/httpapi"
	"postpulse/internal/jobs"
	"postpulse/internal/logging"
	"postpulse/internal/metrics"
	"postpulse/internal/similarity"
	"postpulse/internal/store/atlas"
	"postpulse/internal/store/pgvec"
	"postpulse/internal/store/sqlitevec"
	"postpulse/internal/theme"
)

// openVectorStore opens the mirror named by Storage.VectorBackend. A nil store
// means mirroring is off. db is reused for the sqlite backend when given.
func openVectorStore(ctx context.Context, cfg config.Config, db *sqlitevec.DB) (similarity.VectorStore, func(), error) {
	noop := func() {}
	switch strings.ToLower(cfg.Storage.VectorBackend) {
	case "", "none":
		return nil, noop, nil
	case "sqlite":
		if db != nil {
			return db, noop, nil
		}
		d, err := sqlitevec.Open(cfg.Storage.DBPath)
		if err != nil {
			return nil, noop, err
		}
		return d, func() { _ = d.Close() }, nil
	case "postgres":
		d, err := pgvec.Open(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		st := pgvec.NewStore(d, "")
		if err := st.EnsureSchema(ctx); err != nil {
			_ = d.Close()
			return nil, noop, err
		}
		return st, func() { _ = d.Close() }, nil
	case "atlas":
		client, err := atlas.Connect(ctx, cfg.Storage.MongoURI)
		if err != nil {
			return nil, noop, err
		}
		coll := client.Database(cfg.Storage.MongoDatabase).Collection(cfg.Storage.MongoCollection)
		return atlas.NewStore(coll, cfg.Storage.MongoIndex).WithDimensions(cfg.Storage.MongoDimensions), func() { _ = client.Disconnect(context.Background()) }, nil
	}
	return nil, noop, fmt.Errorf("unknown vector backend %q", cfg.Storage.VectorBackend)
}

func newServeCmd() *cobra.Command {
	var addr string
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analytics API and keep the index fresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("serve", func() error {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				if addr != "" {
					cfg.Server.Addr = addr
				}
				return serve(cmd.Context(), cfg)
			})
		},
	}
	c.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	return c
}

func serve(parent context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	db, err := sqlitevec.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	mirror, closeMirror, err := openVectorStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	defer closeMirror()

	var rc *cache.ResultCache
	if cfg.Cache.RedisAddr != "" {
		client := goredis.NewClient(&goredis.Options{Addr: cfg.Cache.RedisAddr})
		defer client.Close()
		rc = cache.NewResultCache(client, cfg.Cache.TTL)
	}

	holder := jobs.NewIndexHolder(cfg.Engine.Workers, mirror)
	api := httpapi.New(httpapi.Options{
		Engine:   eng,
		Source:   holder,
		Cache:    rc,
		Advisor:  advise.New(cfg.Advisor),
		DefaultK: cfg.Engine.DefaultK,
	})
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: api.Router(), ReadHeaderTimeout: 10 * time.Second}

	metrics.StartServer(cfg.Server.MetricsAddr)
	theme.PrintBanner()
	logging.Info("serve_start", map[string]any{"addr": cfg.Server.Addr, "vector_backend": cfg.Storage.VectorBackend, "cache": rc != nil})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := jobs.RunRefreshLoop(gctx, db, holder, jobs.RefreshOptions{
			Interval:   cfg.Ingest.RefreshInterval,
			SourcePath: cfg.Ingest.SourcePath,
			Normalize:  normalizeOptions(cfg),
			Cache:      rc,
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
