package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/searchcrawler/internal/api"
	"github.com/JakeFAU/searchcrawler/internal/clock/system"
	"github.com/JakeFAU/searchcrawler/internal/config"
	"github.com/JakeFAU/searchcrawler/internal/crawler"
	"github.com/JakeFAU/searchcrawler/internal/engine"
	collyfetcher "github.com/JakeFAU/searchcrawler/internal/fetcher/colly"
	"github.com/JakeFAU/searchcrawler/internal/id/uuid"
	"github.com/JakeFAU/searchcrawler/internal/logging"
	"github.com/JakeFAU/searchcrawler/internal/output"
	"github.com/JakeFAU/searchcrawler/internal/parsers"
	"github.com/JakeFAU/searchcrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/searchcrawler/internal/proxy"
	"github.com/JakeFAU/searchcrawler/internal/sink"
	sinkmemory "github.com/JakeFAU/searchcrawler/internal/sink/memory"
	sinkpostgres "github.com/JakeFAU/searchcrawler/internal/sink/postgres"
	sinkpubsub "github.com/JakeFAU/searchcrawler/internal/sink/pubsub"
	"github.com/JakeFAU/searchcrawler/internal/storage/gcs"
	"github.com/JakeFAU/searchcrawler/internal/storage/local"
	"github.com/JakeFAU/searchcrawler/internal/telemetry"
)

// newCrawlCmd creates the 'crawl' subcommand. Flags override config and env.
func newCrawlCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one keyword search crawl",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromViper(v)
			if err != nil {
				return err
			}
			return runCrawl(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringSliceP("keyword", "k", nil, "search keyword (repeatable)")
	flags.StringP("type", "t", "", "search type, e.g. repositories")
	flags.StringSlice("proxy", nil, "proxy address (repeatable); one is picked per run")
	flags.StringP("output", "o", "", "output path; stdout when empty")
	flags.Int("workers", 0, "number of crawl workers")
	flags.Bool("serve", false, "run the status server during the crawl")

	for key, name := range map[string]string{
		"crawler.keywords":    "keyword",
		"crawler.search_type": "type",
		"crawler.proxies":     "proxy",
		"crawler.workers":     "workers",
		"output.path":         "output",
		"server.enabled":      "serve",
	} {
		_ = v.BindPFlag(key, flags.Lookup(name))
	}
	return cmd
}

// runCrawl builds every collaborator from cfg, runs the crawl and writes the
// collected records. The search type is resolved before any client is built.
func runCrawl(ctx context.Context, cfg config.Config, stdout io.Writer) (err error) {
	registry := parsers.Default()
	if _, err := registry.Lookup(cfg.Crawler.SearchType, parsers.Options{EntryURL: cfg.Crawler.EntryURL}); err != nil {
		return fmt.Errorf("resolve search type: %w", err)
	}

	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.WithoutCancel(ctx)); shutdownErr != nil {
			logger.Warn("tracer shutdown failed", zap.Error(shutdownErr))
		}
	}()

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HTTP.RequestsPerSecond,
		DefaultBurst: cfg.HTTP.Burst,
	})
	fetcher, err := collyfetcher.New(collyfetcher.Config{
		UserAgent:          cfg.HTTP.UserAgent,
		RespectRobots:      cfg.HTTP.RespectRobots,
		Timeout:            cfg.Timeout(),
		MaxConcurrent:      cfg.Crawler.MaxConcurrentFetches,
		Proxy:              proxy.Pick(cfg.Crawler.Proxies),
		InsecureSkipVerify: cfg.HTTP.InsecureSkipVerify,
		MaxBodyBytes:       cfg.HTTP.MaxBodyBytes,
	}, limiter, logger.Named("fetcher"))
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}

	clock := system.New()
	buffer := sinkmemory.New()
	sinks, err := buildSinks(ctx, cfg, clock, logger)
	if err != nil {
		fetcher.Close()
		return err
	}

	eng, err := engine.New(engine.Config{
		Keywords:    cfg.Crawler.Keywords,
		SearchType:  cfg.Crawler.SearchType,
		Workers:     cfg.Crawler.Workers,
		MaxDuration: cfg.Crawler.MaxDuration,
		EntryURL:    cfg.Crawler.EntryURL,
		EmitPartial: cfg.Crawler.EmitPartialItems,
	}, engine.Deps{
		Registry: registry,
		Fetcher:  fetcher,
		Sink:     sink.NewMulti(append([]crawler.Sink{buffer}, sinks...)...),
		IDs:      uuid.New(),
		Clock:    clock,
		Logger:   logger,
	})
	if err != nil {
		fetcher.Close()
		_ = sink.NewMulti(sinks...).Close(ctx)
		return fmt.Errorf("build engine: %w", err)
	}

	if cfg.Server.Enabled {
		srvCtx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			done <- api.NewServer(buffer, eng, logger.Named("api")).Serve(srvCtx, ":"+strconv.Itoa(cfg.Server.Port))
		}()
		defer func() {
			cancel()
			if srvErr := <-done; srvErr != nil {
				logger.Warn("status server stopped with error", zap.Error(srvErr))
			}
		}()
	}

	result, runErr := eng.Run(ctx)
	logger.Info("crawl summary",
		zap.String("run_id", result.RunID),
		zap.Int("seeded", result.Seeded),
		zap.Int("items", buffer.Len()),
		zap.Bool("drained", result.Drained),
	)

	// Partial results are still written when the crawl was interrupted, so the
	// write must outlive a canceled signal context.
	uri, writeErr := writeOutput(context.WithoutCancel(ctx), cfg.Output, buffer.Records(), stdout)
	if writeErr == nil && uri != "" {
		logger.Info("records saved", zap.String("uri", uri))
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return errors.Join(fmt.Errorf("run crawl: %w", runErr), writeErr)
	}
	return writeErr
}

// buildSinks returns the durable sinks enabled by cfg.
func buildSinks(ctx context.Context, cfg config.Config, clock crawler.Clock, logger *zap.Logger) ([]crawler.Sink, error) {
	var sinks []crawler.Sink
	if cfg.Sink.Postgres.DSN != "" {
		pg, err := sinkpostgres.New(ctx, sinkpostgres.Config{
			DSN:      cfg.Sink.Postgres.DSN,
			Table:    cfg.Sink.Postgres.Table,
			MaxConns: cfg.Sink.Postgres.MaxConns,
		}, clock)
		if err != nil {
			return nil, fmt.Errorf("init postgres sink: %w", err)
		}
		logger.Info("postgres sink enabled", zap.String("table", cfg.Sink.Postgres.Table))
		sinks = append(sinks, pg)
	}
	if cfg.Sink.PubSub.Topic != "" {
		ps, err := sinkpubsub.New(ctx, sinkpubsub.Config{
			ProjectID: cfg.Sink.PubSub.ProjectID,
			Topic:     cfg.Sink.PubSub.Topic,
		})
		if err != nil {
			_ = sink.NewMulti(sinks...).Close(ctx)
			return nil, fmt.Errorf("init pubsub sink: %w", err)
		}
		logger.Info("pubsub sink enabled", zap.String("topic", cfg.Sink.PubSub.Topic))
		sinks = append(sinks, ps)
	}
	return sinks, nil
}

// openBlobStore opens the configured output backend. It returns the store,
// the object path inside it and a release func. Tests replace it.
var openBlobStore = func(ctx context.Context, cfg config.OutputConfig) (output.BlobStore, string, func(), error) {
	switch cfg.Backend {
	case config.BackendGCS:
		store, err := gcs.Dial(ctx, gcs.Config{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
		if err != nil {
			return nil, "", nil, fmt.Errorf("dial gcs: %w", err)
		}
		return store, cfg.Path, func() { _ = store.Close() }, nil
	default:
		store, err := local.New(local.Config{BaseDir: filepath.Dir(cfg.Path)})
		if err != nil {
			return nil, "", nil, fmt.Errorf("open output dir: %w", err)
		}
		return store, filepath.Base(cfg.Path), func() {}, nil
	}
}

// writeOutput sends records to stdout or a blob store and returns the
// destination URI for stored documents.
func writeOutput(ctx context.Context, cfg config.OutputConfig, records []crawler.Record, stdout io.Writer) (string, error) {
	if cfg.Path == "" && cfg.Backend != config.BackendGCS {
		if err := output.Write(stdout, records); err != nil {
			return "", fmt.Errorf("write output: %w", err)
		}
		return "", nil
	}

	store, path, release, err := openBlobStore(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer release()
	return output.Save(ctx, store, path, records)
}
