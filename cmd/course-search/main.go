package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/aryannaik/course-search/internal/config"
	"github.com/aryannaik/course-search/internal/courses"
	"github.com/aryannaik/course-search/internal/embeddings"
	"github.com/aryannaik/course-search/internal/index"
	"github.com/aryannaik/course-search/internal/metrics"
	"github.com/aryannaik/course-search/internal/search"
	"github.com/aryannaik/course-search/internal/server"
)

func main() {
	reindexFlag := flag.Bool("reindex", false, "Force full re-index (discard the saved index)")
	indexOnlyFlag := flag.Bool("index-only", false, "Build index and exit (don't start server)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	setupLogging(cfg)

	embedder, err := newEmbedder(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create embedder")
	}

	metric, err := index.ParseMetric(cfg.IndexMetric)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid index metric")
	}

	ctx := context.Background()

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open index store")
	}
	defer closeStore()

	if *reindexFlag && store != nil {
		if err := store.Clear(ctx); err != nil {
			log.Warn().Err(err).Msg("Could not clear saved index")
		} else {
			log.Info().Msg("Cleared existing index for full re-index")
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pipeline := search.New(search.Options{
		Fetcher:    courses.NewClient(cfg.UserAgent, cfg.FetchTimeout),
		Embedder:   embedder,
		Index:      index.NewFlat(metric),
		Store:      store,
		Metrics:    metrics.New(reg),
		ListingURL: cfg.ListingURL,
		BaseURL:    cfg.BaseURL,
	})

	report, err := pipeline.Build(ctx, search.BuildOptions{Force: *reindexFlag})
	if err != nil {
		log.Fatal().Err(err).Msg("Index build failed")
	}
	log.Info().
		Str("source", report.Source).
		Int("courses", report.Records).
		Int("skipped", len(report.Dropped)).
		Msg("Build complete")

	if *indexOnlyFlag {
		log.Info().Msg("Index-only mode: exiting")
		return
	}

	srv := server.New(server.Options{
		Port:        cfg.Port,
		StaticDir:   cfg.StaticDir,
		CORSOrigins: cfg.CORSOrigins,
		Gatherer:    reg,
	}, pipeline, embedder)

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server stopped")
			done <- syscall.SIGTERM
		}
	}()

	<-done
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Goodbye")
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if cfg.LogFormat != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

func newEmbedder(cfg *config.Config) (embeddings.Embedder, error) {
	var base embeddings.Embedder
	switch cfg.EmbedBackend {
	case config.BackendOllama:
		base = embeddings.NewOllamaClient(cfg.OllamaHost, cfg.EmbedModel)
	case config.BackendOpenAI:
		c, err := embeddings.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbedModel)
		if err != nil {
			return nil, err
		}
		base = c
	case config.BackendHash:
		base = embeddings.NewHashEmbedder(cfg.EmbedDim)
	default:
		return nil, fmt.Errorf("unknown embed backend %q", cfg.EmbedBackend)
	}

	log.Info().Str("embedder", embeddings.Fingerprint(base)).Msg("Using embedder")
	return embeddings.NewCached(base, cfg.QueryCacheSize)
}

// newStore returns a nil store when caching is disabled.
func newStore(ctx context.Context, cfg *config.Config) (index.SnapshotStore, func(), error) {
	noop := func() {}
	switch cfg.CacheBackend {
	case config.CacheJSON:
		return index.NewFileStore(cfg.DataDir), noop, nil
	case config.CacheSQLite:
		s, err := index.OpenSQLiteStore(ctx, cfg.DataDir)
		if err != nil {
			return nil, noop, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				log.Warn().Err(err).Msg("Closing index store")
			}
		}, nil
	default:
		return nil, noop, nil
	}
}
