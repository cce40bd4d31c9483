package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/incident-feed-sync/internal/adapter/feed"
	httpadapter "github.com/couchcryptid/incident-feed-sync/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/incident-feed-sync/internal/adapter/kafka"
	"github.com/couchcryptid/incident-feed-sync/internal/adapter/nominatim"
	"github.com/couchcryptid/incident-feed-sync/internal/config"
	"github.com/couchcryptid/incident-feed-sync/internal/domain"
	"github.com/couchcryptid/incident-feed-sync/internal/geocode"
	"github.com/couchcryptid/incident-feed-sync/internal/observability"
	"github.com/couchcryptid/incident-feed-sync/internal/pipeline"
	"github.com/couchcryptid/incident-feed-sync/internal/snapshot"
)

func main() {
	cfg, err := config.LoadArgs(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	taxonomy, err := domain.LoadTaxonomy(cfg.TaxonomyFile)
	if err == nil {
		taxonomy, err = taxonomy.WithCritical(cfg.CriticalCategories)
	}
	if err != nil {
		logger.Error("failed to load taxonomy", "error", err)
		os.Exit(1)
	}
	classifier := domain.NewClassifier(taxonomy)

	installations, err := domain.LoadInstallations(cfg.InstallationsFile, cfg.BoundingBox)
	if err != nil {
		logger.Error("failed to load installations", "error", err)
		os.Exit(1)
	}
	index := domain.NewProximityIndex(installations)
	logger.Info("reference data loaded", "categories", len(taxonomy.Categories), "installations", index.Len())

	geocoder := nominatim.NewClient(cfg.GeocodeURL, cfg.FeedUserAgent, cfg.GeocodeEmail,
		cfg.BoundingBox, cfg.GeocodeRequestTimeout, metrics, logger)
	queue := geocode.NewQueue(geocoder, geocode.Config{
		LocalitySuffix: cfg.GeocodeLocalitySuffix,
		Bounds:         cfg.BoundingBox,
		Throttle:       cfg.GeocodeThrottle,
		RequestTimeout: cfg.GeocodeRequestTimeout,
	}, clock, metrics, logger)

	fetcher := feed.NewFetcher(feed.Options{
		URL:        cfg.FeedURL,
		UserAgent:  cfg.FeedUserAgent,
		Timeout:    cfg.FeedTimeout,
		Retries:    cfg.FeedRetries,
		RetryDelay: cfg.FeedRetryDelay,
		Window:     cfg.FeedWindow,
	}, feed.NewParser(cfg.FeedRowSelector, cfg.FeedOpenMarker, cfg.FeedLocation), clock, metrics, logger)

	store := snapshot.NewStore()
	hub := snapshot.NewHub(store, logger)
	renderers := []pipeline.Renderer{store, hub}

	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled() {
		writer = kafkaadapter.NewWriter(cfg, logger)
		renderers = append(renderers, writer)
		logger.Info("kafka publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	p := pipeline.New(fetcher, classifier, queue, renderers, pipeline.TiersFromConfig(cfg), clock, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Ready:         p,
		Snapshots:     store,
		Installations: index,
		Categories:    classifier.Categories(),
		Geocode:       queue,
		WebSocket:     hub,
		DefaultRadius: cfg.ProximityRadius,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	go func() {
		if err := queue.Run(ctx); err != nil {
			logger.Error("geocode queue error", "error", err)
		}
	}()

	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
