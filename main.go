package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appchat "chat-relay/application/chat"
	"chat-relay/application/relay"
	"chat-relay/domain/chat"
	infracatalog "chat-relay/infrastructure/catalog"
	infraopenai "chat-relay/infrastructure/openai"
	"chat-relay/infrastructure/search"
	httpiface "chat-relay/interfaces/http"
	"chat-relay/internal/config"
	"chat-relay/internal/observability"

	"github.com/sirupsen/logrus"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	configureLogging(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"port":           cfg.Server.Port,
		"host":           cfg.Server.Host,
		"default_model":  cfg.Chat.DefaultModel,
		"allowed_models": cfg.Chat.AllowedModels,
		"context_source": cfg.Context.Source,
	}).Info("Starting chat relay")

	if cfg.Telemetry.ExporterURL != "" {
		tp, err := observability.Setup(ctx, cfg.Telemetry.ExporterURL, cfg.Telemetry.ServiceName)
		if err != nil {
			logrus.WithError(err).Warn("Failed to set up tracing, continuing without it")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logrus.WithError(err).Warn("Failed to flush traces")
				}
			}()
		}
	}

	// Create base provider
	baseProvider := infraopenai.NewProvider(infraopenai.Config{
		APIKey:     cfg.LLMProvider.APIKey,
		BaseURL:    cfg.LLMProvider.BaseURL,
		MaxRetries: cfg.LLMProvider.MaxRetries,
		Timeout:    cfg.LLMProvider.Timeout,
	})

	// Wrap with circuit breaker for resilience
	circuitBreakerConfig := infraopenai.CircuitBreakerConfig{
		Enabled:          cfg.CircuitBreaker.Enabled,
		FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
		Timeout:          cfg.CircuitBreaker.Timeout,
		MaxRequests:      cfg.CircuitBreaker.MaxRequests,
	}
	provider := infraopenai.NewCircuitBreakerProvider(baseProvider, baseProvider, circuitBreakerConfig)

	logrus.WithFields(logrus.Fields{
		"enabled":           circuitBreakerConfig.Enabled,
		"failure_threshold": circuitBreakerConfig.FailureThreshold,
		"timeout":           circuitBreakerConfig.Timeout,
	}).Info("Circuit breaker configured")

	var (
		source  chat.ContextSource
		store   *infracatalog.Store
		crawler *infracatalog.Crawler
	)

	switch {
	case cfg.CatalogEnabled():
		store, err = infracatalog.Open(ctx, cfg.Catalog.DBPath)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to open catalog store")
		}
		source = infracatalog.NewSource(store, cfg.Context.MaxSnippets)

		if cfg.Catalog.SitemapURL != "" {
			crawler = infracatalog.NewCrawler(store, infracatalog.CrawlerConfig{
				SitemapURL:      cfg.Catalog.SitemapURL,
				Workers:         cfg.Catalog.Workers,
				MaxPages:        cfg.Catalog.MaxPages,
				UserAgent:       cfg.Catalog.UserAgent,
				RefreshInterval: cfg.Catalog.RefreshInterval,
			})
			if err := crawler.Start(ctx); err != nil {
				logrus.WithError(err).Fatal("Failed to start catalog crawler")
			}
		} else {
			logrus.Info("No sitemap configured, serving the catalog as stored")
		}

	case cfg.Context.Source == config.ContextSourceSearch:
		source, err = search.NewSource(search.Config{
			APIURL:     cfg.Search.APIURL,
			APIKey:     cfg.Search.APIKey,
			EngineID:   cfg.Search.EngineID,
			CacheSize:  cfg.Search.CacheSize,
			Timeout:    cfg.Search.Timeout,
			MaxResults: cfg.Context.MaxSnippets,
		})
		if err != nil {
			logrus.WithError(err).Fatal("Failed to create search context source")
		}
	}

	var augmenter *appchat.Augmenter
	if source != nil {
		augmenter = appchat.NewAugmenter(source, cfg.Context.Timeout, cfg.Context.MaxSnippets)
	}

	service := appchat.NewService(provider, provider, appchat.Options{
		DefaultModel:  cfg.Chat.DefaultModel,
		AllowedModels: cfg.Chat.AllowedModels,
		SystemPrompt:  cfg.Chat.SystemPrompt,
		Augmenter:     augmenter,
	})

	router := httpiface.NewRouter(service, relay.New(cfg.Relay.HeartbeatInterval), cfg.Server.CorsOrigins).
		WithPublicDir(cfg.Server.PublicDir).
		WithCircuitReporter(provider)
	if store != nil {
		router.WithReadinessCheck("catalog", store)
	}
	if crawler != nil {
		router.WithCrawlReporter(crawler)
	}

	address := cfg.Address()
	server := &http.Server{
		Addr:              address,
		Handler:           router.SetupRoutes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: streamed responses stay open for as long as the
		// upstream keeps producing.
		IdleTimeout: 60 * time.Second,
	}

	// Channel to listen for interrupt signal to trigger shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		logrus.WithField("address", address).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Block until signal is received
	<-c
	logrus.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	} else {
		logrus.Info("Server shutdown complete")
	}

	if crawler != nil {
		crawler.Stop()
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logrus.WithError(err).Error("Failed to close catalog store")
		}
	}
}

func configureLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	switch cfg.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	logrus.SetReportCaller(cfg.ReportCaller)
}
