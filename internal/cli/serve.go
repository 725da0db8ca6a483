package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/barrowworks/barrow/internal/archive"
	"github.com/barrowworks/barrow/internal/audit"
	"github.com/barrowworks/barrow/internal/auth"
	"github.com/barrowworks/barrow/internal/batch"
	"github.com/barrowworks/barrow/internal/catalog"
	"github.com/barrowworks/barrow/internal/decoder"
	"github.com/barrowworks/barrow/internal/handlers"
	"github.com/barrowworks/barrow/internal/logging"
	"github.com/barrowworks/barrow/internal/registry"
	"github.com/barrowworks/barrow/internal/runner"
	"github.com/barrowworks/barrow/internal/server"
	"github.com/barrowworks/barrow/internal/service"
	"github.com/barrowworks/barrow/internal/stats"
	"github.com/barrowworks/barrow/migrations"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the archiver service",
	Long:  "Starts the HTTP API and, when enabled, the change feed consumer.",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	slog.Info("Starting barrow archiver",
		slog.Int("port", cfg.Server.Port),
		slog.String("archive_backend", cfg.Archive.Backend),
		slog.String("registry_backend", cfg.Registry.Backend),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx := context.Background()

	// Source registry
	var reg registry.Registry
	switch cfg.Registry.Backend {
	case "postgres":
		slog.Info("Running database migrations")
		src, err := iofs.New(migrations.FS, ".")
		if err != nil {
			return fmt.Errorf("open embedded migrations: %w", err)
		}
		m, err := migrate.NewWithSourceInstance("iofs", src, cfg.Registry.DatabaseURL)
		if err != nil {
			return fmt.Errorf("initialize migrations: %w", err)
		}
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("run migrations: %w", err)
		}

		pg, err := registry.NewPostgres(ctx, cfg.Registry.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to registry database: %w", err)
		}
		defer pg.Close()
		reg = pg
	case "static", "":
		var sources []registry.Source
		if cfg.Registry.SourcesFile != "" {
			sources, err = registry.LoadSourcesFile(cfg.Registry.SourcesFile)
			if err != nil {
				return fmt.Errorf("load sources file: %w", err)
			}
			slog.Info("Loaded source declarations",
				slog.String("file", cfg.Registry.SourcesFile),
				slog.Int("sources", len(sources)),
			)
		}
		reg = registry.NewStatic(sources)
	default:
		return fmt.Errorf("unknown registry backend: %s (supported: static, postgres)", cfg.Registry.Backend)
	}

	// Archive store
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	if cfg.Archive.Backend == "memory" {
		slog.Warn("Using in-memory archive store, documents are lost on restart")
	}

	// Document signing
	var signer *audit.DocumentSigner
	if cfg.Archiver.SignSecret != "" {
		signer = audit.NewDocumentSigner(cfg.Archiver.SignSecret)
		slog.Info("Document signing enabled")
	}
	writer := archive.NewWriter(store, signer)

	processor := batch.New(
		decoder.NewRegistry(decoder.StreamDecoder{}, decoder.CanonicalDecoder{}),
		reg,
		writer,
		batch.Config{
			DefaultFormat:       cfg.Archiver.DefaultFormat,
			Workers:             cfg.Archiver.Workers,
			RecordTimeout:       cfg.Archiver.RecordTimeout,
			RequireKnownSources: cfg.Archiver.RequireKnownSources,
		},
	)

	// Optional processing hooks
	var hooks []service.Hook

	var statsClient *stats.Client
	if cfg.Stats.Enabled {
		hostname, _ := os.Hostname()
		instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

		sc, err := stats.NewClient(cfg.Stats.RedisURL, instanceID)
		if err != nil {
			slog.Warn("Failed to initialize stats collector, continuing without source stats", slog.Any("error", err))
		} else {
			statsClient = sc
			defer sc.Close()

			collector := stats.NewCollector(sc, cfg.Stats.FlushInterval, logger)
			defer collector.Stop()
			hooks = append(hooks, collector)
			slog.Info("Stats collector enabled",
				slog.String("instance", instanceID),
				slog.Duration("flush_interval", cfg.Stats.FlushInterval),
			)
		}
	}

	if cfg.Catalog.Enabled {
		indexer, err := catalog.NewIndexer(catalog.Config{
			URL:           cfg.Catalog.URL,
			Username:      cfg.Catalog.Username,
			Password:      cfg.Catalog.Password,
			TLSSkipVerify: cfg.Catalog.TLSSkipVerify,
			IndexPrefix:   cfg.Catalog.IndexPrefix,
			ShardCount:    cfg.Catalog.ShardCount,
			ReplicaCount:  cfg.Catalog.ReplicaCount,
		}, logger)
		if err != nil {
			slog.Warn("Failed to initialize catalog indexer, continuing without catalog", slog.Any("error", err))
		} else {
			initCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
			if err := indexer.Initialize(initCtx); err != nil {
				slog.Warn("Catalog initialization failed, entries may not index until the cluster is reachable", slog.Any("error", err))
			}
			cancel()
			hooks = append(hooks, indexer)
			slog.Info("Catalog indexing enabled", slog.String("url", cfg.Catalog.URL))
		}
	}

	svc := service.NewArchiver(processor, logger, hooks...)

	// Dead letter queue
	queue, closeQueue, err := openQueue(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeQueue()
	if queue != nil {
		slog.Info("Dead letter queue enabled", slog.String("backend", cfg.DLQ.Backend))
	} else {
		slog.Info("Dead letter queue disabled")
	}

	// HTTP API
	verifier := auth.NewVerifier(auth.Config{
		Enabled:      cfg.Auth.Enabled,
		HashedTokens: cfg.Auth.HashedTokens,
		JWTSecret:    cfg.Auth.JWTSecret,
	})
	handler := handlers.NewArchiveHandler(svc, writer, reg, statsClient, queue, logger)
	router := server.NewRouter(handler, auth.NewMiddleware(verifier))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Archiver listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Change feed consumer
	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	if cfg.Feed.Enabled {
		conn, err := nats.Connect(cfg.Feed.URL, nats.Name("barrow-feed"), nats.MaxReconnects(-1))
		if err != nil {
			return fmt.Errorf("connect to NATS feed: %w", err)
		}
		defer conn.Close()

		js, err := jetstream.New(conn)
		if err != nil {
			return fmt.Errorf("create JetStream context for feed: %w", err)
		}

		r, err := runner.New(runCtx, js, svc, queue, logger, runner.Config{
			StreamName:       cfg.Feed.Stream,
			Subjects:         cfg.Feed.Subjects,
			ConsumerName:     cfg.Feed.Consumer,
			BatchSize:        cfg.Feed.BatchSize,
			BatchWait:        cfg.Feed.BatchWait,
			AckWait:          cfg.Feed.AckWait,
			MaxDeliver:       cfg.Feed.MaxDeliver,
			RedeliverBackoff: cfg.Feed.RedeliverBackoff,
		})
		if err != nil {
			return fmt.Errorf("initialize feed runner: %w", err)
		}

		go func() {
			if err := r.Run(runCtx); err != nil {
				slog.Error("Feed runner exited", slog.Any("error", err))
			}
		}()
		slog.Info("Feed consumer enabled",
			slog.String("url", cfg.Feed.URL),
			slog.String("stream", cfg.Feed.Stream),
			slog.String("consumer", cfg.Feed.Consumer),
		)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		slog.Info("Shutting down", slog.String("signal", sig.String()))
	}

	runCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped")
	return nil
}
