package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ideabot/api/internal/app"
	"ideabot/api/internal/config"
	"ideabot/api/internal/events"
	"ideabot/api/internal/linkmeta"
	"ideabot/api/internal/logging"
	"ideabot/api/internal/search"
	"ideabot/api/internal/slackapi"
	"ideabot/api/internal/store"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	serve := serveCmd()
	root := &cobra.Command{
		Use:           "ideabot",
		Short:         "Slack idea sharing service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.AddCommand(serve, migrateCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP endpoint Slack posts to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			logger := newLogger(cfg)
			if err := serve(cmd.Context(), cfg, logger); err != nil {
				logger.Error().Err(err).Msg("server stopped")
				return err
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			logger := newLogger(cfg)
			if strings.TrimSpace(cfg.DatabaseURL) == "" {
				return errors.New("DATABASE_URL is required")
			}
			db, err := store.OpenPostgres(cmd.Context(), cfg.DatabaseURL, cfg.MigrationsDir)
			if err != nil {
				logger.Error().Err(err).Msg("migrations failed")
				return err
			}
			defer db.Close()
			logger.Info().Msg("migrations applied")
			return nil
		},
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	return logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "ideabot"})
}

func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	gateway, db, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
	}
	var fallback interface {
		search.Searcher
		search.Loader
	} = search.NewScan(gateway)
	if db != nil {
		fallback = search.NewPgFTS(db)
	}
	searchService := search.NewService(meiliClient, fallback, logger)
	defer searchService.Close()
	go searchService.ReindexAll(context.WithoutCancel(ctx), fallback)

	var publisher events.Publisher = events.Nop{}
	if strings.TrimSpace(cfg.RabbitMQURL) != "" {
		rabbit, err := events.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("event publishing disabled")
		} else {
			publisher = rabbit
		}
	}
	defer publisher.Close()

	chat := slackapi.New(slackapi.Options{
		APIURL:       cfg.SlackAPIURL,
		ClientID:     cfg.SlackClientID,
		ClientSecret: cfg.SlackClientSecret,
		RedirectURL:  cfg.SlackRedirectURL,
	})

	service := app.New(cfg, gateway, chat, linkFetcher(cfg, logger),
		app.WithSearch(searchService),
		app.WithEvents(publisher),
	)
	httpServer := app.NewHTTPServer(service, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("store", cfg.StoreBackend).Msg("ideabot listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	httpServer.Wait()
	return nil
}

// openStore returns the configured gateway. db is non-nil only for the
// Postgres backend, where search can use its full-text index.
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store.Gateway, *sql.DB, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := store.OpenPostgres(ctx, cfg.DatabaseURL, cfg.MigrationsDir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		return store.NewPostgresStore(db), db, func() { _ = db.Close() }, nil
	case config.BackendRedis, "":
		redisStore, err := store.NewRedisStore(cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		logger.Info().Str("prefix", cfg.RedisPrefix).Msg("using redis store")
		return redisStore, nil, func() { _ = redisStore.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

func linkFetcher(cfg config.Config, logger zerolog.Logger) linkmeta.Fetcher {
	breaker := linkmeta.BreakerConfig{
		Failures: uint32(cfg.LinkBreakerFailures),
		Timeout:  cfg.LinkBreakerTimeout,
	}
	switch cfg.LinkPreviewMode {
	case config.LinkPreviewOff:
		return linkmeta.Disabled{}
	case config.LinkPreviewBrowser:
		if linkmeta.BrowserAvailable() {
			return linkmeta.NewGuarded(linkmeta.NewBrowserFetcher(20*time.Second), breaker, logger)
		}
		logger.Warn().Msg("no chromium binary found, using html link previews")
	}
	return linkmeta.NewGuarded(linkmeta.NewHTMLFetcher(&http.Client{Timeout: 10 * time.Second}), breaker, logger)
}
