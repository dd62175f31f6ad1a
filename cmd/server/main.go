package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"civicmap/internal/config"
	"civicmap/internal/db"
	"civicmap/internal/feed"
	"civicmap/internal/logger"
	"civicmap/internal/metrics"
	"civicmap/internal/models"
	"civicmap/internal/router"
	"civicmap/internal/services"
	"civicmap/internal/upvote"
	"civicmap/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const serviceName = "civicmap"

var rootCmd = &cobra.Command{
	Use:   "civicmap",
	Short: "Civic issue map API",
	Long: `civicmap serves the issue map API: reports, comments, upvotes and
the live change feed.

Running without a subcommand starts the server.`,
	RunE:          runServe,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the schema and seed categories",
	RunE:  runMigrate,
}

var recountCmd = &cobra.Command{
	Use:   "recount",
	Short: "Recompute every upvote counter from the membership table",
	RunE:  runRecount,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, recountCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func bootstrap() (config.Config, *logger.Logger, *gorm.DB, error) {
	cfg := config.Load()
	log := logger.New(serviceName, cfg.LogLevel)
	if !cfg.EnvFileLoaded {
		log.Entry().Info("no .env file found, reading env vars from system")
	}

	conn, err := db.Open(cfg.DBDriver, cfg.DatabaseURL, log)
	if err != nil {
		return cfg, log, nil, err
	}
	if err := db.Migrate(conn, log); err != nil {
		return cfg, log, nil, err
	}
	return cfg, log, conn, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	_, _, _, err := bootstrap()
	return err
}

func runRecount(cmd *cobra.Command, _ []string) error {
	cfg, log, conn, err := bootstrap()
	if err != nil {
		return err
	}
	broadcaster, err := newBroadcaster(cfg, log)
	if err != nil {
		return err
	}
	defer broadcaster.Close()

	recounter := services.NewRecountService(conn, broadcaster, metrics.New(serviceName), log, cfg.RecountInterval, cfg.RecountBatch)
	repaired, err := recounter.RecountAll(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "repaired %d counters\n", repaired)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, conn, err := bootstrap()
	if err != nil {
		return err
	}

	broadcaster, err := newBroadcaster(cfg, log)
	if err != nil {
		return err
	}
	defer broadcaster.Close()

	m := metrics.New(serviceName)
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	recounter := services.NewRecountService(conn, broadcaster, m, log, cfg.RecountInterval, cfg.RecountBatch)
	recounter.Start(ctx)
	if cfg.NightlyRecount {
		recounter.StartNightly(ctx)
	}

	issueCache, err := utils.NewCache[uint, models.Issue](500, cfg.CacheTTL)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	engine := router.New(router.Deps{
		DB:            conn,
		Upvotes:       upvote.NewService(upvote.NewGormStore(conn), broadcaster, recounter, m, log),
		Feed:          broadcaster,
		IssueCache:    issueCache,
		Metrics:       m,
		Log:           log,
		SessionSecret: cfg.SessionSecret,
	})

	// No WriteTimeout: /api/feed streams for as long as the client stays.
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	// Closing the broadcaster ends open feed streams so Shutdown can finish.
	server.RegisterOnShutdown(func() { _ = broadcaster.Close() })

	errCh := make(chan error, 1)
	go func() {
		log.Entry().WithField("addr", server.Addr).Info("civicmap API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	log.Entry().Info("shutting down")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Entry().WithError(err).Warn("shutdown error")
	}
	recounter.Wait()
	return nil
}

// newBroadcaster uses Redis when configured so every instance sees every change.
func newBroadcaster(cfg config.Config, log *logger.Logger) (feed.Broadcaster, error) {
	if cfg.RedisURL == "" {
		log.Entry().Info("no REDIS_URL, using in-process feed")
		return feed.NewHub(), nil
	}
	b, err := feed.NewRedisBroadcaster(cfg.RedisURL, cfg.FeedChannel, log)
	if err != nil {
		return nil, err
	}
	log.Entry().Info("using redis feed")
	return b, nil
}
