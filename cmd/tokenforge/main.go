package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/winterhq/tokenforge/internal/adapter/driven/github"
	"github.com/winterhq/tokenforge/internal/adapter/driven/issuer"
	"github.com/winterhq/tokenforge/internal/adapter/driven/jsonstore"
	"github.com/winterhq/tokenforge/internal/adapter/driven/notify"
	sqliteadapter "github.com/winterhq/tokenforge/internal/adapter/driven/sqlite"
	httphandler "github.com/winterhq/tokenforge/internal/adapter/driving/http"
	"github.com/winterhq/tokenforge/internal/application"
	"github.com/winterhq/tokenforge/internal/config"
	"github.com/winterhq/tokenforge/internal/domain/port/driven"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"store_path", cfg.StorePath,
		"db_path", cfg.DBPath,
		"update_interval", cfg.UpdateInterval,
		"github_repo", cfg.GitHubRepo,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open run-history database and apply migrations.
	db, err := sqliteadapter.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		return err
	}
	slog.Info("database ready", "path", cfg.DBPath)

	// 4. Wire driven adapters.
	userStore := jsonstore.NewStore(cfg.StorePath)
	artifactStore := jsonstore.NewArtifactStore(filepath.Join(cfg.DataDir, "generated"))
	issuerClient := issuer.NewClient(cfg.IssuerURL)
	runStore := sqliteadapter.NewRunRepo(db)

	// 5. Create the remote repository client when credentials are configured.
	var remote driven.RemoteStore
	if cfg.HasGitHub() {
		ghClient, err := githubadapter.NewClient(cfg.GitHubToken, cfg.GitHubRepo)
		if err != nil {
			return err
		}
		remote = ghClient
		slog.Info("github client created", "repo", cfg.GitHubRepo, "folder", cfg.GitHubFolder)
	} else {
		slog.Info("no github credentials configured, publishing disabled")
	}

	// 6. Pick the notification sink.
	var notifier driven.Notifier
	if cfg.HasTelegram() {
		notifier = notify.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		slog.Info("telegram notifier created", "chat_id", cfg.TelegramChatID)
	} else {
		notifier = notify.NewLogNotifier(slog.Default())
	}

	// 7. Create services and start the scheduler.
	svc := application.NewTokenService(
		userStore,
		artifactStore,
		issuerClient,
		remote,
		runStore,
		cfg.GitHubFolder,
		cfg.ScrubKeys,
	)
	scheduler := application.NewScheduler(svc, userStore, notifier, cfg.UpdateInterval)
	go scheduler.Start(ctx)

	// 8. Create the API handler and HTTP server.
	apiHandler := httphandler.NewHandler(svc, runStore, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("tokenforge started",
		"listen_addr", cfg.ListenAddr,
		"update_interval", cfg.UpdateInterval,
	)

	// 9. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
