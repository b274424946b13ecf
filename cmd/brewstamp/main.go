package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/brewstamp/brewstamp/internal/api"
	"github.com/brewstamp/brewstamp/internal/config"
	"github.com/brewstamp/brewstamp/internal/notifier"
	"github.com/brewstamp/brewstamp/internal/relay"
	"github.com/brewstamp/brewstamp/internal/server"
	"github.com/brewstamp/brewstamp/internal/stamp"
	"github.com/brewstamp/brewstamp/internal/storage"
	"github.com/brewstamp/brewstamp/internal/telegram"
)

func main() {
	// Load .env file
	envErr := godotenv.Load()

	// Load config
	cfg := config.Load()

	// Setup logger
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(log)

	if envErr != nil {
		log.Debug("no .env file found")
	}

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Initialize storage
	store, err := storage.New(cfg.DBPath, cfg.DefaultThreshold)
	if err != nil {
		log.Error("init storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	log.Info("storage initialized", "path", cfg.DBPath)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service := stamp.NewService(store, clockwork.NewRealClock(), cfg.RequestTTL, uuid.NewString, log)
	reaper := stamp.NewReaper(service, cfg.ReapInterval, log)

	// Initialize telegram bot (optional)
	opts := api.Options{CookieSecure: cfg.CookieSecure}
	var bot *telegram.Bot
	if cfg.BotToken != "" {
		bot, err = telegram.New(cfg.BotToken, store, log)
		if err != nil {
			log.Error("init telegram bot", "error", err)
			os.Exit(1)
		}
		opts.Alerts = notifier.New(store, bot, log)
		log.Info("telegram bot initialized")
	} else {
		log.Info("merchant alerts disabled: BOT_TOKEN not set")
	}

	hub := relay.NewHub(relay.NewRegistry(), cfg.WSPath, log)
	httpServer := server.New(api.NewHandler(service, store, opts, log), hub, store, log)

	var wg sync.WaitGroup

	// Start expiry reaper
	wg.Add(1)
	go func() {
		defer wg.Done()
		reaper.Run(ctx)
	}()

	// Start bot polling
	if bot != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("starting bot polling...")
			bot.Start(ctx)
		}()
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Info("shutting down...")
		cancel()
	}()

	// Start http server
	if err := httpServer.Start(ctx, cfg.Port); err != nil && err != http.ErrServerClosed {
		log.Error("http server", "error", err)
		cancel()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Warn("background workers did not stop in time")
	}
}
