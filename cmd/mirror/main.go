package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/blackmichael/bsky-mirror/internal/bluesky"
	"github.com/blackmichael/bsky-mirror/internal/config"
	"github.com/blackmichael/bsky-mirror/internal/httpserver"
	"github.com/blackmichael/bsky-mirror/internal/identity"
	"github.com/blackmichael/bsky-mirror/internal/jetstream"
	"github.com/blackmichael/bsky-mirror/internal/mirror"
	"github.com/blackmichael/bsky-mirror/internal/sqlite"
	"github.com/blackmichael/bsky-mirror/internal/telegram"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// trackedCursorStore persists cursors and mirrors them into the status
// tracker.
type trackedCursorStore struct {
	*sqlite.Store
	tracker *httpserver.Tracker
}

func (s *trackedCursorStore) SetCursor(ctx context.Context, cursor string) error {
	s.tracker.SetCursor(cursor)
	return s.Store.SetCursor(ctx, cursor)
}

func run() error {
	// Missing .env is fine; configuration may come from the environment.
	godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := sqlite.NewStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	logger.Info("opened database", "path", cfg.DatabasePath)

	resolver := identity.NewResolver(cfg.PLCDirectoryURL)
	fetcher := bluesky.NewClient(resolver)
	sender := telegram.NewClient(cfg.TelegramAPIURL, cfg.TelegramToken)

	reconciler := mirror.NewReconciler(
		store,
		sender,
		fetcher,
		mirror.NewPostQuoteFormatter(fetcher),
		mirror.Options{
			ChatID:         cfg.ChatID,
			QuoteAsReply:   cfg.QuoteAsReply,
			QuotePosition:  mirror.QuotePosition(cfg.QuotePosition),
			LinkToOriginal: cfg.LinkToOriginal,
		},
		logger,
	)

	queue := mirror.NewQueue(reconciler, logger)

	tracker := httpserver.NewTracker()
	cursors := &trackedCursorStore{Store: store, tracker: tracker}

	client := jetstream.NewClient(jetstream.Options{
		URL:        cfg.JetstreamURL,
		WantedDIDs: cfg.WatchedDIDs,
		WantedCollections: []string{
			bluesky.CollectionPost,
			bluesky.CollectionRepost,
			bluesky.CollectionLike,
		},
	}, cursors, queue, logger)
	client.OnConnect = func() { tracker.SetConnected(true) }
	client.OnDisconnect = func() { tracker.SetConnected(false) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	queueDone := make(chan struct{})
	go func() {
		defer close(queueDone)
		queue.Run(ctx)
	}()

	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("jetstream client exited with error", "error", err)
		}
	}()

	var statusServer *httpserver.Server
	if cfg.StatusPort > 0 {
		statusServer = httpserver.NewServer(cfg.StatusPort, tracker, logger)
		go func() {
			if err := statusServer.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("status server exited with error", "error", err)
			}
		}()
	}

	logger.Info("mirror started",
		"watched_dids", cfg.WatchedDIDs,
		"chat_id", cfg.ChatID,
	)

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	queue.Close()
	<-queueDone

	if statusServer != nil {
		if err := statusServer.Shutdown(context.Background()); err != nil {
			logger.Error("error shutting down status server", "error", err)
		}
	}

	return nil
}
