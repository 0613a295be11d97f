package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"donorbase/api/internal/app"
	"donorbase/api/internal/collab"
	"donorbase/api/internal/config"
	"donorbase/api/internal/obs"
	"donorbase/api/internal/realtime"
	"donorbase/api/internal/store"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}

	dataStore := store.NewPostgresStore(db)

	var feed realtime.Feed
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisFeed, err := realtime.NewRedisFeed(cfg.RedisURL, log)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisFeed.Close()
		feed = redisFeed
		log.Info().Msg("realtime feed backed by redis")
	} else {
		feed = realtime.NewMemoryFeed()
		log.Warn().Msg("REDIS_URL unset, realtime feed is in-process only")
	}

	obs.Init()
	sessions := collab.NewManager(dataStore, feed, cfg.PresenceTTL, log)
	service := app.New(cfg, dataStore, feed, sessions, log)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Session sockets are long-lived; the write timeout would cut them off.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("donorbase api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(parsed).With().Timestamp().Logger()
}
