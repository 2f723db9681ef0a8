package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sigilo-chat/sigilo/internal/config"
	"github.com/sigilo-chat/sigilo/internal/room"
	"github.com/sigilo-chat/sigilo/internal/server"
)

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	// Wire the gateway to the room core: the hub delivers room events to
	// sessions, the registry hears about disconnects through the hub.
	hub := server.NewHub(cfg, logger)
	registry := room.NewRegistry(hub, room.BcryptHasher{}, logger)
	hub.BindRegistry(registry)
	go hub.Run()

	router := server.NewRouter(logger, hub)
	srv := server.CreateServer(cfg.Port, router)

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting Sigilo relay")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")

	if err := server.ShutdownServer(srv, 30*time.Second, logger); err != nil {
		logger.Error().Err(err).Msg("forced HTTP shutdown")
	}
	if err := hub.Shutdown(10 * time.Second); err != nil {
		logger.Error().Err(err).Msg("hub shutdown incomplete")
	}

	logger.Info().Msg("server stopped")
}
