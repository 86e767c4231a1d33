package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"xhub/internal/infrastructure/config"
	"xhub/internal/infrastructure/container"
	"xhub/internal/infrastructure/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Setup("info")
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.Log.Level)

	c, err := container.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("build container failed")
	}
	defer c.Close()

	if flag.NArg() > 0 && flag.Arg(0) == "credential" {
		if err := runCredential(c, flag.Args()[1:]); err != nil {
			log.Fatal().Err(err).Msg("credential command failed")
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    cfg.App.Listen,
		Handler: c.Handler(),
	}
	go func() {
		log.Info().
			Str("config", *configPath).
			Str("listen", cfg.App.Listen).
			Str("realtime_path", cfg.Realtime.Path).
			Msg("xhub started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server exited")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}
