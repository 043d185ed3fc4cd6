package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"branchchat/internal/chat"
	"branchchat/internal/config"
	"branchchat/internal/event"
	"branchchat/internal/llm"
	"branchchat/internal/server"
	"branchchat/internal/storage"
)

func main() {
	configPath := flag.String("config", "branchchat.toml", "path to config file")
	listenAddr := flag.String("http", "", "listen address (overrides config)")
	dbPath := flag.String("db", "", "sqlite database path (overrides config)")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	applyLogLevel(cfg.Log.Level)

	if err := storage.Init(cfg.DBPath); err != nil {
		log.Fatal().Err(err).Str("db", cfg.DBPath).Msg("failed to open database")
	}

	bus := event.NewBus()
	router := llm.NewRouter()
	chatSvc := chat.NewService(router, bus)
	chatSvc.SetLimits(cfg.Chat.ContextTokens, cfg.Chat.MaxResponseTokens)

	srv := server.New(cfg.ListenAddr, chatSvc, router, bus)

	watcher, err := config.Watch(*configPath, func(next *config.Config) {
		chatSvc.SetLimits(next.Chat.ContextTokens, next.Chat.MaxResponseTokens)
		applyLogLevel(next.Log.Level)
		log.Info().Msg("config reloaded")
	})
	if err != nil {
		log.Warn().Err(err).Msg("config watcher unavailable, continuing without reload")
	} else {
		defer watcher.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("starting server")
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		srv.Stop()
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}
}

func applyLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		log.Warn().Str("level", level).Msg("unknown log level, keeping current")
		return
	}
	zerolog.SetGlobalLevel(lvl)
}
