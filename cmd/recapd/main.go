package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"recap/internal/api"
	"recap/internal/config"
	"recap/internal/daemon"
	"recap/internal/logging"
	"recap/internal/meetings"
	"recap/internal/runs"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	runStore, err := runs.Open(cfg)
	if err != nil {
		logger.Error("open runs store", logging.Error(err))
		return
	}
	meetingStore, err := meetings.Open(cfg)
	if err != nil {
		logger.Error("open meetings store", logging.Error(err))
		_ = runStore.Close()
		return
	}

	dispatcher, err := buildDispatcher(cfg, runStore, meetingStore, logger)
	if err != nil {
		logger.Error("build dispatcher", logging.Error(err))
		_ = runStore.Close()
		_ = meetingStore.Close()
		return
	}

	apiServer := api.New(cfg.Paths.APIBind, cfg.Paths.APIToken, dispatcher, runStore, logger)

	d, err := daemon.New(cfg, logger, runStore, meetingStore, dispatcher, apiServer)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("recapd shutting down")
}
