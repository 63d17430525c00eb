package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"crowdfund/internal/bootstrap"
	"crowdfund/internal/config"
	"crowdfund/internal/runner"
	"crowdfund/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger("crowdfund-runner", cfg.Log.Level)
	defer log.Sync()

	shutdownTracing := bootstrap.InitTracing("crowdfund-runner", cfg, log)
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("Storage initialization failed", zap.Error(err))
	}
	defer storage.Close()
	if storage.InProcess {
		log.Warn("Runner is using the in-memory store; it only sees products created by this process")
	}

	pc, closeCache := bootstrap.OpenProductCache(cfg, log)
	defer closeCache()

	svc := bootstrap.NewLifecycleService(storage.Store, pc, log)
	sweeper := runner.NewSweeper(svc, cfg.Runner.Interval, log)

	sweeper.Start(ctx)
}
