package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"crowdfund/internal/bootstrap"
	"crowdfund/internal/config"
	"crowdfund/internal/handler"
	"crowdfund/internal/httpserver"
	"crowdfund/pkg/logger"
	"crowdfund/pkg/mq"
	"crowdfund/pkg/outbox"
)

var errMQDisconnected = errors.New("mq publisher disconnected")

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger("crowdfund-api", cfg.Log.Level)
	defer log.Sync()

	shutdownTracing := bootstrap.InitTracing("crowdfund-api", cfg, log)
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("Storage initialization failed", zap.Error(err))
	}
	defer storage.Close()

	pc, closeCache := bootstrap.OpenProductCache(cfg, log)
	defer closeCache()
	var productCache handler.ProductCache
	if pc != nil {
		productCache = pc
	}

	svc := bootstrap.NewLifecycleService(storage.Store, pc, log)

	var replayService *outbox.ReplayService
	var checks []httpserver.ReadinessCheck
	publisher, err := mq.NewPublisher(cfg.MQ.URL, "crowdfund-api")
	if err != nil {
		log.Warn("MQ unavailable, outbox replay disabled", zap.Error(err))
	} else {
		defer publisher.Close()
		replayService = outbox.NewReplayService(storage.Events, publisher)
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "mq",
			Check: func(context.Context) error {
				if !publisher.IsConnected() {
					return errMQDisconnected
				}
				return nil
			},
		})

		if storage.InProcess {
			dispatcher := outbox.NewDispatcher(storage.Events, publisher, log).
				WithMaxRetries(cfg.Worker.MaxRetries).
				WithInterval(cfg.Worker.DispatchInterval).
				WithBatchSize(cfg.Worker.DispatchBatch)
			go dispatcher.Start(ctx)
			log.Info("Outbox dispatcher running in process")
		}
	}

	productHandler := handler.NewProductHandler(svc, productCache, log)
	adminHandler := handler.NewAdminHandler(svc, replayService, log)
	router := httpserver.NewRouter(productHandler, adminHandler, storage.Store, cfg.JWT.Secret, log, checks...)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("API server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
}
