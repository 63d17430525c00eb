package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"crowdfund/contracts/mq"
	"crowdfund/internal/bootstrap"
	"crowdfund/internal/config"
	"crowdfund/internal/mqhandler"
	"crowdfund/internal/payment"
	"crowdfund/pkg/circuitbreaker"
	"crowdfund/pkg/logger"
	pkgmq "crowdfund/pkg/mq"
	"crowdfund/pkg/outbox"
	"crowdfund/pkg/redis"
	"crowdfund/pkg/util"
)

type binding struct {
	queue      string
	routingKey string
	handle     pkgmq.MessageHandler
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger("crowdfund-worker", cfg.Log.Level)
	defer log.Sync()

	shutdownTracing := bootstrap.InitTracing("crowdfund-worker", cfg, log)
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("Starting worker service...")

	storage, err := bootstrap.OpenStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal("Storage initialization failed", zap.Error(err))
	}
	defer storage.Close()
	if storage.InProcess {
		log.Warn("Worker is using the in-memory store; only events from this process are dispatched")
	}

	rdb, err := redis.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Fatal("Redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	publisher, err := pkgmq.NewPublisher(cfg.MQ.URL, "crowdfund-worker")
	if err != nil {
		log.Fatal("MQ publisher initialization failed", zap.Error(err))
	}
	defer publisher.Close()

	// (1) Outbox -> MQ
	dispatcher := outbox.NewDispatcher(storage.Events, publisher, log).
		WithMaxRetries(cfg.Worker.MaxRetries).
		WithInterval(cfg.Worker.DispatchInterval).
		WithBatchSize(cfg.Worker.DispatchBatch)
	go dispatcher.Start(ctx)

	// (2) MQ -> payment gateway
	gateway := payment.NewBreakerGateway(
		payment.NewLoggingGateway(log),
		circuitbreaker.NewCircuitBreaker("payment-gateway", circuitbreaker.DefaultConfig()),
	)
	paymentHandler := mqhandler.NewPaymentHandler(
		gateway,
		util.NewDeduperWithLogger(rdb, cfg.Worker.DedupTTL, log),
		util.NewRetryCounter(rdb, cfg.Worker.RetryTTL),
		cfg.Worker.MaxRetries,
		log,
	)

	bindings := []binding{
		{"crowdfund.funds_distributed.q", mq.RoutingFundsDistributed, paymentHandler.HandleFundsDistributed},
		{"crowdfund.product_refunded.q", mq.RoutingProductRefunded, paymentHandler.HandleProductRefunded},
		{"crowdfund.reward_claimed.q", mq.RoutingRewardClaimed, paymentHandler.HandleRewardClaimed},
	}

	var consumers []*pkgmq.Consumer
	conns := map[string]pkgmq.Connectable{"publisher": publisher}
	for _, b := range bindings {
		log.Info("Initializing consumer", zap.String("queue", b.queue), zap.String("routing_key", b.routingKey))
		consumer, err := pkgmq.NewConsumer(cfg.MQ.URL, b.queue, b.routingKey, log)
		if err != nil {
			log.Fatal("failed to init consumer", zap.String("queue", b.queue), zap.Error(err))
		}
		consumer.SetHandler(b.handle)
		consumer.SetDeadLetterer(publisher)
		consumers = append(consumers, consumer)
		conns[b.queue] = consumer

		go func(queue string, c *pkgmq.Consumer) {
			if err := c.StartConsuming(); err != nil {
				log.Error("consumer stopped", zap.String("queue", queue), zap.Error(err))
				stop()
			}
		}(b.queue, consumer)
	}

	go pkgmq.WatchConnections(ctx, 30*time.Second, conns, log)

	log.Info("Worker service started")
	<-ctx.Done()

	log.Info("Shutting down worker service...")
	for _, c := range consumers {
		c.Stop()
		c.Close()
	}
}
