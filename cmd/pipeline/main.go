package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mailpipe/internal/agent"
	"mailpipe/internal/config"
	"mailpipe/internal/handler"
	"mailpipe/internal/httpserver"
	"mailpipe/internal/pipeline"
	"mailpipe/internal/preferences"
	"mailpipe/internal/repository"
	"mailpipe/internal/store"
	"mailpipe/pkg/db"
	"mailpipe/pkg/logger"
	"mailpipe/pkg/mq"
	"mailpipe/pkg/redis"
	"mailpipe/pkg/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	log.Info("Starting mailpipe...",
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.String("mq_url", cfg.MQ.URL),
		zap.String("agent_url", cfg.Agent.URL),
		zap.Bool("dead_letter_db", cfg.DB.Enabled()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	rdb := redis.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	if err := redis.Ping(ctx, rdb); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	recordStore := store.NewRedisStore(rdb)
	prefs := preferences.NewStore(rdb)
	retries := util.NewRetryCounter(rdb, cfg.Pipeline.RetryTTL)

	// 可选：死信审计日志
	var recorder mq.DeadLetterRecorder
	if cfg.DB.Enabled() {
		pool, err := db.NewConnection(ctx, cfg.DB, log)
		if err != nil {
			log.Fatal("Failed to init DB", zap.Error(err))
		}
		defer pool.Close()
		repo := repository.NewDeadLetterRepository(pool, log)
		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to create dead letter table", zap.Error(err))
		}
		recorder = repo
	}

	// MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL, cfg.MQ.Exchange)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	agentClient := agent.NewClient(cfg.Agent.URL, cfg.Agent.Timeout, log)

	stages := []struct {
		routingKey string
		handle     mq.MessageHandler
	}{
		{pipeline.ChannelIncoming, pipeline.NewIngressStage(recordStore, publisher, log).Handle},
		{pipeline.ChannelCategorization, pipeline.NewClassifierStage(recordStore, publisher, agentClient, prefs, log).Handle},
		{pipeline.ChannelDraftGeneration, pipeline.NewDraftStage(recordStore, agentClient, prefs, log).Handle},
	}

	g, gctx := errgroup.WithContext(ctx)
	consumers := make([]*mq.Consumer, 0, len(stages))
	for _, s := range stages {
		consumer, err := mq.NewConsumer(cfg.MQ.URL, cfg.MQ.Exchange, s.routingKey, cfg.MQ.Prefetch, log)
		if err != nil {
			log.Fatal("Failed to init consumer", zap.String("routing_key", s.routingKey), zap.Error(err))
		}
		defer consumer.Close()

		consumer.SetHandler(s.handle)
		consumer.WithRetry(retries, cfg.Pipeline.MaxRetries).WithDeadLetter(publisher, recorder)
		consumers = append(consumers, consumer)

		routingKey := s.routingKey
		g.Go(func() error {
			if err := consumer.StartConsuming(gctx); err != nil {
				log.Error("Consumer stopped", zap.String("routing_key", routingKey), zap.Error(err))
				return err
			}
			return nil
		})
	}

	// HTTP Server
	router := httpserver.NewRouter(httpserver.Handlers{
		Email:      handler.NewEmailHandler(recordStore, publisher, log),
		Draft:      handler.NewDraftHandler(recordStore, log),
		Preference: handler.NewPreferenceHandler(prefs, log),
	}, recordStore, brokerStatus{publisher: publisher, consumers: consumers}, log)

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed", zap.Error(err))
			stop()
		}
	}()

	log.Info("mailpipe is fully initialized and running")

	// 任一 consumer 退出或收到信号时停止
	<-gctx.Done()
	log.Info("Shutting down mailpipe gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// 等待正在处理的消息完成
	if err := g.Wait(); err != nil {
		log.Error("Consumers exited with error", zap.Error(err))
	}
	log.Info("mailpipe shutdown complete")
}

// brokerStatus is ready only while every broker connection is open.
type brokerStatus struct {
	publisher *mq.Publisher
	consumers []*mq.Consumer
}

func (b brokerStatus) IsConnected() bool {
	if !b.publisher.IsConnected() {
		return false
	}
	for _, c := range b.consumers {
		if !c.IsConnected() {
			return false
		}
	}
	return true
}
