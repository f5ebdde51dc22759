// Command server wires together the ingress adapter, alert engine, window
// store, price oracle, subscription registry, notification dispatcher,
// and scheduler into the running pipeline.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cryptoKingdom88/chainwatch/internal/alertengine"
	"github.com/cryptoKingdom88/chainwatch/internal/config"
	"github.com/cryptoKingdom88/chainwatch/internal/dispatch"
	"github.com/cryptoKingdom88/chainwatch/internal/ingress"
	"github.com/cryptoKingdom88/chainwatch/internal/logging"
	"github.com/cryptoKingdom88/chainwatch/internal/priceoracle"
	"github.com/cryptoKingdom88/chainwatch/internal/provider"
	"github.com/cryptoKingdom88/chainwatch/internal/registry"
	"github.com/cryptoKingdom88/chainwatch/internal/scheduler"
	"github.com/cryptoKingdom88/chainwatch/internal/windowstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").WithField("component", "main").Fatalf("configuration invalid: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logging.WithComponent(logger, "main")
	log.Info("configuration loaded")

	store := windowstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPoolSize,
		logging.WithComponent(logger, "windowstore"))
	defer store.Close()

	reg, err := registry.Open(cfg.RegistryPath, logging.WithComponent(logger, "registry"))
	if err != nil {
		log.Fatalf("failed to open subscription registry: %v", err)
	}
	defer reg.Close()

	oracle := priceoracle.New(store.Client(), cfg.DexQuoteURL,
		time.Duration(cfg.PriceTTLSeconds)*time.Second, logging.WithComponent(logger, "priceoracle"))

	chat, err := dispatch.NewChatChannel(cfg.ChatBotToken, cfg.ChatChannelID, logging.WithComponent(logger, "chat"))
	if err != nil {
		log.Fatalf("failed to create chat channel: %v", err)
	}

	pushHub := dispatch.NewHub(logging.WithComponent(logger, "push_hub"))
	hubStop := make(chan struct{})
	go pushHub.Run(hubStop)
	defer close(hubStop)

	pushSender := dispatch.NewPushSender(pushHub, logging.WithComponent(logger, "push"))
	dispatcher := dispatch.New(chat, pushSender, reg, logging.WithComponent(logger, "dispatch"))

	thresholds := alertengine.Thresholds{
		ChatThresholdUSD:       cfg.ChatThresholdUSD,
		SingleThresholdUSD:     cfg.SingleThresholdUSD,
		CumulativeThresholdUSD: cfg.CumulativeThresholdUSD,
		WindowSeconds:          cfg.WindowSeconds,
		FiveSellsThresholdUSD:  cfg.FiveSellsThresholdUSD,
		SequentialSellsEnabled: cfg.SequentialSellsEnabled,
	}
	engine := alertengine.New(oracle, store, dispatcher, thresholds, logging.WithComponent(logger, "alertengine"))

	pool := ingress.NewWorkerPool(cfg.MaxWorkers, logging.WithComponent(logger, "workerpool"))

	adminClient := provider.New(cfg.ProviderAdminBaseURL, cfg.ProviderAPIKey)

	handler := ingress.NewHandler(ingress.Config{
		Pool:         pool,
		Evaluator:    engine,
		Store:        store,
		Registry:     reg,
		Oracle:       oracle,
		Dispatcher:   dispatcher,
		PushHub:      pushHub,
		PushAppToken: cfg.PushAppToken,
		AdminClient:  adminClient,
		AdminUserIDs: cfg.ChatAdminUserIDs,
		TargetMint:   cfg.TargetTokenMint,
		Thresholds:   thresholds,
		Logger:       logging.WithComponent(logger, "ingress"),
	})

	router := gin.New()
	router.Use(gin.Recovery())
	handler.Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpServer := &http.Server{Addr: ":" + cfg.HTTPPort, Handler: router}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(store, dispatcher, cfg.TargetTokenMint, logging.WithComponent(logger, "scheduler"))
	go sched.Run(ctx)

	go func() {
		log.WithField("port", cfg.HTTPPort).Info("http server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received, draining")

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer cancel()

	if err := httpServer.Shutdown(drainCtx); err != nil {
		log.WithError(err).Warn("http server shutdown did not complete cleanly")
	}
	if err := pool.Shutdown(drainCtx); err != nil {
		log.WithError(err).Warn("worker pool shutdown did not complete cleanly")
	}

	log.Info("shutdown complete")
}
