package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"atelierstore/internal/config"
	"atelierstore/internal/db"
	"atelierstore/internal/gateway"
	"atelierstore/internal/notify"
	"atelierstore/internal/reconciler"
	"atelierstore/internal/services"
	"atelierstore/internal/store"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	st := store.New(pool)
	gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey, time.Duration(cfg.Gateway.TimeoutSeconds)*time.Second)
	settlementSvc := &services.SettlementService{
		Store:    st,
		Gateway:  gw,
		Notifier: notify.LogNotifier{Logger: logger},
		Logger:   logger,
	}

	r := &reconciler.Reconciler{
		Store:        st,
		Settlement:   settlementSvc,
		Gateway:      gw,
		Interval:     time.Duration(cfg.Reconciler.IntervalSeconds) * time.Second,
		MinAge:       time.Duration(cfg.Reconciler.MinAgeSeconds) * time.Second,
		AbandonAfter: time.Duration(cfg.Reconciler.AbandonAfterMinutes) * time.Minute,
		Logger:       logger,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		cancel()
	}()

	logger.Info("reconciler started",
		zap.Duration("interval", r.Interval),
		zap.Duration("min_age", r.MinAge))
	r.Run(ctx)
}
