package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"atelierstore/internal/config"
	"atelierstore/internal/db"
	"atelierstore/internal/gateway"
	internalhttp "atelierstore/internal/http"
	"atelierstore/internal/notify"
	"atelierstore/internal/services"
	"atelierstore/internal/stock"
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

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	st := store.New(pool)
	gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.SecretKey, time.Duration(cfg.Gateway.TimeoutSeconds)*time.Second)

	checkoutSvc := &services.CheckoutService{
		Store:       st,
		Ledger:      stock.Ledger{Store: st},
		Gateway:     gw,
		Currency:    cfg.Checkout.Currency,
		ShippingFee: cfg.Checkout.ShippingFee,
		Logger:      logger,
	}
	settlementSvc := &services.SettlementService{
		Store:    st,
		Gateway:  gw,
		Notifier: notify.LogNotifier{Logger: logger},
		Logger:   logger,
	}

	h := internalhttp.NewHandler(checkoutSvc, settlementSvc, logger)
	srv := internalhttp.NewServer(h)

	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router,
	}

	go func() {
		logger.Info("api listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
