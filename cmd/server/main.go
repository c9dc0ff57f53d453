package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/api"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/config"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/events"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/events/kafka"
	interfaces "github.com/sheikh-saqib/reentrancy-ledger-lab/internal/interfaces"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/logging"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/scenario"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ledgerOpts, err := cfg.Vault.LedgerOptions()
	if err != nil {
		logger.Fatal("invalid vault config", zap.Error(err))
	}

	var publisher interfaces.EventPublisher = events.NewLogPublisher(logger)
	if len(cfg.Kafka.Brokers) > 0 {
		kp := kafka.NewPublisher(cfg.Kafka.Brokers)
		defer kp.Close()
		publisher = kp
		logger.Info("publishing transfer events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	userFunds, userDeposit, attackerFunds, _ := cfg.Scenario.Amounts()
	world, err := scenario.NewWorld(ctx, scenario.Setup{
		UserFunds:     userFunds,
		UserDeposit:   userDeposit,
		AttackerFunds: attackerFunds,
	}, scenario.WithLogger(logger), scenario.WithPublisher(publisher), scenario.WithEventTopic(cfg.Kafka.Topic), scenario.WithLedgerOptions(ledgerOpts...))
	if err != nil {
		logger.Fatal("failed to set up world", zap.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(world, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting server", zap.String("addr", cfg.Server.Addr),
		zap.Stringer("vault", world.Vault.Address()),
		zap.Stringer("drainer", world.Drainer.Address()))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
