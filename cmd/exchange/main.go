// Command exchange wires together the matching core: it loads
// configuration, opens the ledger's backing store, starts one
// SymbolActor+Mailbox per configured symbol, and starts the periodic
// liquidation scanner. It does not open an HTTP/WS listener; client
// order API and market data transport framing are intentionally out of
// scope, and this is the process a transport layer built on top
// of this module would embed.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/orbitcex/exchange-core/internal/config"
	"github.com/orbitcex/exchange-core/internal/ledger"
	"github.com/orbitcex/exchange-core/internal/matching"
	"github.com/orbitcex/exchange-core/internal/money"
	"github.com/orbitcex/exchange-core/internal/risk"
	"github.com/orbitcex/exchange-core/internal/telemetry"
	"github.com/orbitcex/exchange-core/internal/venue"
	"github.com/orbitcex/exchange-core/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML/JSON config file (env vars override)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := openDB(cfg)
	if err != nil {
		zapLogger.Fatal("failed to open ledger store", zap.Error(err))
	}

	led, err := ledger.New(db, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to construct ledger", zap.Error(err))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx)
	if err != nil {
		zapLogger.Fatal("failed to set up tracing", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	if err := led.Replay(ctx); err != nil {
		zapLogger.Fatal("failed to replay posting log", zap.Error(err))
	}

	mailboxes := make(map[string]*matching.Mailbox, len(cfg.Symbols))
	placers := make(map[string]risk.OrderPlacer, len(cfg.Symbols))
	positions := risk.NewBook()

	for _, spec := range cfg.Symbols {
		symCfg, err := cfg.ToSymbolConfig(spec)
		if err != nil {
			zapLogger.Fatal("invalid symbol config", zap.String("symbol", spec.Symbol), zap.Error(err))
		}
		actor, err := matching.NewSymbolActor(symCfg, led, zapLogger.Named("actor."+spec.Symbol))
		if err != nil {
			zapLogger.Fatal("failed to start symbol actor", zap.String("symbol", spec.Symbol), zap.Error(err))
		}
		if len(cfg.KafkaBrokers) > 0 {
			actor.WithEvents(matching.NewEventPublisher(cfg.KafkaBrokers, zapLogger))
		}
		actor.WithPositionOracle(positions)
		mb := matching.NewMailbox(actor, cfg.MailboxHighWaterMark)
		mailboxes[spec.Symbol] = mb
		placers[spec.Symbol] = actor
	}

	venueRegistry := venue.NewRegistry(nil, nil, cfg.FreshnessBound, zapLogger)
	for _, v := range cfg.Venues {
		if !v.Enabled {
			continue
		}
		zapLogger.Info("venue configured but no adapter registered; register one via venue.Registry.Register before starting", zap.String("venue", v.Name))
	}
	_ = venueRegistry

	insurance := risk.NewInsuranceFund(usdt())
	scanner := risk.NewScanner(positions, placers, insurance, cfg.LiquidationScanInterval, zapLogger)
	go scanner.Run(ctx)

	zapLogger.Info("exchange core started", zap.Int("symbols", len(mailboxes)))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	zapLogger.Info("shutting down")
	cancel()
	for symbol, mb := range mailboxes {
		zapLogger.Info("draining mailbox", zap.String("symbol", symbol))
		mb.Close()
	}
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PostgresDSN != "" {
		return gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	}
	return gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
}

func usdt() money.Asset { return money.Asset{Symbol: "USDT", Scale: 6} }
