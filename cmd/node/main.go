package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/yogeshk/obex/params"
	"github.com/yogeshk/obex/pkg/api"
	"github.com/yogeshk/obex/pkg/exchange"
	"github.com/yogeshk/obex/pkg/exchange/events"
	"github.com/yogeshk/obex/pkg/exchange/seed"
	"github.com/yogeshk/obex/pkg/exchange/token"
	"github.com/yogeshk/obex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and rotating file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile)

	// ---- Storage ----
	store, err := exchange.NewStore(cfg.Node.DBPath)
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Node.DBPath, "err", err)
	}

	// ---- WebSocket hub + record stream ----
	hub := api.NewHub(sugar)
	emitter := events.Multi{
		events.Log{L: sugar},
		api.NewHubEmitter(hub),
	}

	// ---- Exchange core ----
	registry := token.NewRegistry()
	x, err := exchange.New(exchange.Config{
		Custody:    cfg.Exchange.Custody,
		FeeAccount: cfg.Exchange.FeeAccount,
		FeePercent: cfg.Exchange.FeePercent,
		Registry:   registry,
		Store:      store,
		Emitter:    emitter,
	})
	if err != nil {
		sugar.Fatalw("exchange_init_failed", "err", err)
	}
	defer x.Close()

	sugar.Infow("exchange_initialized",
		"fee_account", cfg.Exchange.FeeAccount.Hex(),
		"fee_percent", cfg.Exchange.FeePercent,
		"orders", x.OrderCount())

	// ---- Devnet seeding (optional) ----
	// Enable with: SEED=true (only against an empty database)
	if cfg.Node.Seed {
		if x.OrderCount() > 0 {
			sugar.Warnw("seed_skipped", "reason", "database not empty", "orders", x.OrderCount())
		} else if err := seed.Run(x, registry, cfg.Exchange.Custody, sugar); err != nil {
			sugar.Fatalw("seed_failed", "err", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API server ----
	apiServer := api.NewServer(x, registry, hub, sugar)
	go func() {
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("node_started", "api_addr", cfg.Node.APIAddr)

	<-ctx.Done()
	sugar.Info("shutting down")
}
