// Command botc runs the trailing-stop trading daemon: a single-threaded
// trading loop over the configured Kraken pairs plus a Telegram control
// plane for the authorized operator.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jAjiz/BoTC/config"
	"github.com/jAjiz/BoTC/engine"
	"github.com/jAjiz/BoTC/exchange"
	"github.com/jAjiz/BoTC/logger"
	"github.com/jAjiz/BoTC/store"
	"github.com/jAjiz/BoTC/telegram"
	"github.com/jAjiz/BoTC/trader"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	log, err := logger.New()
	if err != nil {
		os.Stderr.WriteString("logger init failed: " + err.Error() + "\n")
		return 1
	}

	cfg, err := config.New()
	if err != nil {
		log.Error("invalid configuration", logger.Err(err))
		return 1
	}

	st, err := store.New(cfg.DataDir)
	if err != nil {
		log.Error("state store init failed", logger.Err(err))
		return 1
	}

	kraken, err := exchange.NewKraken(cfg.KrakenAPIKey, cfg.KrakenAPISecret, cfg.ATRDataDays, log)
	if err != nil {
		log.Error("exchange client init failed", logger.Err(err))
		return 1
	}
	pairs, err := kraken.BuildPairsMap(cfg.Pairs)
	if err != nil {
		log.Error("pair bootstrap failed", logger.Err(err))
		return 1
	}
	if len(pairs) == 0 {
		log.Error("no configured pair resolved on the exchange")
		return 1
	}

	var paused atomic.Bool

	tg, err := telegram.New(cfg, kraken, st, &paused, pairs, log)
	if err != nil {
		log.Error("telegram init failed", logger.Err(err))
		return 1
	}

	eng, err := engine.New(kraken, st, cfg.Mode, cfg.TradingParams, pairs, cfg.MinAllocation, log, tg)
	if err != nil {
		log.Error("engine init failed", logger.Err(err))
		return 1
	}

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Error("metrics endpoint failed", logger.Err(err))
			}
		}()
	}

	go tg.Run()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t := trader.New(cfg, kraken, st, eng, pairs, &paused, log)
	if err := t.Run(ctx); err != nil {
		log.Error("trading loop failed", logger.Err(err))
		tg.Stop()
		return 1
	}

	log.Info("BoTC stopped by operator")
	tg.Notify("🛑 BoTC stopped manually by operator.")
	tg.Stop()
	return 0
}
