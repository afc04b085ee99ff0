package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"marketsync/internal/config"
	"marketsync/internal/httpapi"
	"marketsync/internal/ingest"
	"marketsync/internal/provider"
	"marketsync/internal/store"
	"marketsync/internal/util"
)

func main() {
	cfgFlag := flag.String("config", "", "path to config file")
	flag.Parse()

	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfgPath := "config/marketsync.yaml"
	if p := os.Getenv("MARKETSYNC_CONFIG"); p != "" {
		cfgPath = p
	}
	if *cfgFlag != "" {
		cfgPath = *cfgFlag
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	util.SetDefault(util.NewLogger(cfg.Logging.Level))

	st, err := store.Open(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	pipeline, err := buildPipeline(st, cfg)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	start, err := cfg.Ingest.HistoricalStartDate()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	api := httpapi.NewServer(st, pipeline, cfg.Ingest.Symbols, start)
	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     api.Handler(),
		ReadTimeout: 30 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		slog.Info("marketsync-server listening", "addr", srv.Addr, "driver", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
}

// buildPipeline wires the configured providers into an ingestion pipeline.
func buildPipeline(st store.StockStore, cfg *config.Config) (*ingest.Pipeline, error) {
	quote, err := provider.New(cfg.Providers.Quote, cfg.Providers)
	if err != nil {
		return nil, err
	}
	series, err := provider.New(cfg.Providers.Series, cfg.Providers)
	if err != nil {
		return nil, err
	}

	return ingest.New(st, ingest.Options{
		QuoteClient:    quote,
		SeriesClient:   series,
		QuoteInterval:  provider.RequestInterval(cfg.Providers.Quote, cfg.Providers),
		SeriesInterval: provider.RequestInterval(cfg.Providers.Series, cfg.Providers),
		MaxRetries:     cfg.Ingest.MaxRetries,
		BaseRetryDelay: cfg.Ingest.BaseRetryDelay(),
		SymbolInterval: cfg.Ingest.SymbolInterval(),
	}), nil
}
