package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"marketsync/internal/config"
	"marketsync/internal/ingest"
	"marketsync/internal/provider"
	"marketsync/internal/store"
	"marketsync/internal/util"
)

func main() {
	cfgFlag := flag.String("config", "", "path to config file")
	mode := flag.String("mode", ingest.ModeDaily, "run mode: daily or historical")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols (default: configured universe)")
	startFlag := flag.String("start", "", "historical load start date YYYY-MM-DD (default: configured)")
	flag.Parse()

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

	symbols := cfg.Ingest.Symbols
	if *symbolsFlag != "" {
		symbols = nil
		for _, s := range strings.Split(*symbolsFlag, ",") {
			if s = strings.TrimSpace(s); s != "" {
				symbols = append(symbols, strings.ToUpper(s))
			}
		}
	}

	st, err := store.Open(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	quote, err := provider.New(cfg.Providers.Quote, cfg.Providers)
	if err != nil {
		log.Fatalf("failed to build quote provider: %v", err)
	}
	series, err := provider.New(cfg.Providers.Series, cfg.Providers)
	if err != nil {
		log.Fatalf("failed to build series provider: %v", err)
	}

	pipeline := ingest.New(st, ingest.Options{
		QuoteClient:    quote,
		SeriesClient:   series,
		QuoteInterval:  provider.RequestInterval(cfg.Providers.Quote, cfg.Providers),
		SeriesInterval: provider.RequestInterval(cfg.Providers.Series, cfg.Providers),
		MaxRetries:     cfg.Ingest.MaxRetries,
		BaseRetryDelay: cfg.Ingest.BaseRetryDelay(),
		SymbolInterval: cfg.Ingest.SymbolInterval(),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var summary *ingest.Summary
	switch *mode {
	case ingest.ModeDaily:
		summary, err = pipeline.Run(ctx, symbols)
	case ingest.ModeHistorical:
		start, perr := cfg.Ingest.HistoricalStartDate()
		if perr != nil {
			log.Fatalf("invalid config: %v", perr)
		}
		if *startFlag != "" {
			start, perr = time.Parse("2006-01-02", *startFlag)
			if perr != nil {
				log.Fatalf("invalid -start: %v", perr)
			}
		}
		summary, err = pipeline.RunHistorical(ctx, symbols, start)
	default:
		log.Fatalf("unknown -mode %q (want daily or historical)", *mode)
	}
	if err != nil {
		log.Fatalf("run failed: %v", err)
	}

	for _, r := range summary.Results {
		if r.Err != nil {
			slog.Error("symbol failed", "symbol", r.Symbol, "error", r.Err)
			continue
		}
		slog.Info("symbol done", "symbol", r.Symbol,
			"backfilled", r.Backfilled, "inserted", r.Inserted, "skipped", r.Skipped,
			"rows", r.TotalRows, "latest", r.LatestDate.Format("2006-01-02"))
	}

	if summary.Failed() > 0 {
		os.Exit(1)
	}
}
