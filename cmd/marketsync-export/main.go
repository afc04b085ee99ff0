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
	"marketsync/internal/export"
	"marketsync/internal/store"
	"marketsync/internal/util"
)

func main() {
	cfgFlag := flag.String("config", "", "path to config file")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols (default: configured universe)")
	fromFlag := flag.String("from", "", "export window start YYYY-MM-DD (default: configured historical start)")
	toFlag := flag.String("to", "", "export window end YYYY-MM-DD (default: today)")
	dirFlag := flag.String("dir", "", "output directory (default: configured export_dir)")
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

	from, err := cfg.Ingest.HistoricalStartDate()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if *fromFlag != "" {
		from, err = time.Parse("2006-01-02", *fromFlag)
		if err != nil {
			log.Fatalf("invalid -from: %v", err)
		}
	}

	to := util.MidnightUTC(time.Now())
	if *toFlag != "" {
		to, err = time.Parse("2006-01-02", *toFlag)
		if err != nil {
			log.Fatalf("invalid -to: %v", err)
		}
	}

	dir := cfg.Storage.ExportDir
	if *dirFlag != "" {
		dir = *dirFlag
	}
	if dir == "" {
		log.Fatal("no output directory: set -dir or storage.export_dir")
	}

	st, err := store.Open(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	exporter := export.New(st, dir)
	n, err := exporter.Export(ctx, symbols, from, to)
	if err != nil {
		log.Fatalf("export failed: %v", err)
	}
	slog.Info("export complete", "bars", n, "dir", dir,
		"from", from.Format("2006-01-02"), "to", to.Format("2006-01-02"))
}
