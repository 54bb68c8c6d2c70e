package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/recallengine/internal/config"
	"github.com/example/recallengine/internal/database"
	"github.com/example/recallengine/internal/engine"
	"github.com/example/recallengine/internal/excel"
	"github.com/example/recallengine/internal/logger"
	"github.com/example/recallengine/internal/scheduler"
)

func main() {
	importPath := flag.String("import", "", "import a concept catalog from the given xlsx/csv file and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	if err := database.Connect(cfg); err != nil {
		log.Fatal("failed to connect to database", "error", err)
	}
	defer database.Close()

	if *importPath != "" {
		runImport(log, *importPath)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(cfg, log)
	sched := scheduler.New(eng, cfg, log)
	sched.Start(ctx)
	log.Info("engine started",
		"db_type", cfg.DBType,
		"target_retention", cfg.TargetRetention,
		"train_hour_utc", cfg.TrainHourUTC)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("shutting down", "signal", sig.String())

	cancel()
	sched.Stop()
	log.Info("engine stopped")
}

func runImport(log *logger.Logger, path string) {
	importCfg := excel.DefaultImportConfig()
	importCfg.FilePath = path
	result, err := excel.ImportConcepts(context.Background(), importCfg)
	if err != nil {
		log.Fatal("import failed", "path", path, "error", err)
	}
	log.Info("import finished",
		"processed", result.TotalProcessed,
		"created", result.Created,
		"updated", result.Updated,
		"seeded", result.Seeded,
		"skipped", result.Skipped,
		"errors", len(result.Errors))
	for _, e := range result.Errors {
		log.Warn("import row error", "detail", e)
	}
}
