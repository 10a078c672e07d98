// datasheetd is the datasheet processing service. Run with a PDF path for a
// one-shot processing pass, or with no arguments to hold the stores open for
// an embedding shell until interrupted.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/worida2025/sonatrach-manager/internal/chat"
	"github.com/worida2025/sonatrach-manager/internal/config"
	"github.com/worida2025/sonatrach-manager/internal/docstore"
	"github.com/worida2025/sonatrach-manager/internal/engine"
	"github.com/worida2025/sonatrach-manager/internal/knowledge"
	"github.com/worida2025/sonatrach-manager/internal/storage"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			printVersion()
			return
		}
	}

	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if version != "dev" {
		cfg.Version = version
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("datasheetd failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	knowledgeStore := knowledge.NewStore(db)
	if err := knowledgeStore.Migrate(ctx); err != nil {
		return err
	}
	docs := docstore.NewStore(db)
	if err := docs.Migrate(ctx); err != nil {
		return err
	}

	model := chat.NewAnthropicClient(cfg.APIKey, cfg.ModelName, cfg.ModelMaxTokens)
	svc := engine.NewService(cfg, knowledgeStore, docs, model, logger)

	if args := pflag.Args(); len(args) > 0 {
		return processFile(ctx, svc, args[0])
	}

	logger.Info("datasheetd ready",
		zap.String("version", cfg.Version),
		zap.String("database", cfg.DatabasePath),
		zap.String("model", cfg.ModelName),
	)

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	sig := <-signalCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
	return nil
}

// processFile runs one upload through the engine and prints the result
func processFile(ctx context.Context, svc *engine.Service, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	result, err := svc.Process(ctx, data, path)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// newLogger builds the process logger from the configured level
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.IsDebug() {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = level
	return zapCfg.Build()
}

func printVersion() {
	fmt.Printf("datasheetd %s\n", version)
	fmt.Printf("  build time: %s\n", buildTime)
	fmt.Printf("  git commit: %s\n", gitCommit)
}
