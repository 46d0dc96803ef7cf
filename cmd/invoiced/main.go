package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/egtimer/invoice-ai-processor/internal/common"
	"github.com/egtimer/invoice-ai-processor/internal/docparse"
	"github.com/egtimer/invoice-ai-processor/internal/export"
	"github.com/egtimer/invoice-ai-processor/internal/extract"
	"github.com/egtimer/invoice-ai-processor/internal/jobs"
	"github.com/egtimer/invoice-ai-processor/internal/llm"
	"github.com/egtimer/invoice-ai-processor/internal/pipeline"
	"github.com/egtimer/invoice-ai-processor/internal/repository"
	"github.com/egtimer/invoice-ai-processor/internal/server"
	"github.com/egtimer/invoice-ai-processor/internal/storage"
	"github.com/egtimer/invoice-ai-processor/internal/validate"
)

func main() {
	cfg := common.LoadConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := repository.Open(cfg.Database)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := repository.Migrate(db, cfg.Database.Driver); err != nil {
		logger.Error("run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database ready", "driver", cfg.Database.Driver)

	files, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Error("init storage", "error", err)
		os.Exit(1)
	}

	var parser docparse.LayoutParser
	if cfg.Parser.URL != "" {
		parser = docparse.NewClient(cfg.Parser.URL, cfg.Parser.Timeout, logger)
	} else {
		parser = docparse.NewNativeParser(logger)
	}
	normalizer := docparse.NewNormalizer(parser, cfg.Upload.MaxFileSize, logger)

	docRepo := repository.NewDocumentRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	jobStore := jobs.NewStore()

	llmClient := llm.NewClient(cfg.LLM, logger)

	pipe := &pipeline.Pipeline{
		Logger:     logger,
		Normalizer: normalizer,
		Local:      extract.NewLocalExtractor(logger),
		Evaluator:  extract.NewEvaluator(cfg.Extraction),
		LLM:        llmClient,
		Validator:  validate.NewValidator(cfg.Extraction.ReviewThreshold, logger),
		Invoices:   invoiceRepo,
		Files:      files,
		Jobs:       jobStore,
	}
	coordinator := pipeline.NewCoordinator(pipe, docRepo, jobStore, logger, cfg.Processing)

	exporter := export.NewService(invoiceRepo, logger)
	handler := server.NewInvoiceHandler(
		coordinator, normalizer, docRepo, invoiceRepo, files, exporter,
		cfg.Upload.MaxFileSize, llmClient.Configured(), logger,
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.NewRouter(handler, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http serving", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	coordinator.Shutdown(shutdownCtx)
	logger.Info("stopped")
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
