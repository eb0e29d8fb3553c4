/**
 * OCR Worker - Main Entry Point
 *
 * Go worker for batch OCR of scanned documents.
 *
 * Architecture:
 * - Asynq or plain Redis LIST consumer for the job queue
 * - Preprocessing pipeline (rescale, grayscale, denoise, CLAHE, threshold,
 *   morphology, edges, sharpen) in front of Tesseract
 * - go-fitz rasterization for PDFs, one recognition per page
 * - Optional PostgreSQL persistence of job status and per-item results
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/adverant/nexus/ocr-worker/internal/app"
	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

func main() {
	bootLogger := logging.NewLogger("ocr-worker")

	if err := godotenv.Load(); err != nil {
		bootLogger.Info(".env not found, using system environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLogger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := app.NewLogger("ocr-worker", cfg)
	logger.Info("OCR worker starting",
		"backend", cfg.QueueBackend,
		"queue", cfg.QueueName,
		"workers", cfg.WorkerConcurrency,
		"batch_concurrency", cfg.BatchConcurrency,
		"dpi", cfg.PDFDPI,
		"persistent", cfg.DatabaseURL != "")

	storageManager, err := storage.NewStorageManager(cfg.DatabaseURL, cfg.OutputDir)
	if err != nil {
		logger.Error("Failed to initialize storage manager", "error", err)
		os.Exit(1)
	}

	proc, err := app.NewProcessor(cfg, nil, logger)
	if err != nil {
		logger.Error("Failed to initialize processor", "error", err)
		os.Exit(1)
	}

	runner := processor.NewJobRunner(proc, storageManager, cfg.ProcessingTimeout, logger)

	consumer, err := app.NewConsumer(cfg, runner, logger)
	if err != nil {
		logger.Error("Failed to initialize queue consumer", "error", err)
		os.Exit(1)
	}

	if err := consumer.Start(); err != nil {
		logger.Error("Failed to start queue consumer", "error", err)
		os.Exit(1)
	}

	if storageManager.Persistent() {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := storageManager.Ping(pingCtx); err != nil {
			logger.Warn("Database health check failed", "error", err)
		}
		cancel()
	}

	logger.Info("OCR worker is ready, waiting for jobs")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, initiating graceful shutdown", "signal", sig.String())

	logger.Info("Queue statistics", "stats", consumer.GetStatistics())

	if err := consumer.Stop(); err != nil {
		logger.Error("Error stopping queue consumer", "error", err)
	} else {
		logger.Info("Queue consumer stopped")
	}

	if err := storageManager.Close(); err != nil {
		logger.Error("Error closing storage manager", "error", err)
	}

	logger.Info("Shutdown complete", "storage", storageManager.GetStats())
}
