package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/ocr-worker/internal/app"
	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
)

var (
	cfgFile    string
	logLevel   string
	jsonOutput bool
	noPreproc  bool
)

var rootCmd = &cobra.Command{
	Use:   "ocr",
	Short: "Extract text from scanned images and PDFs",
	Long: `ocr preprocesses scanned pages (rescale, grayscale, denoise, contrast,
threshold, morphology, edges, sharpen) and recognizes them with Tesseract.
PDFs are rasterized page by page. Batches can run locally or be enqueued
for the worker.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "pipeline profile (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().BoolVar(&noPreproc, "raw", false, "send pages to the recognizer without preprocessing")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the environment (and .env) and applies the persistent flags.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfgFile != "" {
		cfg.PipelineProfile = cfgFile
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if noPreproc {
		cfg.Preprocess = false
	}
	return cfg, nil
}

// newLogger logs to stderr so stdout carries only results.
func newLogger(cfg *config.Config) *logging.Logger {
	return logging.NewLoggerWithConfig("ocr", logging.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stderr,
	})
}

func newProcessor() (*processor.Processor, *config.Config, *logging.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg)

	proc, err := app.NewProcessor(cfg, nil, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create processor: %w", err)
	}
	return proc, cfg, logger, nil
}

// printText writes one recognized document, as plain text or a JSON object.
func printText(w io.Writer, path, text string) error {
	if jsonOutput {
		return writeJSON(w, map[string]string{"path": path, "text": text})
	}
	_, err := io.WriteString(w, text)
	return err
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
