package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/adverant/nexus/ocr-worker/internal/config"
	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/queue"
)

var (
	enqueueDPI     int
	enqueueJobID   string
	enqueueRetries int
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <path>...",
	Short: "Submit a batch job to the worker queue",
	Long: `Builds a batch job from the given paths and pushes it onto the queue
configured by REDIS_URL, QUEUE_NAME and QUEUE_BACKEND. Paths are made absolute
so the worker resolves them independently of this shell's directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEnqueue,
}

func init() {
	enqueueCmd.Flags().IntVar(&enqueueDPI, "dpi", 0, "rasterization resolution for PDFs (default: worker setting)")
	enqueueCmd.Flags().StringVar(&enqueueJobID, "job-id", "", "job ID (default: a new UUID)")
	enqueueCmd.Flags().IntVar(&enqueueRetries, "retries", 0, "max attempts for the redis backend (default 3)")
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	req, err := buildJobRequest(cfg, args)
	if err != nil {
		return err
	}

	switch cfg.QueueBackend {
	case config.BackendRedis:
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		client := redis.NewClient(opt)
		defer client.Close()
		if err := queue.EnqueueRedis(ctx, client, cfg.QueueName, req, enqueueRetries); err != nil {
			return err
		}
	default:
		producer, err := queue.NewProducer(cfg.RedisURL, cfg.QueueName)
		if err != nil {
			return err
		}
		defer producer.Close()
		if _, err := producer.Enqueue(ctx, req, cfg.ProcessingTimeout); err != nil {
			return err
		}
	}

	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
			"jobId":   req.JobID,
			"queue":   cfg.QueueName,
			"backend": cfg.QueueBackend,
			"items":   len(req.Paths),
		})
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), req.JobID)
	return err
}

// buildJobRequest turns CLI arguments into a validated job request. The
// pipeline is only sent when a profile or --raw overrides the worker's own.
func buildJobRequest(cfg *config.Config, args []string) (*processor.JobRequest, error) {
	id := enqueueJobID
	if id == "" {
		id = uuid.New().String()
	}

	paths := make([]string, 0, len(args))
	for _, a := range args {
		abs, err := filepath.Abs(a)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", a, err)
		}
		paths = append(paths, abs)
	}

	req := &processor.JobRequest{JobID: id, Paths: paths, DPI: enqueueDPI}

	switch {
	case !cfg.Preprocess:
		// the zero config disables every stage
		req.Pipeline = &preprocess.Config{}
	case strings.TrimSpace(cfg.PipelineProfile) != "":
		pc, err := cfg.PipelineConfig()
		if err != nil {
			return nil, err
		}
		req.Pipeline = pc
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}
