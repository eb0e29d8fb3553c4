package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/storage"
)

var batchOutDir string

var batchCmd = &cobra.Command{
	Use:   "batch <path>...",
	Short: "Extract text from a batch of images and PDFs",
	Long: `Processes every path and prints a mapping from path to extracted text.
Failed and unsupported items are reported in place of their text; the
command itself only fails on usage or configuration errors.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVarP(&batchOutDir, "out-dir", "o", "", "write one <name>.txt per successful item")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	proc, _, logger, err := newProcessor()
	if err != nil {
		return err
	}

	result := proc.ProcessBatch(ctx, args)

	if batchOutDir != "" {
		names := outputNames(result.Keys())
		for _, path := range result.Keys() {
			e, _ := result.Entry(path)
			if e.Failed() || e.Kind == processor.KindUnsupported {
				continue
			}
			if err := proc.SaveText(e.Value, filepath.Join(batchOutDir, names[path])); err != nil {
				return err
			}
		}
	}

	if result.FailedCount() > 0 {
		logger.Warn("Some items failed", "failed", result.FailedCount(), "items", result.Len())
	}
	return printBatch(cmd.OutOrStdout(), result)
}

func printBatch(w io.Writer, result *processor.BatchResult) error {
	if jsonOutput {
		return writeJSON(w, result)
	}
	for _, path := range result.Keys() {
		value, _ := result.Get(path)
		if _, err := fmt.Fprintf(w, "==> %s <==\n%s\n", path, strings.TrimRight(value, "\n")); err != nil {
			return err
		}
	}
	return nil
}

// outputNames maps each path to <name>.txt, falling back to the
// position-prefixed storage name when two paths share a base name.
func outputNames(paths []string) map[string]string {
	plain := make(map[string]int, len(paths))
	for _, p := range paths {
		plain[textName(p)]++
	}

	names := make(map[string]string, len(paths))
	for i, p := range paths {
		name := textName(p)
		if plain[name] > 1 {
			name = storage.TextFileName(i, p)
		}
		names[p] = name
	}
	return names
}

func textName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".txt"
}
