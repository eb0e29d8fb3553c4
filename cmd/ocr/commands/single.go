package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	imageOut     string
	imageEnhance bool
	pdfOut       string
	pdfDPI       int
	enhanceOut   string
)

var imageCmd = &cobra.Command{
	Use:   "image <path>",
	Short: "Extract text from one image",
	Args:  cobra.ExactArgs(1),
	RunE:  runImage,
}

var pdfCmd = &cobra.Command{
	Use:   "pdf <path>",
	Short: "Extract text from every page of a PDF",
	Args:  cobra.ExactArgs(1),
	RunE:  runPDF,
}

var enhanceCmd = &cobra.Command{
	Use:   "enhance <path>",
	Short: "Write a denoised, binarized copy of an image",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnhance,
}

func init() {
	imageCmd.Flags().StringVarP(&imageOut, "out", "o", "", "also save the text to this file")
	imageCmd.Flags().BoolVar(&imageEnhance, "enhance", false, "recognize the enhanced image instead of running the pipeline")
	pdfCmd.Flags().StringVarP(&pdfOut, "out", "o", "", "also save the text to this file")
	pdfCmd.Flags().IntVar(&pdfDPI, "dpi", 0, "rasterization resolution (default PDF_DPI)")
	enhanceCmd.Flags().StringVarP(&enhanceOut, "out", "o", "", "output image path (default <name>_enhanced.png)")

	rootCmd.AddCommand(imageCmd, pdfCmd, enhanceCmd)
}

func runImage(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	proc, _, _, err := newProcessor()
	if err != nil {
		return err
	}

	path := args[0]
	var text string
	if imageEnhance {
		text, err = proc.ProcessImageWithEnhancement(ctx, path)
	} else {
		text, err = proc.ProcessImage(ctx, path)
	}
	if err != nil {
		return err
	}

	if imageOut != "" {
		if err := proc.SaveText(text, imageOut); err != nil {
			return err
		}
	}
	return printText(cmd.OutOrStdout(), path, text)
}

func runPDF(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	proc, _, _, err := newProcessor()
	if err != nil {
		return err
	}

	path := args[0]
	text, err := proc.ProcessPDF(ctx, path, pdfDPI)
	if err != nil {
		return err
	}

	if pdfOut != "" {
		if err := proc.SaveText(text, pdfOut); err != nil {
			return err
		}
	}
	return printText(cmd.OutOrStdout(), path, text)
}

func runEnhance(cmd *cobra.Command, args []string) error {
	proc, _, _, err := newProcessor()
	if err != nil {
		return err
	}

	path := args[0]
	out := enhanceOut
	if out == "" {
		out = enhancedName(path)
	}

	img, err := proc.EnhanceImage(cmd.Context(), path, out)
	if err != nil {
		return err
	}

	b := img.Bounds()
	if jsonOutput {
		return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
			"input":  path,
			"output": out,
			"width":  b.Dx(),
			"height": b.Dy(),
		})
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (%dx%d)\n", out, b.Dx(), b.Dy())
	return err
}

func enhancedName(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_enhanced.png"
}
