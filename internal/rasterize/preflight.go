package rasterize

import (
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageCount reads and validates the PDF at path and returns its page count.
func PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	n, err := api.PageCount(f, conf)
	if err != nil {
		return 0, fmt.Errorf("pdfcpu read %s: %w", path, err)
	}
	return n, nil
}
