package storage

import (
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	ocrerrors "github.com/adverant/nexus/ocr-worker/internal/errors"
)

// LoadImage decodes the image at path, applying EXIF orientation. PNG, JPEG,
// GIF, TIFF and BMP are supported.
func LoadImage(path string) (image.Image, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ocrerrors.NewSourceNotFoundError(path, err)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return img, nil
}

// SaveText writes text to path as UTF-8, replacing any existing file.
func SaveText(text, path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("error saving text to file %s: %w", path, err)
	}
	return nil
}

// SaveImage encodes img in the format implied by the extension of path.
func SaveImage(img image.Image, path string) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("error saving image to file %s: %w", path, err)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
