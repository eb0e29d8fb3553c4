package processor

import (
	"path/filepath"
	"strings"
)

// Kind is the processing route of a batch item.
type Kind string

const (
	KindPDF         Kind = "pdf"
	KindImage       Kind = "image"
	KindUnsupported Kind = "unsupported"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tiff": true,
	".bmp":  true,
	".gif":  true,
}

// Classify routes path by its extension, ignoring case.
func Classify(path string) Kind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case ext == ".pdf":
		return KindPDF
	case imageExtensions[ext]:
		return KindImage
	default:
		return KindUnsupported
	}
}
