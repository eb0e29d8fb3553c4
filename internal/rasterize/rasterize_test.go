package rasterize

import (
	"context"
	"errors"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ocrerrors "github.com/adverant/nexus/ocr-worker/internal/errors"
	"github.com/adverant/nexus/ocr-worker/internal/logging"
)

func TestFitzMissingFileIsSourceNotFound(t *testing.T) {
	_, err := NewFitz().Rasterize(context.Background(), filepath.Join(t.TempDir(), "missing.pdf"), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ocrerrors.ErrSourceNotFound))
}

func TestFitzUnreadableDirectoryIsNotSourceNotFound(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	dir := filepath.Join(t.TempDir(), "locked")
	require.NoError(t, os.Mkdir(dir, 0o755))
	path := filepath.Join(dir, "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n"), 0o644))
	require.NoError(t, os.Chmod(dir, 0o000))
	t.Cleanup(func() { _ = os.Chmod(dir, 0o755) })

	_, err := NewFitz().Rasterize(context.Background(), path, 0)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ocrerrors.ErrSourceNotFound))
	assert.True(t, errors.Is(err, fs.ErrPermission))
}

func TestPreflightRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf at all"), 0o644))

	_, err := PageCount(path)
	assert.Error(t, err)

	_, err = NewFitz(WithPreflight()).Rasterize(context.Background(), path, 72)
	assert.Error(t, err)
}

func TestTolerantSwallowsErrors(t *testing.T) {
	failing := RasterizerFunc(func(context.Context, string, int) ([]image.Image, error) {
		return nil, errors.New("corrupt xref table")
	})

	pages, err := NewTolerant(failing, logging.Nop()).Rasterize(context.Background(), "b.pdf", DefaultDPI)
	require.NoError(t, err)
	assert.NotNil(t, pages)
	assert.Empty(t, pages)
}

func TestTolerantPassesPagesThrough(t *testing.T) {
	var gotDPI int
	page := image.NewGray(image.Rect(0, 0, 1, 1))
	inner := RasterizerFunc(func(_ context.Context, _ string, dpi int) ([]image.Image, error) {
		gotDPI = dpi
		return []image.Image{page, page}, nil
	})

	pages, err := NewTolerant(inner, nil).Rasterize(context.Background(), "b.pdf", 150)
	require.NoError(t, err)
	assert.Len(t, pages, 2)
	assert.Equal(t, 150, gotDPI)
}

func TestTolerantMissingFileYieldsNoPages(t *testing.T) {
	pages, err := NewTolerant(NewFitz(), nil).Rasterize(context.Background(), filepath.Join(t.TempDir(), "gone.pdf"), 0)
	require.NoError(t, err)
	assert.Empty(t, pages)
}
