package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageManagerWithoutDatabase(t *testing.T) {
	out := t.TempDir()
	sm, err := NewStorageManager("", out)
	require.NoError(t, err)
	defer sm.Close()

	assert.False(t, sm.Persistent())
	assert.NoError(t, sm.Ping(context.Background()))
	assert.NoError(t, sm.UpdateJobStatus(context.Background(), &JobUpdate{JobID: "x", Status: StatusProcessing}))

	_, err = sm.GetJobByID(context.Background(), "x")
	assert.ErrorIs(t, err, errNoDatabase)
	_, err = sm.ListItems(context.Background(), "x")
	assert.ErrorIs(t, err, errNoDatabase)

	assert.Equal(t, out, sm.GetStats()["output_dir"])
}

func TestStoreBatchResultWritesSucceededItems(t *testing.T) {
	out := t.TempDir()
	sm, err := NewStorageManager("", out)
	require.NoError(t, err)

	items := []ItemRecord{
		{Position: 0, Path: "scans/a.png", Kind: "image", Status: ItemSucceeded, Text: "Hello"},
		{Position: 1, Path: "other/a.png", Kind: "image", Status: ItemSucceeded, Text: "World"},
		{Position: 2, Path: "c.txt", Kind: "unsupported", Status: ItemUnsupported, Text: "Unsupported file format: c.txt"},
		{Position: 3, Path: "gone.png", Kind: "image", Status: ItemFailed, Text: "SOURCE_NOT_FOUND: File not found: gone.png"},
	}
	require.NoError(t, sm.StoreBatchResult(context.Background(), "job-1", items))

	entries, err := os.ReadDir(filepath.Join(out, "job-1"))
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"0000_a.txt", "0001_a.txt"}, names)

	data, err := os.ReadFile(filepath.Join(out, "job-1", "0001_a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "World", string(data))
}

func TestStoreBatchResultRequiresJobID(t *testing.T) {
	sm, err := NewStorageManager("", "")
	require.NoError(t, err)
	assert.Error(t, sm.StoreBatchResult(context.Background(), "", nil))
}

func TestTextFileName(t *testing.T) {
	assert.Equal(t, "0007_report.txt", TextFileName(7, "/data/in/report.PDF"))
	assert.Equal(t, "0000_noext.txt", TextFileName(0, "noext"))
}

func TestSanitizers(t *testing.T) {
	assert.Equal(t, 0.8532, sanitizeConfidence(0.85320000001))
	assert.Equal(t, 1.0, sanitizeConfidence(1.7))
	assert.Equal(t, 0.0, sanitizeConfidence(-0.2))

	assert.Equal(t, "abc", sanitizeText("a\x00b\x00c"))

	in := []byte(`{"text":"a\u0000b\u0007c"}`)
	assert.Equal(t, `{"text":"ab c"}`, string(sanitizeJSONForPostgres(in)))
}
