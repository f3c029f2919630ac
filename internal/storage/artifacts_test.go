package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phonewatch-service/internal/domain/monitor"
)

func TestSaveWritesJPEGWithTimestampedName(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)

	frame := monitor.Frame{
		JPEG:       []byte{0xFF, 0xD8, 0xFF, 0xD9},
		CapturedAt: time.Date(2025, 6, 2, 8, 30, 15, 0, time.UTC),
	}
	path, err := store.Save(frame)
	require.NoError(t, err)

	assert.Contains(t, filepath.Base(path), "phone_20250602_083015_")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, frame.JPEG, data)
}

func TestSaveUniqueNamesForSameSecond(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir())
	require.NoError(t, err)

	frame := monitor.Frame{JPEG: []byte{1}, CapturedAt: time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)}
	a, err := store.Save(frame)
	require.NoError(t, err)
	b, err := store.Save(frame)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestNewArtifactStoreCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "detections")
	_, err := NewArtifactStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
