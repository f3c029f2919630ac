// Package storage persists evidence images to the local detections
// directory.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"phonewatch-service/internal/domain/monitor"
)

// ArtifactStore writes detection snapshots as JPEG files named by
// capture time plus a short unique suffix.
type ArtifactStore struct {
	dir string
}

func NewArtifactStore(dir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating artifact dir %s: %w", dir, err)
	}
	return &ArtifactStore{dir: dir}, nil
}

func (s *ArtifactStore) Dir() string { return s.dir }

func (s *ArtifactStore) Save(frame monitor.Frame) (string, error) {
	ts := frame.CapturedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	name := fmt.Sprintf("phone_%s_%s.jpg", ts.Format("20060102_150405"), uuid.NewString()[:8])
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, frame.JPEG, 0o644); err != nil {
		return "", fmt.Errorf("writing artifact %s: %w", path, err)
	}
	return path, nil
}
