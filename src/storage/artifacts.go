package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"fare-observer/src/logger"

	"github.com/klauspost/compress/gzip"
)

// FileArtifactStore keeps one gzip-compressed artifact per model version.
type FileArtifactStore struct {
	Dir    string
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewFileArtifactStore(dir string, log *logger.Logger) (*FileArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model dir %s: %w", dir, err)
	}
	return &FileArtifactStore{Dir: dir, Logger: log}, nil
}

// -----------------------------------------------------------------------------

// Save writes through a temp file and renames so readers never see a partial artifact.
func (s *FileArtifactStore) Save(version string, data []byte) (string, error) {
	path := filepath.Join(s.Dir, version+".json.gz")

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return "", err
	}
	if _, err := zw.Write(data); err != nil {
		return "", fmt.Errorf("failed to compress artifact %s: %w", version, err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to compress artifact %s: %w", version, err)
	}

	tmp, err := os.CreateTemp(s.Dir, version+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to stage artifact %s: %w", version, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write artifact %s: %w", version, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write artifact %s: %w", version, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to publish artifact %s: %w", version, err)
	}

	s.Logger.Debug("Saved artifact %s (%d -> %d bytes)", path, len(data), buf.Len())
	return path, nil
}

// -----------------------------------------------------------------------------

func (s *FileArtifactStore) Load(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("artifact %s is not gzip: %w", path, err)
	}
	defer zr.Close()

	return io.ReadAll(zr)
}

// -----------------------------------------------------------------------------

func (s *FileArtifactStore) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// -----------------------------------------------------------------------------

// Delete removes an artifact that no registry record refers to. A missing
// file is not an error.
func (s *FileArtifactStore) Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete artifact %s: %w", path, err)
	}
	s.Logger.Debug("Deleted artifact %s", path)
	return nil
}
