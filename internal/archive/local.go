package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalProvider archives raw HTML under a base directory on local disk.
type LocalProvider struct {
	baseDir string
}

// NewLocalProvider validates the base directory, creating it if needed.
func NewLocalProvider(baseDir string) (*LocalProvider, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("archive base directory is required")
	}

	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create archive directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat archive directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("archive path %q is not a directory", baseDir)
	}

	return &LocalProvider{baseDir: baseDir}, nil
}

// Save writes data to baseDir/objectKey, creating parent directories.
func (l *LocalProvider) Save(_ context.Context, objectKey string, data []byte) error {
	fullPath := filepath.Join(l.baseDir, objectKey)

	// Reject keys that would escape the base directory.
	cleanBase := filepath.Clean(l.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBase+string(filepath.Separator)) {
		return fmt.Errorf("object key %q escapes archive directory", objectKey)
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("create archive subdirectory: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return fmt.Errorf("write archive file: %w", err)
	}
	return nil
}

// Location returns the base directory.
func (l *LocalProvider) Location() string { return l.baseDir }
