package io

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/OFFIS-RIT/kinlink/backend/pkg/loader"

	"golang.org/x/sync/singleflight"
)

// IOTableFileLoader loads files directly from the local filesystem.
// Relative paths are resolved against BaseDir when one is set.
type IOTableFileLoader struct {
	baseDir string
	group   singleflight.Group
}

// NewIOTableFileLoader creates a new filesystem-based file loader.
func NewIOTableFileLoader(baseDir string) *IOTableFileLoader {
	return &IOTableFileLoader{baseDir: baseDir}
}

func (l *IOTableFileLoader) resolve(path string) string {
	if l.baseDir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.baseDir, path)
}

// GetFileBytes reads the file content from the filesystem. Concurrent reads
// of the same file share one read; later calls read the file again.
func (l *IOTableFileLoader) GetFileBytes(ctx context.Context, file loader.TableFile) ([]byte, error) {
	result, err, _ := l.group.Do(loader.CacheKey(file), func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		content, err := os.ReadFile(l.resolve(file.FilePath))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", file.FilePath, err)
		}
		return content, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}

// PutFileBytes writes content to path below the base directory, creating
// parent directories as needed.
func (l *IOTableFileLoader) PutFileBytes(ctx context.Context, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := l.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(full), err)
	}
	if err := os.WriteFile(full, content, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
