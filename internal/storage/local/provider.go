// Package local implements a local filesystem record provider.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/pagewatch/internal/storage"
)

const recordExt = ".json"

// Config captures the parameters for the local filesystem provider.
type Config struct {
	// BaseDir is the directory holding one <key>.json file per target.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// Provider writes records to the local filesystem.
type Provider struct {
	baseDir string
}

// New creates a filesystem-backed provider, creating BaseDir when missing.
func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &Provider{baseDir: cfg.BaseDir}, nil
}

// Put atomically replaces the record file for key.
func (p *Provider) Put(_ context.Context, key string, data []byte) error {
	fullPath, err := p.pathFor(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(p.baseDir, ".record-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace record: %w", err)
	}
	return nil
}

// Delete removes the record file for key.
func (p *Provider) Delete(_ context.Context, key string) error {
	fullPath, err := p.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("failed to remove record: %w", err)
	}
	return nil
}

// List reads every *.json record in BaseDir. Unreadable files are returned
// with empty data so the caller can report them.
func (p *Provider) List(_ context.Context) ([]storage.Object, error) {
	entries, err := os.ReadDir(p.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read base directory: %w", err)
	}
	objects := make([]storage.Object, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, recordExt) {
			continue
		}
		// #nosec G304 -- name comes from listing the configured directory.
		data, readErr := os.ReadFile(filepath.Join(p.baseDir, name))
		if readErr != nil {
			data = nil
		}
		objects = append(objects, storage.Object{
			Key:  strings.TrimSuffix(name, recordExt),
			Data: data,
		})
	}
	return objects, nil
}

func (p *Provider) pathFor(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	fullPath := filepath.Join(p.baseDir, key+recordExt)

	// Clean the path and verify it's within baseDir to prevent path traversal.
	cleanBaseDir := filepath.Clean(p.baseDir)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}
