package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalBucket stores objects as files under a base directory. The HTTP API
// serves the directory under /images/, which is what PublicURL points at.
type LocalBucket struct {
	basePath      string
	publicBaseURL string
}

// NewLocalBucket creates a LocalBucket and ensures the base directory exists.
func NewLocalBucket(basePath, publicBaseURL string) (*LocalBucket, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", basePath, err)
	}
	return &LocalBucket{
		basePath:      basePath,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

// Root returns the directory objects are written under.
func (b *LocalBucket) Root() string {
	return b.basePath
}

// Put writes the object atomically. Files are world-readable, the local
// equivalent of a public-read ACL.
func (b *LocalBucket) Put(ctx context.Context, objectPath string, attrs ObjectAttrs, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath := b.fullPath(objectPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write object %s: %w", objectPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close object %s: %w", objectPath, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to set object permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return fmt.Errorf("failed to move object into place: %w", err)
	}
	return nil
}

// FindContaining returns the first object under prefix whose file name contains needle.
func (b *LocalBucket) FindContaining(ctx context.Context, prefix, needle string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	pattern := filepath.Join(b.fullPath(prefix), "*"+needle+"*")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", false, fmt.Errorf("failed to glob objects: %w", err)
	}
	for _, match := range matches {
		if strings.HasPrefix(filepath.Base(match), ".upload-") {
			continue
		}
		rel, err := filepath.Rel(b.basePath, match)
		if err != nil {
			return "", false, fmt.Errorf("failed to resolve object path: %w", err)
		}
		return filepath.ToSlash(rel), true, nil
	}
	return "", false, nil
}

// PublicURL returns the URL the object is served from.
func (b *LocalBucket) PublicURL(objectPath string) string {
	return b.publicBaseURL + LocalRoutePrefix + objectPath
}

func (b *LocalBucket) fullPath(objectPath string) string {
	return filepath.Join(b.basePath, filepath.FromSlash(objectPath))
}
