package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"meal-board/internal/board"
	"meal-board/internal/cache"
	"meal-board/internal/config"
	"meal-board/internal/imagegate"
	"meal-board/internal/metrics"
	"meal-board/internal/storage"
	"meal-board/internal/week"
)

// Runtime is an App assembled from configuration, plus what the HTTP layer
// needs to serve the local bucket.
type Runtime struct {
	App *App
	// ImageDir is the local bucket root; empty for remote buckets.
	ImageDir string

	closers []func() error
}

// Close releases connections opened by NewRuntime.
func (r *Runtime) Close() error {
	var firstErr error
	for _, c := range r.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NewRuntime wires bucket, image store, hash cache, image gate and week
// repository the same way for every binary.
func NewRuntime(ctx context.Context, cfg *config.Config, db *sql.DB, log logrus.FieldLogger) (*Runtime, error) {
	bucket, imageDir, err := newBucket(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image storage: %w", err)
	}
	imageStore := storage.NewImageStore(bucket, nil)

	rt := &Runtime{ImageDir: imageDir}
	hashCache := newHashCache(ctx, cfg, log, rt)

	prefixes := append([]string{imageStore.PublicURL(""), storage.LocalRoutePrefix}, cfg.FirstPartyPrefixes...)
	gate := imagegate.New(imageStore, imagegate.Options{
		FirstPartyPrefixes: prefixes,
		FetchTimeout:       cfg.ImageFetchTimeout,
		Workers:            cfg.ImageWorkers,
		Cache:              hashCache,
		Events:             metrics.NewStore(db),
		Logger:             log.WithField("component", "imagegate"),
	})

	normalizer := board.NewNormalizer(cfg.Location())
	rt.App = NewApp(week.NewRepository(db, normalizer), gate, normalizer, log.WithField("component", "app"))
	return rt, nil
}

func newBucket(ctx context.Context, cfg *config.Config) (storage.Bucket, string, error) {
	if cfg.StorageBackend == config.StorageGCS {
		var opts []option.ClientOption
		if cfg.GCSCredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
		}
		b, err := storage.NewGCSBucket(ctx, cfg.GCSBucket, "", opts...)
		if err != nil {
			return nil, "", err
		}
		return b, "", nil
	}

	b, err := storage.NewLocalBucket(cfg.LocalImagePath, cfg.PublicBaseURL)
	if err != nil {
		return nil, "", err
	}
	return b, b.Root(), nil
}

// newHashCache prefers Redis when configured and falls back to memory when
// it cannot be reached.
func newHashCache(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, rt *Runtime) cache.Cache {
	if cfg.RedisURL == "" {
		return cache.NewMemory(cfg.ImageCacheSize, cfg.ImageCacheTTL)
	}
	r, err := cache.NewRedis(ctx, cfg.RedisURL, "meal-board:", cfg.ImageCacheTTL, log)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, falling back to in-memory hash cache")
		return cache.NewMemory(cfg.ImageCacheSize, cfg.ImageCacheTTL)
	}
	rt.closers = append(rt.closers, r.Close)
	return r
}
