package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/oklog/ulid"
	"github.com/rs/zerolog"

	"studentdocs/internal/config"
	"studentdocs/internal/storage"
)

// BundleSweeper removes archive bundles whose signed pointers can no longer be used.
type BundleSweeper struct {
	store     storage.Storage
	prefix    string
	retention time.Duration
	log       zerolog.Logger
	metrics   *Metrics
	now       func() time.Time
}

// NewBundleSweeper builds a sweeper over cfg.BundlePrefix. Retention never drops below the URL TTL.
func NewBundleSweeper(store storage.Storage, cfg config.RetrievalConfig, log zerolog.Logger, metrics *Metrics) *BundleSweeper {
	retention := cfg.BundleRetention
	if retention < cfg.URLTTL {
		retention = cfg.URLTTL
	}
	return &BundleSweeper{
		store:     store,
		prefix:    cfg.BundlePrefix,
		retention: retention,
		log:       log.With().Str("component", "sweeper").Logger(),
		metrics:   metrics,
		now:       time.Now,
	}
}

// Sweep deletes every expired bundle and returns how many were removed. A failed delete
// does not stop the pass; all failures are returned joined.
func (b *BundleSweeper) Sweep(ctx context.Context) (int, error) {
	objects, err := b.store.List(ctx, b.prefix)
	if err != nil {
		return 0, fmt.Errorf("list bundles: %w", err)
	}

	cutoff := b.now().Add(-b.retention)
	var (
		removed int
		errs    []error
	)
	for _, obj := range objects {
		created := bundleCreatedAt(obj)
		if created.IsZero() || !created.Before(cutoff) {
			continue
		}
		if err := b.store.Delete(ctx, obj.Key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", obj.Key, err))
			continue
		}
		removed++
	}

	b.metrics.bundlesSwept(removed)
	b.log.Info().Int("scanned", len(objects)).Int("removed", removed).Int("failed", len(errs)).Msg("bundle sweep")
	return removed, errors.Join(errs...)
}

// bundleCreatedAt reads the time embedded in a "<ulid>.zip" key, else LastModified.
func bundleCreatedAt(obj storage.ObjectInfo) time.Time {
	name := strings.TrimSuffix(path.Base(obj.Key), ".zip")
	if id, err := ulid.Parse(name); err == nil {
		return ulid.Time(id.Time())
	}
	return obj.LastModified
}
