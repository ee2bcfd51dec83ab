package service

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studentdocs/internal/config"
	"studentdocs/internal/storage"
	storeMocks "studentdocs/internal/storage/mocks"
)

func bundleKey(t time.Time) string {
	return "bundles/" + ulid.MustNew(ulid.Timestamp(t), rand.Reader).String() + ".zip"
}

func newSweeper(t *testing.T, store storage.Storage, retention time.Duration) (*BundleSweeper, *Metrics) {
	t.Helper()
	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	sw := NewBundleSweeper(store, config.RetrievalConfig{
		URLTTL:          10 * time.Minute,
		BundlePrefix:    "bundles/",
		BundleRetention: retention,
	}, zerolog.Nop(), metrics)
	sw.now = func() time.Time { return fixedNow }
	return sw, metrics
}

func TestBundleSweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	expired := bundleKey(fixedNow.Add(-2 * time.Hour))
	fresh := bundleKey(fixedNow.Add(-5 * time.Minute))
	legacyOld := "bundles/manual-upload.zip"
	legacyNew := "bundles/another.zip"

	mStore := new(storeMocks.MockStorage)
	mStore.On("List", ctx, "bundles/").Return([]storage.ObjectInfo{
		{Key: expired, LastModified: fixedNow},
		{Key: fresh, LastModified: fixedNow.Add(-48 * time.Hour)},
		{Key: legacyOld, LastModified: fixedNow.Add(-3 * time.Hour)},
		{Key: legacyNew, LastModified: fixedNow.Add(-time.Minute)},
	}, nil)
	mStore.On("Delete", ctx, expired).Return(nil)
	mStore.On("Delete", ctx, legacyOld).Return(nil)

	sw, metrics := newSweeper(t, mStore, time.Hour)
	removed, err := sw.Sweep(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.swept))
	mStore.AssertExpectations(t)
	mStore.AssertNotCalled(t, "Delete", ctx, fresh)
	mStore.AssertNotCalled(t, "Delete", ctx, legacyNew)
}

func TestBundleSweeper_RetentionNeverBelowTTL(t *testing.T) {
	ctx := context.Background()
	// Older than the configured retention, still inside the URL lifetime.
	stillSigned := bundleKey(fixedNow.Add(-8 * time.Minute))

	mStore := new(storeMocks.MockStorage)
	mStore.On("List", ctx, "bundles/").Return([]storage.ObjectInfo{{Key: stillSigned}}, nil)

	sw, _ := newSweeper(t, mStore, time.Minute)
	removed, err := sw.Sweep(ctx)

	require.NoError(t, err)
	assert.Zero(t, removed)
	mStore.AssertNotCalled(t, "Delete", ctx, stillSigned)
}

func TestBundleSweeper_DeleteFailuresAreJoined(t *testing.T) {
	ctx := context.Background()
	a := bundleKey(fixedNow.Add(-3 * time.Hour))
	b := bundleKey(fixedNow.Add(-4 * time.Hour))

	mStore := new(storeMocks.MockStorage)
	mStore.On("List", ctx, "bundles/").Return([]storage.ObjectInfo{{Key: a}, {Key: b}}, nil)
	mStore.On("Delete", ctx, a).Return(storage.ErrUnavailable)
	mStore.On("Delete", ctx, b).Return(nil)

	sw, _ := newSweeper(t, mStore, time.Hour)
	removed, err := sw.Sweep(ctx)

	assert.Equal(t, 1, removed)
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	assert.ErrorContains(t, err, a)
}

func TestBundleSweeper_ListFailure(t *testing.T) {
	ctx := context.Background()
	mStore := new(storeMocks.MockStorage)
	mStore.On("List", ctx, "bundles/").Return(nil, errors.New("timeout"))

	sw, _ := newSweeper(t, mStore, time.Hour)
	_, err := sw.Sweep(ctx)

	assert.ErrorContains(t, err, "list bundles")
}
