package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sony/gobreaker"

	"studentdocs/internal/config"
)

// breakerStorage guards every call to the wrapped store with a circuit breaker.
// Missing objects and caller cancellations are not counted as backend failures.
type breakerStorage struct {
	next Storage
	cb   *gobreaker.CircuitBreaker
}

// WithCircuitBreaker wraps s; when the breaker is open every call fails fast with ErrUnavailable.
// A disabled config returns s unchanged.
func WithCircuitBreaker(s Storage, cfg config.CircuitBreakerConfig) Storage {
	if !cfg.Enabled {
		return s
	}

	settings := gobreaker.Settings{
		Name:        "object-storage",
		MaxRequests: cfg.MaxRequestsInHalf,
		Interval:    time.Duration(cfg.IntervalSeconds) * time.Second,
		Timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRate >= cfg.FailureRate
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, ErrObjectNotFound) ||
				errors.Is(err, context.Canceled)
		},
	}
	return &breakerStorage{next: s, cb: gobreaker.NewCircuitBreaker(settings)}
}

// State exposes the breaker state for health reporting.
func (b *breakerStorage) State() gobreaker.State {
	return b.cb.State()
}

func execute[T any](b *breakerStorage, fn func() (T, error)) (T, error) {
	out, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return out.(T), nil
}

type opened struct {
	rc   io.ReadCloser
	info ObjectInfo
}

func (b *breakerStorage) Put(ctx context.Context, key string, r io.Reader, opt PutObjectOptions) (ObjectInfo, error) {
	return execute(b, func() (ObjectInfo, error) { return b.next.Put(ctx, key, r, opt) })
}

func (b *breakerStorage) Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error) {
	o, err := execute(b, func() (opened, error) {
		rc, info, err := b.next.Get(ctx, key)
		return opened{rc: rc, info: info}, err
	})
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	return o.rc, o.info, nil
}

func (b *breakerStorage) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	return execute(b, func() (ObjectInfo, error) { return b.next.Stat(ctx, key) })
}

func (b *breakerStorage) Delete(ctx context.Context, key string) error {
	_, err := execute(b, func() (struct{}, error) { return struct{}{}, b.next.Delete(ctx, key) })
	return err
}

func (b *breakerStorage) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return execute(b, func() (string, error) { return b.next.PresignGet(ctx, key, expiry) })
}

func (b *breakerStorage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	return execute(b, func() ([]ObjectInfo, error) { return b.next.List(ctx, prefix) })
}
