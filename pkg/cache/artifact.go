package cache

import (
	"context"
	"encoding/json"
	"sync"
)

// Artifact is a value computed at most once per process and, across
// processes, looked up in a Cache before being computed. After the first
// successful Get the value is immutable.
type Artifact[T any] struct {
	cache Cache
	key   string

	once     sync.Once
	value    T
	err      error
	hit      bool
	writeErr error
}

// NewArtifact binds an artefact to its cache key.
func NewArtifact[T any](c Cache, key string) *Artifact[T] {
	return &Artifact[T]{cache: c, key: key}
}

// Get returns the cached value if present, otherwise computes and stores it.
// A cache entry that fails to decode is recomputed. Failing to store the
// computed value is not an error; see WriteErr.
func (a *Artifact[T]) Get(ctx context.Context, compute func(context.Context) (T, error)) (T, error) {
	a.once.Do(func() {
		if data, ok, err := a.cache.Get(ctx, a.key); err == nil && ok {
			var v T
			if json.Unmarshal(data, &v) == nil {
				a.value, a.hit = v, true
				return
			}
		}

		v, err := compute(ctx)
		if err != nil {
			a.err = err
			return
		}
		a.value = v

		data, err := json.Marshal(v)
		if err != nil {
			a.writeErr = err
			return
		}
		a.writeErr = a.cache.Set(ctx, a.key, data, 0)
	})
	return a.value, a.err
}

// Hit reports whether the value came from the cache.
func (a *Artifact[T]) Hit() bool { return a.hit }

// WriteErr returns the error from storing a computed value, if any.
func (a *Artifact[T]) WriteErr() error { return a.writeErr }

// Key returns the cache key.
func (a *Artifact[T]) Key() string { return a.key }
