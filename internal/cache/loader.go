package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader implements read-through caching on top of a Cache[any]. Concurrent
// misses for one key share a single load. Invalidate bumps a generation so
// loads that raced a write never repopulate stale data.
type Loader struct {
	store Cache[any]
	group singleflight.Group

	mu         sync.Mutex
	generation uint64
	inflight   map[string]struct{}
}

func NewLoader(store Cache[any]) *Loader {
	return &Loader{store: store, inflight: make(map[string]struct{})}
}

// Invalidate drops key.
func (l *Loader) Invalidate(key string) {
	l.mu.Lock()
	l.generation++
	l.mu.Unlock()
	l.group.Forget(key)
	l.store.Delete(key)
}

// InvalidatePrefix drops every key starting with prefix.
func (l *Loader) InvalidatePrefix(prefix string) {
	l.mu.Lock()
	l.generation++
	var forget []string
	for key := range l.inflight {
		if strings.HasPrefix(key, prefix) {
			forget = append(forget, key)
		}
	}
	l.mu.Unlock()
	for _, key := range forget {
		l.group.Forget(key)
	}
	l.store.DeletePrefix(prefix)
}

func (l *Loader) currentGeneration() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.generation
}

func (l *Loader) track(key string, on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if on {
		l.inflight[key] = struct{}{}
	} else {
		delete(l.inflight, key)
	}
}

// Load returns the cached value for key or computes it with fn, caching the
// result for ttl. Errors are never cached.
func Load[T any](ctx context.Context, l *Loader, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if v, ok := l.store.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, nil
		}
	}

	v, err, _ := l.group.Do(key, func() (any, error) {
		l.track(key, true)
		defer l.track(key, false)

		gen := l.currentGeneration()
		val, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if l.currentGeneration() == gen {
			l.store.SetWithTTL(key, val, ttl)
		}
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
