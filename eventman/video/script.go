package video

import (
	"context"
	"sync"
)

// ScriptCache loads the widget script at most once per process. The first
// Load starts the attempt in the background; every caller, including later
// ones, gets the cached outcome. A failed load is not retried.
type ScriptCache struct {
	loader Loader

	once sync.Once
	done chan struct{}
	err  error
}

// NewScriptCache wraps loader.
func NewScriptCache(loader Loader) *ScriptCache {
	return &ScriptCache{loader: loader, done: make(chan struct{})}
}

// Load waits for the script or for ctx. Cancelling ctx does not cancel the
// shared attempt.
func (s *ScriptCache) Load(ctx context.Context) error {
	s.once.Do(func() {
		go func() {
			defer close(s.done)
			s.err = s.loader.Load(context.WithoutCancel(ctx))
		}()
	})
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Loaded reports whether the attempt finished, successfully or not.
func (s *ScriptCache) Loaded() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
