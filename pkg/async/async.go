package async

import (
	"context"
	"sync"
	"time"

	"github.com/pixelmint/pixelmint/pkg/observability"
)

// SafeGo runs fn in a goroutine with a timeout and panic recovery. Errors are
// logged, not returned; use ForEach when the caller needs them.
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, logger *observability.Logger, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()
		defer observability.RecoverPanic(logger, taskName)

		if err := fn(ctx); err != nil {
			logger.WithError(err).WithField("task", taskName).Warn("Background task failed")
		}
	}()
}

// ForEach runs fn over items with at most workers goroutines. Each invocation
// gets its own timeout. Returns every error encountered, in no particular
// order.
func ForEach[T any](parentCtx context.Context, items []T, workers int, timeout time.Duration,
	fn func(context.Context, T) error) []error {
	if workers <= 0 {
		workers = 1
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	sem := make(chan struct{}, workers)

	for _, item := range items {
		if parentCtx.Err() != nil {
			mu.Lock()
			errs = append(errs, parentCtx.Err())
			mu.Unlock()
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(item T) {
			defer wg.Done()
			defer func() { <-sem }()

			ctx, cancel := context.WithTimeout(parentCtx, timeout)
			defer cancel()
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					errs = append(errs, observability.MustRecover(r))
					mu.Unlock()
				}
			}()

			if err := fn(ctx, item); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(item)
	}

	wg.Wait()
	return errs
}
