package concurrency

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
)

// ParallelOptions configura el pool de trabajadores.
type ParallelOptions struct {
	// MaxWorkers es el número máximo de trabajadores en paralelo
	MaxWorkers int
}

// DefaultOptions devuelve opciones predeterminadas para procesamiento paralelo
func DefaultOptions() ParallelOptions {
	return ParallelOptions{
		MaxWorkers: 4,
	}
}

// ItemError ties a failure to the index of the item that produced it.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string { return fmt.Sprintf("item %d: %v", e.Index, e.Err) }

func (e *ItemError) Unwrap() error { return e.Err }

// ProcessParallel runs itemFunc for every item on at most opts.MaxWorkers
// goroutines and returns results in input order.
//
// Once ctx is cancelled no further items are started; items already running
// are left to finish. Skipped items keep the zero value of R and produce no
// error. A panic inside itemFunc is recovered and reported as that item's
// error so siblings keep running.
func ProcessParallel[T any, R any](
	ctx context.Context,
	items []T,
	opts ParallelOptions,
	itemFunc func(ctx context.Context, index int, item T) (R, error),
) ([]R, []error) {
	if len(items) == 0 {
		return []R{}, nil
	}

	results := make([]R, len(items))
	var (
		mu   sync.Mutex
		errs []error
	)

	run(ctx, len(items), opts, func(i int) {
		r, err := safeCall(func() (R, error) { return itemFunc(ctx, i, items[i]) })
		results[i] = r
		if err != nil {
			mu.Lock()
			errs = append(errs, &ItemError{Index: i, Err: err})
			mu.Unlock()
		}
	})

	return results, errs
}

// ForEach ejecuta itemFunc para cada elemento, sin recolectar resultados.
func ForEach[T any](
	ctx context.Context,
	items []T,
	opts ParallelOptions,
	itemFunc func(ctx context.Context, index int, item T) error,
) []error {
	if len(items) == 0 {
		return nil
	}
	_, errs := ProcessParallel(ctx, items, opts, func(ctx context.Context, i int, item T) (struct{}, error) {
		return struct{}{}, itemFunc(ctx, i, item)
	})
	return errs
}

func run(ctx context.Context, n int, opts ParallelOptions, work func(i int)) {
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = DefaultOptions().MaxWorkers
	}
	if maxWorkers > n {
		maxWorkers = n
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < maxWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				work(i)
			}
		}()
	}

feed:
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()
}

func safeCall[R any](fn func() (R, error)) (r R, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return fn()
}
