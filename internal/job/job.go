// Package job runs blocking work in the background and chains the results.
package job

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/panics"
)

// ErrBusy is returned by Queue.Begin while another job is still running.
var ErrBusy = errors.New("another TestFairy job is already running")

// PanicError wraps a panic raised inside a job body.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.Value)
}

// Future is the pending result of a background job.
type Future[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc
	value  T
	err    error
}

// Go starts fn on its own goroutine. The context passed to fn is cancelled
// when the parent is cancelled or Cancel is called.
func Go[T any](parent context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	ctx, cancel := context.WithCancel(parent)
	f := &Future[T]{done: make(chan struct{}), cancel: cancel}

	go func() {
		defer close(f.done)
		defer cancel()

		var pc panics.Catcher
		pc.Try(func() { f.value, f.err = fn(ctx) })
		if r := pc.Recovered(); r != nil {
			f.err = &PanicError{Value: r.Value, Stack: r.Stack}
		}
	}()

	return f
}

// Done is closed once the job has finished.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Cancel requests cancellation. The job still has to observe its context.
func (f *Future[T]) Cancel() { f.cancel() }

// Await blocks until the job finishes or ctx is done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Then starts next with the value of f once f succeeds. An error from f is
// passed through and next never runs. Cancelling the returned future also
// cancels f.
func Then[T, U any](parent context.Context, f *Future[T], next func(ctx context.Context, v T) (U, error)) *Future[U] {
	g := Go(parent, func(ctx context.Context) (U, error) {
		v, err := f.Await(ctx)
		if err != nil {
			f.Cancel()
			var zero U
			return zero, err
		}
		return next(ctx, v)
	})
	return g
}

// Queue admits at most one job at a time.
type Queue struct {
	mu      sync.Mutex
	running bool
}

// Begin claims the queue. The returned release func must be called once the
// job is over; it is safe to call more than once.
func (q *Queue) Begin() (release func(), err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return nil, ErrBusy
	}
	q.running = true

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			q.running = false
			q.mu.Unlock()
		})
	}, nil
}

// Busy reports whether a job currently holds the queue.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}
