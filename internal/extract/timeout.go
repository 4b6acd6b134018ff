package extract

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Deadline bounds each extraction. Engines that ignore ctx are abandoned when
// the deadline passes; their result is discarded.
type Deadline struct {
	next    Engine
	timeout time.Duration
}

// WithTimeout wraps next; a non-positive timeout returns next unchanged.
func WithTimeout(next Engine, timeout time.Duration) Engine {
	if timeout <= 0 {
		return next
	}
	return &Deadline{next: next, timeout: timeout}
}

func (d *Deadline) Extract(ctx context.Context, pdf []byte) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		// A panic here would escape the caller's recover and kill the process.
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &ExtractionError{Method: "panic", Reason: fmt.Sprintf("internal error: %v", r)}}
			}
		}()
		res, err := d.next.Extract(ctx, pdf)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(o.err, ErrTimeout) {
			return Result{}, d.timeoutError()
		}
		return o.res, o.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Result{}, d.timeoutError()
		}
		return Result{}, ctx.Err()
	}
}

func (d *Deadline) timeoutError() error {
	return &ExtractionError{
		Method: "deadline",
		Reason: fmt.Sprintf("timeout: extraction exceeded %s", d.timeout),
		Err:    ErrTimeout,
	}
}
