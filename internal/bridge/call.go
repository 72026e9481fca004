package bridge

import "context"

// Call runs a single blocking remote call on its own goroutine and waits for it,
// with the same interruption and classification rules as Start. It suits session
// setup, connection checks and attribute lookups that yield one value.
func Call[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	ch, task := Start(ctx, 1, func(ctx context.Context, ch *Channel[T]) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		ch.Put(v)
		return nil
	}, opts...)

	v, ok := ch.Get()
	if err := task.Finish(); err != nil {
		var zero T
		return zero, err
	}
	if !ok {
		var zero T
		if task.Outcome() == OutcomeCancelled {
			return zero, &Error{Kind: KindCancelled, Op: task.Name(), Message: "call abandoned"}
		}
		return zero, violation(task.Name(), "call produced no result", nil)
	}
	return v, nil
}
