package bridge

import "context"

// Sequence carries document identifiers, for seeding and child enumeration.
type Sequence = Channel[string]

// NewSequence returns an identifier channel with the given capacity.
func NewSequence(capacity int) *Sequence {
	return NewChannel[string](capacity)
}

// StartSequence launches an identifier-producing fetch.
func StartSequence(ctx context.Context, capacity int, fetch FetchFunc[string], opts ...Option) (*Sequence, *Task) {
	return Start(ctx, capacity, fetch, opts...)
}

// Drain hands every item to fn until the channel is exhausted or fn returns false,
// and reports how many items fn saw. It does not finish the task.
func Drain[T any](ch *Channel[T], fn func(T) bool) int {
	n := 0
	for {
		item, ok := ch.Get()
		if !ok {
			return n
		}
		n++
		if !fn(item) {
			return n
		}
	}
}

// Collect runs fetch to completion and returns everything it produced.
func Collect[T any](ctx context.Context, capacity int, fetch FetchFunc[T], opts ...Option) ([]T, error) {
	ch, task := Start(ctx, capacity, fetch, opts...)
	var out []T
	Drain(ch, func(item T) bool {
		out = append(out, item)
		return true
	})
	if err := task.Finish(); err != nil {
		return out, err
	}
	return out, nil
}
