package client

import "context"

// Mutate performs an optimistic write against q:
//
//  1. cancel in-flight refetches of q
//  2. snapshot the current value
//  3. apply the change locally
//  4. issue the write
//  5. restore the snapshot if the write fails
//  6. refetch q either way
//
// The write error is returned; a failed refetch is returned only when the
// write succeeded.
func Mutate[T any](ctx context.Context, q *Query[T], apply func(T) T, write func(context.Context) error) error {
	q.Cancel()
	snapshot, loaded := q.Get()
	if loaded {
		q.Update(apply)
	}

	err := write(ctx)
	if err != nil && loaded {
		q.Set(snapshot)
	}

	if rerr := q.Refetch(ctx); err == nil {
		err = rerr
	}
	return err
}
