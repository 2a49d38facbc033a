package client_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/orchestra-mcp/nexus/src/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryRefetch(t *testing.T) {
	n := 0
	q := client.NewQuery(func(context.Context) (int, error) {
		n++
		return n, nil
	})

	_, ok := q.Get()
	assert.False(t, ok)
	assert.False(t, q.Update(func(v int) int { return v + 1 }), "update needs a loaded value")

	require.NoError(t, q.Refetch(context.Background()))
	v, ok := q.Get()
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestQueryRefetchError(t *testing.T) {
	q := client.NewQuery(func(context.Context) (string, error) { return "", errors.New("offline") })
	q.Set("cached")

	assert.EqualError(t, q.Refetch(context.Background()), "offline")
	v, _ := q.Get()
	assert.Equal(t, "cached", v, "a failed refetch keeps the old value")
}

func TestQueryCancelDiscardsInFlightResult(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	q := client.NewQuery(func(ctx context.Context) (string, error) {
		close(started)
		<-release
		return "stale", nil
	})
	q.Set("optimistic")

	done := make(chan error, 1)
	go func() { done <- q.Refetch(context.Background()) }()

	<-started
	q.Cancel()
	close(release)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("refetch did not return")
	}
	v, _ := q.Get()
	assert.Equal(t, "optimistic", v)
}

func TestQueryCancelAbortsFetchContext(t *testing.T) {
	started := make(chan struct{})
	q := client.NewQuery(func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	})

	done := make(chan error, 1)
	go func() { done <- q.Refetch(context.Background()) }()
	<-started
	q.Cancel()

	select {
	case err := <-done:
		assert.NoError(t, err, "a cancelled fetch is discarded, not reported")
	case <-time.After(time.Second):
		t.Fatal("fetch context was not cancelled")
	}
}

func TestMutateRestoresSnapshotOnFailure(t *testing.T) {
	server := 5
	q := client.NewQuery(func(context.Context) (int, error) { return server, nil })
	require.NoError(t, q.Refetch(context.Background()))

	var during int
	err := client.Mutate(context.Background(), q,
		func(v int) int { return v + 1 },
		func(context.Context) error {
			during, _ = q.Get()
			return errors.New("rejected")
		})
	assert.EqualError(t, err, "rejected")
	assert.Equal(t, 6, during)
	v, _ := q.Get()
	assert.Equal(t, 5, v)
}
