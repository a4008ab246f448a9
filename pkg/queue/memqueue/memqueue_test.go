package memqueue

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestEnqueueUpdatePackageRunsHandler(t *testing.T) {
	var mu sync.Mutex
	seen := make([]string, 0)
	done := make(chan struct{}, 1)

	q := New(2, func(ctx context.Context, name string, force bool) error {
		mu.Lock()
		seen = append(seen, name)
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, func(ctx context.Context, paths []string) error {
		return nil
	}, discardLogger())
	defer q.Close()

	require.NoError(t, q.EnqueueUpdatePackage(context.Background(), "acme/plugin", false))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("update handler did not run")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"acme/plugin"}, seen)
}

func TestEnqueueDeletePathsImmediate(t *testing.T) {
	done := make(chan []string, 1)

	q := New(2, func(ctx context.Context, name string, force bool) error {
		return nil
	}, func(ctx context.Context, paths []string) error {
		done <- paths
		return nil
	}, discardLogger())
	defer q.Close()

	require.NoError(t, q.EnqueueDeletePaths(context.Background(), []string{"p1/provider.json"}, 0))

	select {
	case paths := <-done:
		assert.Equal(t, []string{"p1/provider.json"}, paths)
	case <-time.After(time.Second):
		t.Fatal("delete handler did not run")
	}
}

func TestEnqueueDeletePathsDelayed(t *testing.T) {
	done := make(chan time.Time, 1)

	q := New(2, func(ctx context.Context, name string, force bool) error {
		return nil
	}, func(ctx context.Context, paths []string) error {
		done <- time.Now()
		return nil
	}, discardLogger())
	defer q.Close()

	start := time.Now()
	require.NoError(t, q.EnqueueDeletePaths(context.Background(), []string{"p1/provider.json"}, 100*time.Millisecond))

	select {
	case fired := <-done:
		assert.True(t, fired.Sub(start) >= 90*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("delayed delete handler did not run")
	}
}
