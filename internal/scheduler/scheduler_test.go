package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nullEntry() (*logrus.Entry, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logrus.NewEntry(logger), hook
}

func TestNew_InvalidSpec(t *testing.T) {
	t.Parallel()

	log, _ := nullEntry()
	_, err := New("every monday", "", func(context.Context) error { return nil }, log)
	assert.ErrorContains(t, err, "invalid cron spec")

	_, err = New("@weekly", "Mars/Olympus", func(context.Context) error { return nil }, log)
	assert.ErrorContains(t, err, "invalid timezone")
}

func TestNext(t *testing.T) {
	t.Parallel()

	log, _ := nullEntry()
	s, err := New("0 9 * * MON", "Asia/Kolkata", func(context.Context) error { return nil }, log)
	require.NoError(t, err)

	// Entries are only scheduled once the cron is running.
	assert.True(t, s.Next().IsZero())
}

func TestRun_ExecutesJobAndStops(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	log, hook := nullEntry()
	s, err := New("@every 1s", "UTC", func(ctx context.Context) error {
		runs.Add(1)
		assert.NoError(t, ctx.Err())
		return errors.New("delivery failed")
	}, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	var failed bool
	for _, e := range hook.AllEntries() {
		if e.Message == "Scheduled run failed" {
			failed = true
		}
	}
	assert.True(t, failed, "job errors are logged")
}

func TestRun_SkipsOverlappingRuns(t *testing.T) {
	t.Parallel()

	var (
		running atomic.Int32
		maxSeen atomic.Int32
		runs    atomic.Int32
	)
	release := make(chan struct{})
	log, _ := nullEntry()
	s, err := New("@every 1s", "", func(context.Context) error {
		n := running.Add(1)
		defer running.Add(-1)
		if n > maxSeen.Load() {
			maxSeen.Store(n)
		}
		runs.Add(1)
		<-release
		return nil
	}, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() == 1 }, 5*time.Second, 50*time.Millisecond)
	time.Sleep(2500 * time.Millisecond)
	cancel()
	close(release)
	<-done

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Equal(t, int32(1), runs.Load())
}

func TestFields(t *testing.T) {
	t.Parallel()

	f := fields([]interface{}{"entry", 1, "next", "soon", "dangling"})
	assert.Equal(t, logrus.Fields{"entry": 1, "next": "soon"}, f)
}
