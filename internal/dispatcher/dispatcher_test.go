package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-auditor/internal/queue/memory"
	"github.com/JakeFAU/site-auditor/internal/worker"
)

type stubRunner struct {
	calls   atomic.Int32
	release chan struct{}
	started chan struct{}
	err     error
}

func (s *stubRunner) StartAudit(_ context.Context, rawURL string) (string, error) {
	s.calls.Add(1)
	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	if s.err != nil {
		return "", s.err
	}
	return "id-for-" + rawURL, nil
}

func runDispatcher(t *testing.T, d *Dispatcher) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	return cancel, done
}

func TestDispatcherSubmitReturnsAuditID(t *testing.T) {
	t.Parallel()

	d := NewPool(&stubRunner{}, 2, 4, zap.NewNop())
	cancel, done := runDispatcher(t, d)
	defer func() {
		cancel()
		<-done
	}()

	id, err := d.Submit(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, "id-for-https://example.com", id)
}

func TestDispatcherSubmitForwardsRunnerError(t *testing.T) {
	t.Parallel()

	runErr := errors.New("boom")
	d := NewPool(&stubRunner{err: runErr}, 1, 1, zap.NewNop())
	cancel, done := runDispatcher(t, d)
	defer func() {
		cancel()
		<-done
	}()

	_, err := d.Submit(context.Background(), "https://example.com")
	require.ErrorIs(t, err, runErr)
}

func TestDispatcherSubmitRejectsWhenFull(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{release: make(chan struct{}), started: make(chan struct{}, 1)}
	d := NewPool(runner, 1, 1, zap.NewNop())
	cancel, done := runDispatcher(t, d)
	defer func() {
		cancel()
		<-done
	}()

	first := make(chan error, 1)
	go func() {
		_, err := d.Submit(context.Background(), "https://one.example")
		first <- err
	}()
	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("first audit did not start")
	}

	second := make(chan error, 1)
	go func() {
		_, err := d.Submit(context.Background(), "https://two.example")
		second <- err
	}()
	require.Eventually(t, func() bool { return d.Pending() == 1 }, time.Second, 5*time.Millisecond)

	_, err := d.Submit(context.Background(), "https://three.example")
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, memory.ErrFull)

	close(runner.release)
	<-runner.started
	require.NoError(t, <-first)
	require.NoError(t, <-second)
}

func TestDispatcherSubmitHonorsCallerContext(t *testing.T) {
	t.Parallel()

	d := NewPool(&stubRunner{}, 1, 1, zap.NewNop())
	// Dispatcher not running: the request stays queued.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := d.Submit(ctx, "https://example.com")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatcherRunRejectsQueuedAtShutdown(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	queue := memory.NewQueue[worker.Job](1)
	d := New(queue, nil, zap.NewNop())

	result := make(chan error, 1)
	go func() {
		_, err := d.Submit(context.Background(), "https://example.com")
		result <- err
	}()
	require.Eventually(t, func() bool { return d.Pending() == 1 }, time.Second, 5*time.Millisecond)

	cancel, done := runDispatcher(t, d)
	cancel()
	<-done

	select {
	case err := <-result:
		require.ErrorIs(t, err, ErrUnavailable)
		require.ErrorIs(t, err, memory.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("queued submit was not answered")
	}
	require.Zero(t, runner.calls.Load())

	_, err := d.Submit(context.Background(), "https://late.example")
	require.ErrorIs(t, err, ErrUnavailable)
}
