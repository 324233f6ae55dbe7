package headless

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewLimiterValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}
	engine, err := New(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer engine.Close()
	require.Equal(t, 2, cap(engine.limiter))
	require.Equal(t, defaultLaunchTimeout, engine.cfg.LaunchTimeout)

	unlimited, err := New(Config{})
	require.NoError(t, err)
	defer unlimited.Close()
	require.Nil(t, unlimited.limiter)
}

func TestAllocatorOptionsGrowWithConfig(t *testing.T) {
	t.Parallel()

	base := allocatorOptions(Config{LaunchTimeout: time.Second})
	full := allocatorOptions(Config{LaunchTimeout: time.Second, NoSandbox: true, ExecPath: "/usr/bin/chromium"})
	require.Len(t, full, len(base)+2)

	blank := allocatorOptions(Config{LaunchTimeout: time.Second, ExecPath: "  "})
	require.Len(t, blank, len(base))
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	engine, err := New(Config{MaxParallel: 1})
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, engine.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, engine.acquire(ctx), context.DeadlineExceeded)

	engine.release()
	require.NoError(t, engine.acquire(context.Background()))
	engine.release()
	engine.release()
}

func TestTabCloseReleasesOnce(t *testing.T) {
	t.Parallel()

	var released, canceled atomic.Int32
	tb := &tab{
		ctx:     context.Background(),
		cancel:  func() { canceled.Add(1) },
		release: func() { released.Add(1) },
	}
	tb.Close()
	tb.Close()
	require.Equal(t, int32(1), released.Load())
	require.Equal(t, int32(1), canceled.Load())
}

func TestTabBindInheritsDeadline(t *testing.T) {
	t.Parallel()

	tabCtx, tabCancel := context.WithCancel(context.Background())
	defer tabCancel()
	tb := &tab{ctx: tabCtx, cancel: tabCancel, release: func() {}}

	parent, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	actx, done := tb.bind(parent)
	defer done()

	want, _ := parent.Deadline()
	got, ok := actx.Deadline()
	require.True(t, ok)
	require.Equal(t, want, got)

	cancel()
	select {
	case <-actx.Done():
	case <-time.After(time.Second):
		t.Fatal("action context not canceled with parent")
	}
	require.NoError(t, tabCtx.Err())
}

func TestMeasureScriptQuotesSelector(t *testing.T) {
	t.Parallel()

	script := measureScript(`body`)
	require.True(t, strings.Contains(script, `document.querySelector("body")`))
	require.Contains(t, script, "String(el.clientHeight)")
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	defer stop()
	cancelParent()

	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("child context not canceled")
	}
	require.NotNil(t, forwardCancel(nil, cancelChild))
}

func TestLaunchStartupBoundedByCaller(t *testing.T) {
	t.Parallel()

	engine, err := New(Config{MaxParallel: 1})
	require.NoError(t, err)
	defer engine.Close()

	var tabCanceled atomic.Bool
	engine.startTab = func(ctx context.Context) error {
		<-ctx.Done()
		tabCanceled.Store(true)
		return ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = engine.Launch(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.ErrorContains(t, err, "start browser")
	require.Less(t, time.Since(start), 5*time.Second)
	require.True(t, tabCanceled.Load())

	acquireCtx, acquireCancel := context.WithTimeout(context.Background(), time.Second)
	defer acquireCancel()
	require.NoError(t, engine.acquire(acquireCtx), "browser slot must be released")
	engine.release()
}

func TestLaunchStartupErrorReleasesSlot(t *testing.T) {
	t.Parallel()

	engine, err := New(Config{MaxParallel: 1})
	require.NoError(t, err)
	defer engine.Close()
	engine.startTab = func(context.Context) error { return context.Canceled }

	_, err = engine.Launch(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, engine.limiter)
}
