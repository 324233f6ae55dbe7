// Package headless implements render.Engine on headless Chrome.
package headless

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/naoTimesdev/naotimes-og/internal/render"
)

const defaultLaunchTimeout = 20 * time.Second

// Config controls the headless Chrome engine.
type Config struct {
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
	// MaxParallel caps concurrently open tabs. Zero means unlimited.
	MaxParallel int
	// LaunchTimeout bounds browser startup.
	LaunchTimeout time.Duration
	// NoSandbox disables the Chrome sandbox, needed in most containers.
	NoSandbox bool
}

// Engine opens one isolated browser context per render from a shared
// allocator.
type Engine struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	startTab    func(context.Context) error
}

// New creates an Engine. The browser process is started lazily on the first
// Launch.
func New(cfg Config) (*Engine, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = defaultLaunchTimeout
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)

	return &Engine{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		startTab:    func(ctx context.Context) error { return chromedp.Run(ctx) },
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WSURLReadTimeout(cfg.LaunchTimeout),
	)
	if cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if path := strings.TrimSpace(cfg.ExecPath); path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}
	return opts
}

// Close shuts the browser down. Tabs still open are torn down with it.
func (e *Engine) Close() {
	e.allocCancel()
}

// Launch implements render.Engine.
func (e *Engine) Launch(ctx context.Context) (render.Tab, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(e.allocator)
	if err := e.start(ctx, tabCtx, tabCancel); err != nil {
		tabCancel()
		e.release()
		return nil, fmt.Errorf("start browser: %w", err)
	}
	return &tab{ctx: tabCtx, cancel: tabCancel, release: e.release}, nil
}

// start runs the first action on tabCtx, which binds the browser to it, so it
// must not carry the caller's deadline. ctx still bounds the wait: when it
// ends first the tab is torn down.
func (e *Engine) start(ctx, tabCtx context.Context, tabCancel context.CancelFunc) error {
	done := make(chan error, 1)
	go func() { done <- e.startTab(tabCtx) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		tabCancel()
		<-done
		return ctx.Err()
	}
}

func (e *Engine) acquire(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	select {
	case e.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (e *Engine) release() {
	if e.limiter == nil {
		return
	}
	select {
	case <-e.limiter:
	default:
	}
}

type tab struct {
	ctx     context.Context
	cancel  context.CancelFunc
	release func()
	closed  bool
}

// bind derives an action context from the tab that also ends with parent.
func (t *tab) bind(parent context.Context) (context.Context, context.CancelFunc) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := parent.Deadline(); ok {
		ctx, cancel = context.WithDeadline(t.ctx, deadline)
	} else {
		ctx, cancel = context.WithCancel(t.ctx)
	}
	stop := forwardCancel(parent, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (t *tab) Navigate(ctx context.Context, url string) error {
	actx, cancel := t.bind(ctx)
	defer cancel()
	if err := chromedp.Run(actx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

func (t *tab) WaitReady(ctx context.Context, selector string) error {
	actx, cancel := t.bind(ctx)
	defer cancel()
	if err := chromedp.Run(actx, chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait for %s: %w", selector, err)
	}
	return nil
}

func (t *tab) Measure(ctx context.Context, selector string) (render.Measurement, error) {
	actx, cancel := t.bind(ctx)
	defer cancel()

	var extent []string
	if err := chromedp.Run(actx, chromedp.Evaluate(measureScript(selector), &extent)); err != nil {
		return render.Measurement{}, fmt.Errorf("measure %s: %w", selector, err)
	}
	var m render.Measurement
	if len(extent) > 0 {
		m.Width = extent[0]
	}
	if len(extent) > 1 {
		m.Height = extent[1]
	}
	return m, nil
}

func (t *tab) Capture(ctx context.Context, clip render.Viewport) ([]byte, error) {
	actx, cancel := t.bind(ctx)
	defer cancel()

	var buf []byte
	err := chromedp.Run(actx,
		emulation.SetDeviceMetricsOverride(int64(clip.Width), int64(clip.Height), clip.Scale, false),
		chromedp.ActionFunc(func(ctx context.Context) error {
			data, err := page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatPng).
				WithClip(&page.Viewport{
					X:      clip.X,
					Y:      clip.Y,
					Width:  clip.Width,
					Height: clip.Height,
					Scale:  clip.Scale,
				}).
				WithCaptureBeyondViewport(true).
				WithFromSurface(true).
				Do(ctx)
			if err != nil {
				return err
			}
			buf = data
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

func (t *tab) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.cancel()
	t.release()
}

func measureScript(selector string) string {
	return fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); if (!el) { return ["", ""]; } return [String(el.clientWidth), String(el.clientHeight)]; })()`,
		selector,
	)
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
