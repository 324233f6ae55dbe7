package render

import "context"

// Engine starts isolated browsing contexts on an external headless browser.
type Engine interface {
	// Launch starts (or attaches to) the browser and opens a fresh tab.
	Launch(ctx context.Context) (Tab, error)
}

// Tab is one isolated browsing context. Each method blocks until the
// corresponding protocol operation completed or ctx ended.
type Tab interface {
	Navigate(ctx context.Context, url string) error
	WaitReady(ctx context.Context, selector string) error
	Measure(ctx context.Context, selector string) (Measurement, error)
	Capture(ctx context.Context, clip Viewport) ([]byte, error)
	Close()
}

// Measurement is the raw client extent reported by the page. Values are kept
// as strings so malformed probes degrade instead of failing.
type Measurement struct {
	Width  string
	Height string
}
