// Package analytics reports anonymized render events to a Plausible-compatible
// event API without ever blocking the request that produced them.
package analytics

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/naoTimesdev/naotimes-og/internal/metadata"
	"github.com/naoTimesdev/naotimes-og/internal/telemetry"
)

const (
	eventPath      = "/api/event"
	defaultTimeout = 10 * time.Second
)

// Config controls the Dispatcher. Delivery is disabled when either Endpoint
// or Domain is empty.
type Config struct {
	Endpoint string
	Domain   string
	Timeout  time.Duration
	Client   *http.Client
	Logger   *zap.Logger
}

// Dispatcher fires analytics events on detached goroutines and records the
// most recent one in its Slot.
type Dispatcher struct {
	endpoint string
	domain   string
	timeout  time.Duration
	client   *http.Client
	slot     *Slot
	logger   *zap.Logger
}

// NewDispatcher builds a Dispatcher that stores its in-flight task in slot.
// A nil slot gets a private one.
func NewDispatcher(cfg Config, slot *Slot) *Dispatcher {
	if slot == nil {
		slot = NewSlot()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		endpoint: strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		domain:   strings.TrimSpace(cfg.Domain),
		timeout:  cfg.Timeout,
		client:   cfg.Client,
		slot:     slot,
		logger:   logger,
	}
}

// Enabled reports whether both destination settings are present.
func (d *Dispatcher) Enabled() bool {
	return d != nil && d.endpoint != "" && d.domain != ""
}

// Slot returns the slot holding the latest task.
func (d *Dispatcher) Slot() *Slot {
	return d.slot
}

// Dispatch sends event in the background and returns its task handle, or nil
// when delivery is disabled. The previous task, if any, is detached and left
// to finish on its own.
func (d *Dispatcher) Dispatch(event Event, md metadata.ClientMetadata) *Task {
	if !d.Enabled() {
		telemetry.ObserveAnalyticsEvent("disabled")
		return nil
	}

	d.slot.mu.Lock()
	task := newTask()
	go d.run(task, event, md)
	d.slot.task = task
	d.slot.mu.Unlock()

	return task
}

// Close waits for the task currently held in the slot. Older detached tasks
// are abandoned.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	task := d.slot.Current()
	if task == nil {
		return nil
	}
	select {
	case <-task.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("analytics close wait: %w", ctx.Err())
	}
}

func (d *Dispatcher) run(task *Task, event Event, md metadata.ClientMetadata) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	err := d.send(ctx, event, md)
	if err != nil {
		telemetry.ObserveAnalyticsEvent("failed")
		d.logger.Debug("analytics event dropped",
			zap.String("name", event.Name),
			zap.String("url", event.URL),
			zap.Error(err),
		)
	} else {
		telemetry.ObserveAnalyticsEvent("sent")
	}
	task.finish(err)
}

func (d *Dispatcher) send(ctx context.Context, event Event, md metadata.ClientMetadata) error {
	event.Domain = d.domain
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+eventPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", md.UserAgent)
	req.Header.Set("X-Forwarded-For", md.ForwardedFor())
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post event: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // body is drained only

	if _, err := io.Copy(io.Discard, resp.Body); err != nil && !errors.Is(err, context.Canceled) {
		d.logger.Debug("analytics response drain failed", zap.Error(err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post event: unexpected status %d", resp.StatusCode)
	}
	return nil
}
