// Package render drives a headless browser through the fixed sequence of
// steps that turns a template page into a PNG artifact.
package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/naoTimesdev/naotimes-og/internal/telemetry"
)

const (
	// TemplatePrefix is the route prefix the template pages are served under.
	TemplatePrefix = "/_/template/"

	defaultTimeout         = 30 * time.Second
	defaultReadyTimeout    = 10 * time.Second
	defaultReadySelector   = "div#ready-notifier"
	defaultContentSelector = "body"
)

// ErrEmptyCapture is reported when the browser returned no image bytes.
var ErrEmptyCapture = errors.New("empty capture")

// Params is the canonical query payload of a render request.
type Params interface {
	Encode() string
}

// Profile describes one artifact family.
type Profile struct {
	// Kind names the family in logs, metrics and filenames.
	Kind string
	// Template is the page name below TemplatePrefix.
	Template string
	// Viewport is the initial capture area.
	Viewport Viewport
	// FixedViewport skips measurement and keeps Viewport as is.
	FixedViewport bool
	// ReadySelector is the element whose presence signals the page is ready.
	ReadySelector string
	// ContentSelector is the element measured for the final height.
	ContentSelector string
}

// UserCardProfile renders variable-height profile cards.
var UserCardProfile = Profile{
	Kind:     "UserCard",
	Template: "user_card",
	Viewport: UserCardViewport,
}

// OGImageProfile renders fixed-size social preview cards.
var OGImageProfile = Profile{
	Kind:          "OGImage",
	Template:      "og_image",
	Viewport:      OGImageViewport,
	FixedViewport: true,
}

// Config controls a Renderer.
type Config struct {
	// BaseURL is where this service's template routes are reachable from
	// the browser, e.g. http://127.0.0.1:12460.
	BaseURL string
	// Timeout bounds one whole render.
	Timeout time.Duration
	// ReadyTimeout bounds the wait for the ready signal.
	ReadyTimeout time.Duration
	Logger       *zap.Logger
}

// Result is the outcome of one render.
type Result struct {
	Data     []byte
	Viewport Viewport
	// Stage is StageDone or StageFailed.
	Stage    Stage
	Err      *StageError
	Duration time.Duration
}

// OK reports whether an artifact was produced.
func (r Result) OK() bool {
	return r.Stage == StageDone && r.Err == nil
}

// Renderer runs the render state machine on an Engine.
type Renderer struct {
	engine       Engine
	baseURL      string
	timeout      time.Duration
	readyTimeout time.Duration
	logger       *zap.Logger
}

// NewRenderer constructs a Renderer.
func NewRenderer(engine Engine, cfg Config) (*Renderer, error) {
	if engine == nil {
		return nil, fmt.Errorf("render engine is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("render base url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		engine:       engine,
		baseURL:      base,
		timeout:      cfg.Timeout,
		readyTimeout: cfg.ReadyTimeout,
		logger:       logger,
	}, nil
}

// SourceURL returns the template page address for profile and params.
func (r *Renderer) SourceURL(profile Profile, params Params) string {
	u := r.baseURL + TemplatePrefix + profile.Template
	if params == nil {
		return u
	}
	if q := params.Encode(); q != "" {
		u += "?" + q
	}
	return u
}

// run is the mutable state of one render invocation.
type run struct {
	profile  Profile
	source   string
	tab      Tab
	viewport Viewport
	measured Measurement
	data     []byte
}

type stageHandler func(ctx context.Context, st *run) (Stage, error)

func (r *Renderer) handler(stage Stage) stageHandler {
	switch stage {
	case StageLaunching:
		return r.launch
	case StageNavigatingToSource:
		return r.navigate
	case StageWaitingForReadySignal:
		return r.waitReady
	case StageMeasuringContent:
		return r.measure
	case StageRecapturingViewport:
		return r.recapture
	case StageCapturingImage:
		return r.capture
	default:
		return nil
	}
}

// Render walks every stage for one request and always returns a terminal
// Result. It never panics on browser errors and releases the tab on every
// path.
func (r *Renderer) Render(ctx context.Context, profile Profile, params Params) Result {
	if profile.ReadySelector == "" {
		profile.ReadySelector = defaultReadySelector
	}
	if profile.ContentSelector == "" {
		profile.ContentSelector = defaultContentSelector
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ctx, span := telemetry.Tracer().Start(ctx, "render."+profile.Kind)
	defer span.End()

	st := &run{
		profile:  profile,
		source:   r.SourceURL(profile, params),
		viewport: profile.Viewport,
	}
	defer func() {
		if st.tab != nil {
			st.tab.Close()
		}
	}()

	start := time.Now()
	stage := StageLaunching
	var failure *StageError
	for !stage.Terminal() {
		next, err := r.step(ctx, stage, st)
		if err != nil {
			failure = &StageError{Stage: stage, Err: err}
			stage = StageFailed
			break
		}
		stage = next
	}

	res := Result{
		Viewport: st.viewport,
		Stage:    stage,
		Err:      failure,
		Duration: time.Since(start),
	}
	if failure != nil {
		span.RecordError(failure)
		span.SetStatus(codes.Error, failure.Stage.String())
		telemetry.ObserveRenderFailure(profile.Kind, failure.Stage.String())
		telemetry.ObserveRender(profile.Kind, "failed", res.Duration)
		r.logger.Warn("render failed",
			zap.String("kind", profile.Kind),
			zap.String("stage", failure.Stage.String()),
			zap.Duration("duration", res.Duration),
			zap.Error(failure.Err),
		)
		return res
	}

	res.Data = st.data
	telemetry.ObserveRender(profile.Kind, "ok", res.Duration)
	r.logger.Debug("render complete",
		zap.String("kind", profile.Kind),
		zap.Float64("height", st.viewport.Height),
		zap.Int("bytes", len(st.data)),
		zap.Duration("duration", res.Duration),
	)
	return res
}

func (r *Renderer) step(ctx context.Context, stage Stage, st *run) (Stage, error) {
	h := r.handler(stage)
	if h == nil {
		return StageFailed, fmt.Errorf("no handler for stage %s", stage)
	}
	if err := ctx.Err(); err != nil {
		return StageFailed, fmt.Errorf("render deadline: %w", err)
	}
	ctx, span := telemetry.Tracer().Start(ctx, "render.stage."+stage.String())
	defer span.End()
	span.SetAttributes(attribute.String("render.kind", st.profile.Kind))

	next, err := h(ctx, st)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return next, err
}

func (r *Renderer) launch(ctx context.Context, st *run) (Stage, error) {
	tab, err := r.engine.Launch(ctx)
	if err != nil {
		return StageFailed, err
	}
	st.tab = tab
	return StageNavigatingToSource, nil
}

func (r *Renderer) navigate(ctx context.Context, st *run) (Stage, error) {
	if err := st.tab.Navigate(ctx, st.source); err != nil {
		return StageFailed, err
	}
	return StageWaitingForReadySignal, nil
}

func (r *Renderer) waitReady(ctx context.Context, st *run) (Stage, error) {
	ctx, cancel := context.WithTimeout(ctx, r.readyTimeout)
	defer cancel()
	if err := st.tab.WaitReady(ctx, st.profile.ReadySelector); err != nil {
		return StageFailed, err
	}
	if st.profile.FixedViewport {
		return StageCapturingImage, nil
	}
	return StageMeasuringContent, nil
}

func (r *Renderer) measure(ctx context.Context, st *run) (Stage, error) {
	m, err := st.tab.Measure(ctx, st.profile.ContentSelector)
	if err != nil {
		return StageFailed, err
	}
	st.measured = m
	return StageRecapturingViewport, nil
}

func (r *Renderer) recapture(_ context.Context, st *run) (Stage, error) {
	vp, err := RecomputeViewport(st.viewport, st.measured.Height)
	if err != nil {
		r.logger.Debug("keeping default viewport height",
			zap.String("kind", st.profile.Kind),
			zap.Error(err),
		)
	}
	st.viewport = vp
	return StageCapturingImage, nil
}

func (r *Renderer) capture(ctx context.Context, st *run) (Stage, error) {
	data, err := st.tab.Capture(ctx, st.viewport)
	if err != nil {
		return StageFailed, err
	}
	if len(data) == 0 {
		return StageFailed, ErrEmptyCapture
	}
	st.data = data
	return StageDone, nil
}
