package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"

	"github.com/naoTimesdev/naotimes-og/internal/analytics"
	"github.com/naoTimesdev/naotimes-og/internal/archive"
	"github.com/naoTimesdev/naotimes-og/internal/card"
	"github.com/naoTimesdev/naotimes-og/internal/policy/ratelimit"
	"github.com/naoTimesdev/naotimes-og/internal/render"
	"github.com/naoTimesdev/naotimes-og/internal/telemetry"
	"github.com/naoTimesdev/naotimes-og/internal/templates"
	"github.com/naoTimesdev/naotimes-og/internal/worker"
)

const (
	indexBanner = "</> Made for naoTimes by @noaione</>"
	notFoundHTML = "<h2>404 Not Found</h2>"

	defaultCacheMaxAge    = 600 * time.Second
	defaultRequestTimeout = 60 * time.Second
)

// Renderer produces artifacts. *render.Renderer satisfies it.
type Renderer interface {
	Render(ctx context.Context, profile render.Profile, params render.Params) render.Result
}

// Archiver accepts finished artifacts for background archiving.
type Archiver interface {
	Archive(art archive.Artifact) error
}

// ThumbResolver looks up music artwork. *thumb.Resolver satisfies it.
type ThumbResolver interface {
	Bandcamp(ctx context.Context, pageURL string) (string, error)
	SoundCloud(ctx context.Context, artist, title string) (string, error)
	YouTubeMusic(ctx context.Context, id string) ([]byte, error)
}

// IDGenerator names artifacts.
type IDGenerator interface {
	NewArtifactID() (string, error)
}

// Deps are the collaborators of the Server. Telemetry, Archiver, Limiter
// and Thumbs are optional.
type Deps struct {
	Renderer  Renderer
	Pool      *worker.Pool
	Templates *templates.Set
	IDs       IDGenerator
	Telemetry *analytics.Dispatcher
	Archiver  Archiver
	Limiter   *ratelimit.Limiter
	Thumbs    ThumbResolver
	// Ready reports whether downstream dependencies are usable.
	Ready func(context.Context) error
}

// Options tune response behaviour.
type Options struct {
	Logger         *zap.Logger
	CacheMaxAge    time.Duration
	RequestTimeout time.Duration
	// StatusPicker selects status texts on the user card page; nil is random.
	StatusPicker card.Picker
}

// Server wires HTTP handlers to the renderer and its side channels.
type Server struct {
	router chi.Router
	deps   Deps
	opts   Options
	logger *zap.Logger

	userCard family
	ogImage  family
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options) *Server {
	if opts.CacheMaxAge <= 0 {
		opts.CacheMaxAge = defaultCacheMaxAge
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:     deps,
		opts:     opts,
		logger:   logger,
		userCard: userCardFamily(),
		ogImage:  ogImageFamily(),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(corsMiddleware)
	r.Use(telemetry.Middleware)
	r.NotFound(s.notFound)

	r.Get("/", s.index)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", telemetry.Handler())

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		r.Get("/large", s.handleOGImage)
		r.Get("/user_card", s.handleUserCard)
		r.Get("/_/generator/user_card", s.handleUserCard)
	})

	r.Group(func(r chi.Router) {
		r.Use(gzipMiddleware)
		r.Get(render.TemplatePrefix+"user_card", s.userCardTemplate)
		r.Get(render.TemplatePrefix+"og_image", s.ogImageTemplate)
	})

	r.Route("/thumb", func(r chi.Router) {
		r.Get("/bandcamp", s.bandcampThumb)
		r.Get("/soundcloud/{artist}/{title}", s.soundcloudThumb)
		r.Get("/ytm/{id}", s.youtubeMusicThumb)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, indexBanner)
}

func (s *Server) notFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(notFoundHTML))
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func gzipMiddleware(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}
