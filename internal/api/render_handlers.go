package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/naoTimesdev/naotimes-og/internal/analytics"
	"github.com/naoTimesdev/naotimes-og/internal/archive"
	"github.com/naoTimesdev/naotimes-og/internal/card"
	"github.com/naoTimesdev/naotimes-og/internal/hash/sha256"
	"github.com/naoTimesdev/naotimes-og/internal/id/uuid"
	"github.com/naoTimesdev/naotimes-og/internal/metadata"
	"github.com/naoTimesdev/naotimes-og/internal/policy/ratelimit"
	"github.com/naoTimesdev/naotimes-og/internal/render"
	"github.com/naoTimesdev/naotimes-og/internal/worker"
)

// family binds an artifact route to its decoder, render profile and
// reporting policy.
type family struct {
	route     string
	profile   render.Profile
	policy    analytics.Policy
	errorText string
	decode    func(url.Values) (render.Params, error)
}

func userCardFamily() family {
	return family{
		route:     "/user_card",
		profile:   render.UserCardProfile,
		policy:    analytics.OnSuccess,
		errorText: "Error generating user card",
		decode: func(q url.Values) (render.Params, error) {
			return card.DecodeUserCard(q)
		},
	}
}

func ogImageFamily() family {
	return family{
		route:     "/large",
		profile:   render.OGImageProfile,
		policy:    analytics.Always,
		errorText: "Error creating OG Image",
		decode: func(q url.Values) (render.Params, error) {
			return card.DecodeOGImage(q)
		},
	}
}

func (s *Server) handleUserCard(w http.ResponseWriter, r *http.Request) {
	s.renderArtifact(w, r, s.userCard)
}

func (s *Server) handleOGImage(w http.ResponseWriter, r *http.Request) {
	s.renderArtifact(w, r, s.ogImage)
}

// renderArtifact decodes the query, runs the render on the worker pool and
// answers. Telemetry and archiving happen only after the render completed
// and never change the response.
func (s *Server) renderArtifact(w http.ResponseWriter, r *http.Request, f family) {
	kind := f.profile.Kind
	md := metadata.FromHeaders(r.Header)

	if !s.deps.Limiter.Allow(clientKey(md)) {
		writeText(w, http.StatusTooManyRequests, "Too many requests")
		return
	}

	q, err := card.ParseQuery(r.URL.RawQuery)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	params, err := f.decode(q)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := s.deps.IDs.NewArtifactID()
	if err != nil {
		s.logger.Error("artifact id generation failed", zap.String("kind", kind), zap.Error(err))
		writeText(w, http.StatusInternalServerError, f.errorText)
		return
	}

	res, err := worker.Do(r.Context(), s.deps.Pool, func(ctx context.Context) (render.Result, error) {
		return s.deps.Renderer.Render(ctx, f.profile, params), nil
	})
	if err != nil {
		switch {
		case errors.Is(err, worker.ErrPoolClosed):
			writeText(w, http.StatusServiceUnavailable, "Service is shutting down")
		case r.Context().Err() != nil:
			s.logger.Debug("client left before render finished",
				zap.String("kind", kind),
				zap.String("id", id),
				zap.Error(err),
			)
		default:
			s.logger.Error("render submission failed", zap.String("kind", kind), zap.Error(err))
			writeText(w, http.StatusInternalServerError, f.errorText)
		}
		return
	}

	if res.OK() {
		w.Header().Set("ETag", sha256.ETag(res.Data))
		writePNG(w, res.Data, uuid.Filename(id, kind), s.cacheControl())
	} else {
		s.logger.Error("render failed",
			zap.String("kind", kind),
			zap.String("id", id),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(res.Err),
		)
		writeText(w, http.StatusInternalServerError, f.errorText)
	}

	query := params.Encode()
	if f.policy.ShouldDispatch(res.OK()) {
		s.deps.Telemetry.Dispatch(analytics.NewPageview(f.route+"?"+query, map[string]any{
			"uuid": id,
			"kind": kind,
		}), md)
	}
	s.archive(res, id, kind, query)
}

func (s *Server) archive(res render.Result, id, kind, query string) {
	if s.deps.Archiver == nil {
		return
	}
	art := archive.Artifact{
		ID:        id,
		Kind:      kind,
		Query:     query,
		Data:      res.Data,
		Duration:  res.Duration,
		CreatedAt: time.Now().UTC(),
	}
	if res.Err != nil {
		art.FailedStage = res.Err.Stage.String()
	}
	if err := s.deps.Archiver.Archive(art); err != nil {
		s.logger.Debug("archive skipped", zap.String("id", id), zap.Error(err))
	}
}

func (s *Server) cacheControl() string {
	return fmt.Sprintf("public, max-age=%d", int(s.opts.CacheMaxAge.Seconds()))
}

func clientKey(md metadata.ClientMetadata) string {
	if addr, ok := md.FirstPublicIP(); ok {
		return addr.String()
	}
	return ratelimit.UnknownClient
}
