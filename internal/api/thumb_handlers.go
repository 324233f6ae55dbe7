package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/naoTimesdev/naotimes-og/internal/thumb"
	"github.com/naoTimesdev/naotimes-og/internal/worker"
)

func (s *Server) bandcampThumb(w http.ResponseWriter, r *http.Request) {
	if s.deps.Thumbs == nil {
		s.notFound(w, r)
		return
	}
	raw := r.URL.Query().Get("url")
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	href, err := s.deps.Thumbs.Bandcamp(r.Context(), raw)
	if err != nil {
		s.thumbError(w, "bandcamp", err)
		return
	}
	http.Redirect(w, r, href, http.StatusSeeOther)
}

func (s *Server) soundcloudThumb(w http.ResponseWriter, r *http.Request) {
	if s.deps.Thumbs == nil {
		s.notFound(w, r)
		return
	}
	href, err := s.deps.Thumbs.SoundCloud(r.Context(), chi.URLParam(r, "artist"), chi.URLParam(r, "title"))
	if err != nil {
		s.thumbError(w, "soundcloud", err)
		return
	}
	http.Redirect(w, r, href, http.StatusSeeOther)
}

func (s *Server) youtubeMusicThumb(w http.ResponseWriter, r *http.Request) {
	if s.deps.Thumbs == nil {
		s.notFound(w, r)
		return
	}
	id := chi.URLParam(r, "id")
	raw, err := s.deps.Thumbs.YouTubeMusic(r.Context(), id)
	if err != nil {
		s.thumbError(w, "ytm", err)
		return
	}
	square, err := worker.Do(r.Context(), s.deps.Pool, func(context.Context) ([]byte, error) {
		return thumb.CropSquare(raw)
	})
	if err != nil {
		s.logger.Error("thumbnail crop failed", zap.String("id", id), zap.Error(err))
		writeText(w, http.StatusInternalServerError, "Error writing cropped image")
		return
	}
	writePNG(w, square, id+".thumb.png", "")
}

func (s *Server) thumbError(w http.ResponseWriter, source string, err error) {
	switch {
	case errors.Is(err, thumb.ErrInvalidSource):
		writeText(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, thumb.ErrNotFound):
		writeText(w, http.StatusNotFound, "Failed to find image")
	default:
		s.logger.Warn("thumbnail lookup failed", zap.String("source", source), zap.Error(err))
		writeText(w, http.StatusInternalServerError, "Failed to fetch URL")
	}
}
