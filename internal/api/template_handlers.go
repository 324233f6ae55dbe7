package api

import (
	"bytes"
	"net/http"

	"go.uber.org/zap"

	"github.com/naoTimesdev/naotimes-og/internal/card"
	"github.com/naoTimesdev/naotimes-og/internal/templates"
)

func (s *Server) userCardTemplate(w http.ResponseWriter, r *http.Request) {
	q, err := card.ParseQuery(r.URL.RawQuery)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := card.DecodeUserCard(q)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writePage(w, templates.UserCard, req.View(s.opts.StatusPicker))
}

func (s *Server) ogImageTemplate(w http.ResponseWriter, r *http.Request) {
	q, err := card.ParseQuery(r.URL.RawQuery)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := card.DecodeOGImage(q)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writePage(w, templates.OGImage, req.View())
}

func (s *Server) writePage(w http.ResponseWriter, page string, data any) {
	var buf bytes.Buffer
	if err := s.deps.Templates.Render(&buf, page, data); err != nil {
		s.logger.Error("template render failed", zap.String("page", page), zap.Error(err))
		writeText(w, http.StatusInternalServerError, "Failed to render template")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
