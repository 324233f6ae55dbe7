// Package templates holds the HTML pages the headless browser captures.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io"
)

// Page names.
const (
	UserCard = "user_card.html"
	OGImage  = "og_image.html"
)

//go:embed *.html
var files embed.FS

// Set is the parsed page collection. It is safe for concurrent use.
type Set struct {
	tmpl *template.Template
}

// New parses every embedded page.
func New() (*Set, error) {
	tmpl, err := template.ParseFS(files, "*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Set{tmpl: tmpl}, nil
}

// Render executes page with data into w. The page is buffered first so a
// failed execution never leaves a partial document behind.
func (s *Set) Render(w io.Writer, page string, data any) error {
	var buf bytes.Buffer
	if err := s.tmpl.ExecuteTemplate(&buf, page, data); err != nil {
		return fmt.Errorf("render %s: %w", page, err)
	}
	if _, err := buf.WriteTo(w); err != nil {
		return fmt.Errorf("write %s: %w", page, err)
	}
	return nil
}
