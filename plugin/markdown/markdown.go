// Package markdown renders assistant replies to HTML for the dashboard
// transcript.
package markdown

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Service renders markdown to HTML.
type Service interface {
	Render(source string) (string, error)
}

type service struct {
	md goldmark.Markdown
}

// NewService creates a markdown service. Raw HTML in the source is
// escaped; assistant output is not trusted markup.
func NewService() Service {
	return &service{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		),
	}
}

func (s *service) Render(source string) (string, error) {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(source), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
