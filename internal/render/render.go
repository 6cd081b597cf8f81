// Package render turns transcript content into HTML fragments.
package render

import (
	"bytes"
	"fmt"
	"html"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/podc/assistant-widget/internal/model/widget"
)

// Markdown converts bot message sources with goldmark. Raw HTML in the source
// is not passed through.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown builds a renderer with GitHub flavoured extensions.
func NewMarkdown() *Markdown {
	return &Markdown{
		md: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Markdown renders src as an HTML fragment.
func (m *Markdown) Markdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return buf.String(), nil
}

// PlainText renders user text as a single escaped paragraph.
func PlainText(text string) string {
	return "<p>" + html.EscapeString(text) + "</p>"
}

// Citations deduplicates citations by cleaned filename, so the _NEW and _OLD
// editions of one document collapse into a single entry. The first occurrence
// wins and the original order is kept.
func Citations(citations []widget.Citation) []widget.DisplayCitation {
	if len(citations) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(citations))
	out := make([]widget.DisplayCitation, 0, len(citations))
	for _, c := range citations {
		label := widget.CleanFileName(c.Filename)
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, widget.DisplayCitation{Label: label, URL: c.URL})
	}
	return out
}

var citationsTmpl = template.Must(template.New("citations").Parse(
	`<ul class="citations-list">{{range .}}<li>Source: {{if .Linked}}<a href="{{.URL}}" target="_blank" rel="noopener noreferrer">{{.Label}}</a>{{else}}{{.Label}}{{end}}</li>{{end}}</ul>`))

// CitationList renders display citations as a list. Linked entries open in a
// new context without an opener or referrer.
func CitationList(sources []widget.DisplayCitation) (string, error) {
	if len(sources) == 0 {
		return "", nil
	}
	var buf bytes.Buffer
	if err := citationsTmpl.Execute(&buf, sources); err != nil {
		return "", fmt.Errorf("render citations: %w", err)
	}
	return buf.String(), nil
}
