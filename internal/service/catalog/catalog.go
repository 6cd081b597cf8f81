// Package catalog indexes the source documents the backend may cite.
package catalog

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/podc/assistant-widget/internal/model/widget"
)

// Document is one source document of the knowledge base.
type Document struct {
	ID       string   `yaml:"id"`
	Filename string   `yaml:"filename"`
	Category string   `yaml:"category"`
	URL      string   `yaml:"url"`
	Keywords []string `yaml:"keywords"`
	Summary  string   `yaml:"summary"`
}

// Version reports the edition encoded in the filename suffix.
func (d Document) Version() string {
	return widget.FileVersion(d.Filename)
}

// Citation converts the document to the citation shape sent to the widget.
func (d Document) Citation() widget.Citation {
	return widget.Citation{
		Filename: d.Filename,
		URL:      d.URL,
		FileID:   d.ID,
		Category: d.Category,
	}
}

type catalogFile struct {
	Documents []Document `yaml:"documents"`
}

// Catalog is an immutable, searchable list of documents.
type Catalog struct {
	docs  []Document
	terms [][]string
}

// New builds a catalog from docs. Documents without a filename are skipped.
func New(docs []Document) *Catalog {
	c := &Catalog{}
	for _, d := range docs {
		if strings.TrimSpace(d.Filename) == "" {
			continue
		}
		c.docs = append(c.docs, d)
		c.terms = append(c.terms, documentTerms(d))
	}
	return c
}

// Load reads a YAML catalog file of the form `documents: [...]`.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return New(file.Documents), nil
}

// Len returns the number of indexed documents.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.docs)
}

// Search returns up to limit documents sharing terms with query, best match
// first. On equal scores newer editions win, then catalog order.
func (c *Catalog) Search(query string, limit int) []Document {
	if c == nil || limit <= 0 {
		return nil
	}
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	type hit struct {
		idx   int
		score int
	}
	var hits []hit
	for i, terms := range c.terms {
		if score := overlap(queryTerms, terms); score > 0 {
			hits = append(hits, hit{idx: i, score: score})
		}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		return versionRank(c.docs[hits[a].idx]) < versionRank(c.docs[hits[b].idx])
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Document, 0, len(hits))
	for _, h := range hits {
		out = append(out, c.docs[h.idx])
	}
	return out
}

func versionRank(d Document) int {
	switch d.Version() {
	case widget.VersionNew:
		return 0
	case widget.VersionUnknown:
		return 1
	default:
		return 2
	}
}

func documentTerms(d Document) []string {
	var b strings.Builder
	b.WriteString(widget.CleanFileName(d.Filename))
	b.WriteByte(' ')
	b.WriteString(d.Category)
	b.WriteByte(' ')
	b.WriteString(strings.Join(d.Keywords, " "))
	b.WriteByte(' ')
	b.WriteString(d.Summary)
	return tokenize(b.String())
}

func overlap(query, doc []string) int {
	set := make(map[string]struct{}, len(doc))
	for _, t := range doc {
		set[t] = struct{}{}
	}
	score := 0
	for _, t := range query {
		if _, ok := set[t]; ok {
			score++
		}
	}
	return score
}

// stopWords are ignored when matching.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "can": {}, "do": {}, "for": {}, "how": {},
	"i": {}, "in": {}, "is": {}, "it": {}, "my": {}, "of": {}, "on": {}, "or": {},
	"the": {}, "to": {}, "what": {}, "with": {},
}

// tokenize lowercases text and splits it into distinct words.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, stop := stopWords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}
