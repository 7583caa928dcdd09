// Package document assembles generated sections into a structured
// document and renders it to PDF.
package document

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/iliamunaev/paper-order-pipeline/internal/model"
)

// FirstSectionPage is the page the first section starts on, after the
// cover and the table of contents.
const FirstSectionPage = 3

// ReferencesTitle heads the references block.
const ReferencesTitle = "References"

// Cover holds the title page fields.
type Cover struct {
	WorkType  string
	Subject   string
	Theme     string
	PageCount int
	Date      time.Time
}

// TOCEntry is one line of the table of contents.
type TOCEntry struct {
	Number int
	Title  string
	Page   int
}

// Section is an assembled section body.
type Section struct {
	Number     int
	Title      string
	Paragraphs []string
	// Failed marks sections whose body is the generation placeholder.
	Failed bool
}

// Document is the assembled result handed to the renderer.
type Document struct {
	Cover    Cover
	TOC      []TOCEntry
	Sections []Section
	// HasReferences is false when the source lookup failed; the document
	// then has no references block at all.
	HasReferences  bool
	ReferencesPage int
	References     []string
	Warnings       []string
}

// Input collects everything Assemble needs.
type Input struct {
	Cover      Cover
	Results    []model.SectionResult
	Sources    []model.Source
	SourcesErr error
	// Accessed is the access date printed on references.
	Accessed time.Time
}

// Failed counts the sections that carry the placeholder.
func (d *Document) Failed() int {
	n := 0
	for _, s := range d.Sections {
		if s.Failed {
			n++
		}
	}
	return n
}

// MissingReferences reports whether the document has no usable references,
// either because the lookup failed or because it found nothing.
func (d *Document) MissingReferences() bool {
	return !d.HasReferences || len(d.References) == 0
}

// Assemble builds the document in plan order. It never reorders sections.
func Assemble(in Input) *Document {
	doc := &Document{
		Cover:    in.Cover,
		TOC:      make([]TOCEntry, 0, len(in.Results)),
		Sections: make([]Section, 0, len(in.Results)),
	}

	for i, r := range in.Results {
		n := i + 1
		doc.TOC = append(doc.TOC, TOCEntry{Number: n, Title: r.Title, Page: FirstSectionPage + i})

		sec := Section{Number: n, Title: r.Title, Failed: !r.OK()}
		if r.OK() {
			sec.Paragraphs = Paragraphs(StripTitle(r.Text, r.Title))
		} else {
			sec.Paragraphs = []string{model.PlaceholderText}
		}
		doc.Sections = append(doc.Sections, sec)
	}

	if in.SourcesErr != nil {
		doc.Warnings = append(doc.Warnings, "references unavailable: source lookup failed")
		return doc
	}
	doc.HasReferences = true
	doc.ReferencesPage = FirstSectionPage + len(in.Results)
	doc.References = make([]string, 0, len(in.Sources))
	for i, s := range in.Sources {
		doc.References = append(doc.References, FormatReference(i+1, s, in.Accessed))
	}
	return doc
}

// FormatReference renders one bibliography line.
func FormatReference(n int, s model.Source, accessed time.Time) string {
	title := strings.TrimSpace(s.Title)
	if strings.Contains(strings.ToLower(s.URL), "wikipedia.org") {
		title += " // Wikipedia"
	}
	return fmt.Sprintf("%d. %s [Electronic resource]. URL: %s (accessed: %s).",
		n, title, s.URL, accessed.Format("02.01.2006"))
}

var blankLineRe = regexp.MustCompile(`\n\s*\n`)

// Paragraphs splits text on blank lines and drops empty paragraphs.
// Single line breaks inside a paragraph are folded to spaces.
func Paragraphs(text string) []string {
	parts := blankLineRe.Split(strings.ReplaceAll(text, "\r\n", "\n"), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Join(strings.Fields(p), " ")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

var headingPrefixRe = regexp.MustCompile(`^[#*\s]*(?:(?:chapter|section)\s+)?\d*[.)]?\s*`)

// StripTitle removes a leading line that only echoes the section title.
func StripTitle(text, title string) string {
	text = strings.TrimLeft(text, "\n\r\t ")
	first, rest, found := strings.Cut(text, "\n")
	norm := func(s string) string {
		s = strings.ToLower(strings.TrimSpace(s))
		s = headingPrefixRe.ReplaceAllString(s, "")
		return strings.Trim(s, " *#:.")
	}
	if t := norm(title); t != "" && norm(first) == t {
		if !found {
			return ""
		}
		return strings.TrimLeft(rest, "\n\r\t ")
	}
	return text
}
