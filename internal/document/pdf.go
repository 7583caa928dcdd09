package document

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"
)

var (
	colorText    = [3]int{20, 20, 20}
	colorMuted   = [3]int{110, 110, 110}
	colorPrimary = [3]int{30, 58, 95}
)

const (
	font       = "Times"
	lineHeight = 6.5
	tocWidth   = 150.0
)

// PDFRenderer turns a Document into PDF bytes.
type PDFRenderer struct {
	// Org is printed at the top of the cover page.
	Org string
}

// NewPDFRenderer creates a renderer.
func NewPDFRenderer(org string) *PDFRenderer {
	return &PDFRenderer{Org: org}
}

// Render lays out the cover, the table of contents, one page per section
// and the references block.
func (r *PDFRenderer) Render(doc *Document) ([]byte, error) {
	if doc == nil || len(doc.Sections) == 0 {
		return nil, fmt.Errorf("render: empty document")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(30, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr(doc.Cover.Theme), false)

	r.writeCover(pdf, tr, doc.Cover)
	r.writeTOC(pdf, tr, doc)

	for _, s := range doc.Sections {
		pdf.AddPage()
		pdf.SetFont(font, "B", 14)
		setText(pdf, colorPrimary)
		pdf.MultiCell(0, 8, tr(fmt.Sprintf("%d. %s", s.Number, s.Title)), "", "L", false)
		pdf.Ln(3)

		pdf.SetFont(font, "", 12)
		setText(pdf, colorText)
		if s.Failed {
			setText(pdf, colorMuted)
			pdf.SetFont(font, "I", 12)
		}
		for _, p := range s.Paragraphs {
			pdf.MultiCell(0, lineHeight, tr("    "+p), "", "J", false)
			pdf.Ln(2)
		}
	}

	if doc.HasReferences {
		pdf.AddPage()
		pdf.SetFont(font, "B", 14)
		setText(pdf, colorPrimary)
		pdf.CellFormat(0, 10, ReferencesTitle, "", 1, "C", false, 0, "")
		pdf.Ln(2)
		pdf.SetFont(font, "", 12)
		setText(pdf, colorText)
		for _, ref := range doc.References {
			pdf.MultiCell(0, lineHeight, tr(ref), "", "L", false)
			pdf.Ln(1)
		}
	}

	addPageNumbers(pdf)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *PDFRenderer) writeCover(pdf *fpdf.Fpdf, tr func(string) string, c Cover) {
	pdf.AddPage()
	_, pageHeight := pdf.GetPageSize()

	pdf.SetY(25)
	pdf.SetFont(font, "", 12)
	setText(pdf, colorMuted)
	if r.Org != "" {
		pdf.CellFormat(0, 7, tr(r.Org), "", 1, "C", false, 0, "")
	}

	pdf.SetY(95)
	pdf.SetFont(font, "B", 22)
	setText(pdf, colorText)
	pdf.CellFormat(0, 12, tr(strings.ToUpper(c.WorkType)), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont(font, "", 13)
	pdf.CellFormat(0, 8, tr("Subject: "+c.Subject), "", 1, "C", false, 0, "")
	pdf.Ln(2)
	pdf.SetFont(font, "B", 15)
	pdf.MultiCell(0, 8, tr(c.Theme), "", "C", false)

	pdf.SetY(pageHeight - 40)
	pdf.SetFont(font, "", 11)
	setText(pdf, colorMuted)
	pdf.CellFormat(0, 6, c.Date.Format("2006"), "", 1, "C", false, 0, "")
}

func (r *PDFRenderer) writeTOC(pdf *fpdf.Fpdf, tr func(string) string, doc *Document) {
	pdf.AddPage()
	pdf.SetFont(font, "B", 16)
	setText(pdf, colorText)
	pdf.CellFormat(0, 12, "CONTENTS", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont(font, "", 12)
	for _, e := range doc.TOC {
		tocLine(pdf, tr(fmt.Sprintf("%d. %s", e.Number, e.Title)), e.Page)
	}
	if doc.HasReferences {
		tocLine(pdf, ReferencesTitle, doc.ReferencesPage)
	}
}

func tocLine(pdf *fpdf.Fpdf, label string, page int) {
	for pdf.GetStringWidth(label) > tocWidth-10 && len(label) > 4 {
		label = label[:len(label)-4] + "..."
	}
	pdf.CellFormat(tocWidth, 8, label, "", 0, "L", false, 0, "")
	pdf.CellFormat(0, 8, fmt.Sprintf("%d", page), "", 1, "R", false, 0, "")
}

// addPageNumbers numbers every page except the cover.
func addPageNumbers(pdf *fpdf.Fpdf) {
	pdf.SetAutoPageBreak(false, 0)

	total := pdf.PageCount()
	for i := 2; i <= total; i++ {
		pdf.SetPage(i)
		_, pageHeight := pdf.GetPageSize()
		pdf.SetY(pageHeight - 12)
		pdf.SetFont(font, "", 9)
		setText(pdf, colorMuted)
		pdf.CellFormat(0, 5, fmt.Sprintf("%d", i), "", 0, "C", false, 0, "")
	}
}

func setText(pdf *fpdf.Fpdf, c [3]int) {
	pdf.SetTextColor(c[0], c[1], c[2])
}
