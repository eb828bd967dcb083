package export

import (
	"fmt"
	"io"
	"time"

	"github.com/Togather-Foundation/retriever/internal/search"
	"github.com/go-pdf/fpdf"
)

const DefaultMaxPDFRows = 1000

const (
	pdfFont       = "Helvetica"
	pdfBodySize   = 7
	pdfHeaderSize = 8
	pdfRowHeight  = 5
)

type PDFOptions struct {
	Title       string
	MaxRows     int
	GeneratedAt time.Time
}

// WritePDF renders an A4 landscape report. The column header repeats on
// every page and rows past MaxRows are left out with a note.
func WritePDF(w io.Writer, out *search.Outcome, opts PDFOptions) (int, error) {
	if opts.MaxRows <= 0 {
		opts.MaxRows = DefaultMaxPDFRows
	}
	if opts.Title == "" {
		opts.Title = "Search results"
	}
	if opts.GeneratedAt.IsZero() {
		opts.GeneratedAt = time.Now().UTC()
	}
	t := flatten(out, opts.MaxRows)

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(opts.Title, true)
	pdf.SetCreator("retriever", true)
	pdf.SetAutoPageBreak(true, 12)
	pdf.AliasNbPages("")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageW, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	colW := (pageW - left - right) / float64(len(t.header))

	pdf.SetFooterFunc(func() {
		pdf.SetY(-10)
		pdf.SetFont(pdfFont, "I", 7)
		pdf.CellFormat(0, 5, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont(pdfFont, "B", 14)
	pdf.CellFormat(0, 8, tr(opts.Title), "", 1, "L", false, 0, "")
	pdf.SetFont(pdfFont, "", 9)
	total := out.TotalRows
	summary := []string{
		"Identifier: " + out.Identifier,
		"Generated: " + opts.GeneratedAt.UTC().Format(time.RFC3339),
		fmt.Sprintf("People: %d  Rows: %d  Sources queried: %d  Sources errored: %d",
			len(out.People), total, out.SourcesQueried, out.SourcesErrored),
	}
	for _, line := range summary {
		pdf.CellFormat(0, 5, tr(line), "", 1, "L", false, 0, "")
	}
	if total > len(t.records) {
		pdf.SetFont(pdfFont, "I", 9)
		pdf.CellFormat(0, 5, fmt.Sprintf("Showing the first %d of %d rows.", len(t.records), total), "", 1, "L", false, 0, "")
	}
	pdf.Ln(3)

	// Pages added from here on start with the column header.
	headerFn := func() {
		pdf.SetFont(pdfFont, "B", pdfHeaderSize)
		pdf.SetFillColor(225, 225, 225)
		for _, h := range t.header {
			pdf.CellFormat(colW, pdfRowHeight+1, fit(pdf, tr(h), colW), "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont(pdfFont, "", pdfBodySize)
	}
	pdf.SetHeaderFunc(headerFn)
	headerFn()

	for _, rec := range t.records {
		for _, v := range rec {
			pdf.CellFormat(colW, pdfRowHeight, fit(pdf, tr(v), colW), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}
	if len(t.records) == 0 {
		pdf.CellFormat(0, pdfRowHeight, "No matching rows.", "1", 1, "C", false, 0, "")
	}

	if err := pdf.Output(w); err != nil {
		return 0, fmt.Errorf("render pdf: %w", err)
	}
	return len(t.records), nil
}

// fit truncates s with an ellipsis so it fits a cell of width w.
func fit(pdf *fpdf.Fpdf, s string, w float64) string {
	limit := w - 2
	if pdf.GetStringWidth(s) <= limit {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && pdf.GetStringWidth(string(r)+"...") > limit {
		r = r[:len(r)-1]
	}
	return string(r) + "..."
}
