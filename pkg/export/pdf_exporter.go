package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const (
	pageWidthLandscape = 277.0
	lineHeight         = 5.0
	bottomMargin       = 15.0
)

// PDFExporter renders datasets into a tabular landscape PDF. Long cell values
// wrap within their column.
type PDFExporter struct {
	// ColumnWeights optionally sizes columns relative to each other, keyed by
	// header. Missing headers weigh 1.
	ColumnWeights map[string]float64
}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with an optional title and table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(true, bottomMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(title), "", 1, "C", false, 0, "")
		pdf.Ln(3)
	}

	widths := e.columnWidths(data.Headers)

	pdf.SetFont("Arial", "B", 10)
	for i, header := range data.Headers {
		pdf.CellFormat(widths[i], 8, tr(header), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, row := range data.Rows {
		cells := make([][]string, len(data.Headers))
		lines := 1
		for i, header := range data.Headers {
			split := pdf.SplitLines([]byte(tr(row[header])), widths[i]-2)
			cells[i] = make([]string, len(split))
			for j, part := range split {
				cells[i][j] = string(part)
			}
			if len(split) > lines {
				lines = len(split)
			}
		}

		rowHeight := float64(lines) * lineHeight
		_, pageHeight := pdf.GetPageSize()
		if pdf.GetY()+rowHeight > pageHeight-bottomMargin {
			pdf.AddPage()
		}

		x, y := pdf.GetXY()
		for i := range data.Headers {
			pdf.Rect(x, y, widths[i], rowHeight, "D")
			for j, line := range cells[i] {
				pdf.SetXY(x+1, y+float64(j)*lineHeight)
				pdf.CellFormat(widths[i]-2, lineHeight, line, "", 0, "L", false, 0, "")
			}
			x += widths[i]
		}
		pdf.SetXY(10, y+rowHeight)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *PDFExporter) columnWidths(headers []string) []float64 {
	weights := make([]float64, len(headers))
	total := 0.0
	for i, header := range headers {
		w := 1.0
		if e != nil {
			if configured, ok := e.ColumnWeights[header]; ok && configured > 0 {
				w = configured
			}
		}
		weights[i] = w
		total += w
	}
	for i := range weights {
		weights[i] = pageWidthLandscape * weights[i] / total
	}
	return weights
}
