package pdfx

import (
	"strings"

	"github.com/ledongthuc/pdf"
)

// Minimum horizontal gap, in points, that separates two cells in a row
const minCellGap = 12.0

// textSpan is a positioned fragment of text on a page
type textSpan struct {
	x, w, size float64
	s          string
}

// extractTables reconstructs table grids from row-positioned text. Rows of
// positioned spans are clustered into cells on horizontal gaps; runs of
// consecutive multi-cell rows become one table.
func (e *Extractor) extractTables(page pdf.Page, pageNum int) (tables []Table) {
	defer func() {
		// ledongthuc/pdf can panic on malformed content streams
		if recover() != nil {
			tables = []Table{}
		}
	}()

	rows, err := page.GetTextByRow()
	if err != nil {
		return []Table{}
	}

	cellRows := make([][]string, 0, len(rows))
	for _, row := range rows {
		spans := make([]textSpan, 0, len(row.Content))
		for _, t := range row.Content {
			spans = append(spans, textSpan{x: t.X, w: t.W, size: t.FontSize, s: t.S})
		}
		cellRows = append(cellRows, clusterCells(spans))
	}

	return gridTables(cellRows, pageNum)
}

// clusterCells splits one row of positioned spans into cell strings
func clusterCells(spans []textSpan) []string {
	if len(spans) == 0 {
		return nil
	}

	var cells []string
	var cell strings.Builder
	prevEnd := spans[0].x

	for i, sp := range spans {
		gap := sp.x - prevEnd
		threshold := minCellGap
		if sp.size*2 > threshold {
			threshold = sp.size * 2
		}
		if i > 0 && gap > threshold {
			cells = append(cells, strings.TrimSpace(cell.String()))
			cell.Reset()
		}
		cell.WriteString(sp.s)
		prevEnd = sp.x + sp.w
	}
	cells = append(cells, strings.TrimSpace(cell.String()))
	return cells
}

// gridTables groups consecutive multi-cell rows into tables
func gridTables(cellRows [][]string, pageNum int) []Table {
	tables := []Table{}
	var current [][]string

	flush := func() {
		// A lone multi-cell row is more likely a header line than a table
		if len(current) >= 2 {
			tables = append(tables, Table{PageNumber: pageNum, Cells: current})
		}
		current = nil
	}

	for _, cells := range cellRows {
		if len(cells) >= 2 {
			current = append(current, cells)
			continue
		}
		flush()
	}
	flush()

	return tables
}
