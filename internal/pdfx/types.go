package pdfx

// Page holds the extracted content of a single PDF page
type Page struct {
	Number int     `json:"page_number"`
	Text   string  `json:"text"`
	Tables []Table `json:"tables"`
}

// Table is a 2-D grid of cell strings reconstructed from positioned text.
// Rows may be ragged; an empty cell is an empty string, never null.
type Table struct {
	PageNumber int        `json:"page"`
	Cells      [][]string `json:"cells"`
}

// IsEmpty reports whether the page yielded no usable content
func (p Page) IsEmpty() bool {
	return p.Text == "" && len(p.Tables) == 0
}
