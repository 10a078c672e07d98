package segmenter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/worida2025/sonatrach-manager/internal/pdfx"
)

// Group is a logically distinct datasheet carved out of a larger document
type Group struct {
	Index         int          `json:"index"`
	EquipmentName string       `json:"equipment_name"`
	Pages         []int        `json:"pages"` // 1-based page numbers, ascending
	Text          string       `json:"text"`
	Tables        []pdfx.Table `json:"tables"`
}

// Segmenter partitions extracted pages into datasheet groups
type Segmenter struct {
	maxPagesPerSheet int
}

// NewSegmenter creates a segmenter that forces a boundary after
// maxPagesPerSheet pages without a detected equipment header
func NewSegmenter(maxPagesPerSheet int) *Segmenter {
	if maxPagesPerSheet <= 0 {
		maxPagesPerSheet = 10
	}
	return &Segmenter{maxPagesPerSheet: maxPagesPerSheet}
}

// Title block indicators that suggest the start of a new datasheet
var headerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)data\s*sheet`),
	regexp.MustCompile(`(?i)specification\s*sheet`),
	regexp.MustCompile(`(?i)technical\s*data`),
	regexp.MustCompile(`(?i)product\s*data`),
	regexp.MustCompile(`(?i)equipment\s*data`),
}

// Identification patterns used for equipment name derivation
var equipmentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)model\s*(?:number|no\.?):\s*([A-Z0-9\-]+)`),
	regexp.MustCompile(`(?i)part\s*(?:number|no\.?):\s*([A-Z0-9\-]+)`),
	regexp.MustCompile(`(?i)serial\s*(?:number|no\.?):\s*([A-Z0-9\-]+)`),
	regexp.MustCompile(`(?i)tag\s*(?:number|no\.?):\s*([A-Z0-9\-]+)`),
}

// tagShape is a loose instrument-tag shape used only for name derivation;
// the authoritative grammar lives in the tags package
var tagShape = regexp.MustCompile(`\b[A-Za-z]{1,6}-?[0-9]{2,5}[A-Za-z]?\b`)

// Segment partitions pages into one or more datasheet groups. Page ranges
// across groups are disjoint and their union equals the full input set.
// Empty input yields an empty list.
func (s *Segmenter) Segment(pages []pdfx.Page) []Group {
	if len(pages) == 0 {
		return []Group{}
	}

	var groups []Group
	var current []pdfx.Page

	flush := func() {
		if len(current) == 0 {
			return
		}
		groups = append(groups, s.buildGroup(len(groups)+1, current))
		current = nil
	}

	for i, page := range pages {
		if i > 0 && (s.hasHeader(page.Text) || len(current) >= s.maxPagesPerSheet) {
			flush()
		}
		current = append(current, page)
	}
	flush()

	return groups
}

// hasHeader reports whether the page text matches a new-equipment header
func (s *Segmenter) hasHeader(text string) bool {
	for _, p := range headerPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// buildGroup assembles a group from its pages and derives the equipment name
func (s *Segmenter) buildGroup(index int, pages []pdfx.Page) Group {
	var text strings.Builder
	var tables []pdfx.Table
	pageNums := make([]int, 0, len(pages))

	for i, p := range pages {
		if i > 0 {
			text.WriteString("\n")
		}
		text.WriteString(p.Text)
		tables = append(tables, p.Tables...)
		pageNums = append(pageNums, p.Number)
	}

	return Group{
		Index:         index,
		EquipmentName: deriveEquipmentName(pages[0].Text, index),
		Pages:         pageNums,
		Text:          text.String(),
		Tables:        tables,
	}
}

// deriveEquipmentName names a group from its first page: an explicit
// model/part/serial/tag identifier wins, then the most tag-dense line near
// the top of the page, then a positional fallback.
func deriveEquipmentName(firstPageText string, index int) string {
	for _, p := range equipmentPatterns {
		if m := p.FindStringSubmatch(firstPageText); m != nil {
			return m[1]
		}
	}

	if line := densestTagLine(firstPageText); line != "" {
		return line
	}

	return fmt.Sprintf("Datasheet %d", index)
}

// densestTagLine returns the line with the most instrument-tag shaped tokens
// among the first lines of the page, or "" when no line contains any
func densestTagLine(text string) string {
	const topLines = 10
	const maxNameLen = 60

	lines := strings.Split(text, "\n")
	if len(lines) > topLines {
		lines = lines[:topLines]
	}

	best := ""
	bestCount := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		count := len(tagShape.FindAllString(line, -1))
		if count > bestCount {
			best = line
			bestCount = count
		}
	}

	if len(best) > maxNameLen {
		best = strings.TrimSpace(best[:maxNameLen])
	}
	return best
}
