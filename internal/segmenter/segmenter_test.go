package segmenter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worida2025/sonatrach-manager/internal/pdfx"
)

func page(num int, text string) pdfx.Page {
	return pdfx.Page{Number: num, Text: text, Tables: []pdfx.Table{}}
}

func TestSegmentEmptyInput(t *testing.T) {
	s := NewSegmenter(10)
	groups := s.Segment(nil)
	assert.Empty(t, groups)
	assert.NotNil(t, groups)
}

func TestSegmentNoBoundariesSingleGroup(t *testing.T) {
	s := NewSegmenter(10)
	groups := s.Segment([]pdfx.Page{
		page(1, "some process description"),
		page(2, "more process description"),
		page(3, "notes and legend"),
	})

	require.Len(t, groups, 1)
	assert.Equal(t, []int{1, 2, 3}, groups[0].Pages)
}

func TestSegmentHeaderBoundaryBeforePageTwo(t *testing.T) {
	s := NewSegmenter(10)
	groups := s.Segment([]pdfx.Page{
		page(1, "cover sheet for the compressor package"),
		page(2, "EQUIPMENT DATA SHEET\nModel No.: AC-9000"),
		page(3, "continuation of the datasheet"),
	})

	require.Len(t, groups, 2)
	assert.Equal(t, []int{1}, groups[0].Pages)
	assert.Equal(t, []int{2, 3}, groups[1].Pages)
}

func TestSegmentPageUnionIsComplete(t *testing.T) {
	s := NewSegmenter(3)

	var pages []pdfx.Page
	for i := 1; i <= 8; i++ {
		text := fmt.Sprintf("page %d body", i)
		if i == 5 {
			text = "TECHNICAL DATA\n" + text
		}
		pages = append(pages, page(i, text))
	}

	groups := s.Segment(pages)

	seen := map[int]int{}
	for _, g := range groups {
		require.NotEmpty(t, g.Pages)
		for _, p := range g.Pages {
			seen[p]++
		}
	}

	// Union equals the full input set, ranges pairwise disjoint
	require.Len(t, seen, len(pages))
	for p, count := range seen {
		assert.Equal(t, 1, count, "page %d appears %d times", p, count)
	}
}

func TestSegmentMaxPagesForcesBoundary(t *testing.T) {
	s := NewSegmenter(2)
	groups := s.Segment([]pdfx.Page{
		page(1, "a"), page(2, "b"), page(3, "c"), page(4, "d"), page(5, "e"),
	})

	require.Len(t, groups, 3)
	assert.Equal(t, []int{1, 2}, groups[0].Pages)
	assert.Equal(t, []int{3, 4}, groups[1].Pages)
	assert.Equal(t, []int{5}, groups[2].Pages)
}

func TestDeriveEquipmentName(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "model number wins",
			text: "EQUIPMENT DATA SHEET\nModel No.: AC-9000\nPT-101 FT-202",
			want: "AC-9000",
		},
		{
			name: "tag number label",
			text: "Tag No.: P-4501A\nsome body text",
			want: "P-4501A",
		},
		{
			name: "tag dense line",
			text: "General notes\nPT-101 FT-202 LT-303 separator overheads\nmore text",
			want: "PT-101 FT-202 LT-303 separator overheads",
		},
		{
			name: "fallback",
			text: "no identifiers anywhere on this page",
			want: "Datasheet 4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveEquipmentName(tt.text, 4))
		})
	}
}

func TestParseTechnicalFields(t *testing.T) {
	text := "EQUIPMENT DATA SHEET\n" +
		"Manufacturer: Acme Controls\n" +
		"Model No.: AC-9000\n" +
		"Flow Rate: 120 m3/h\n" +
		"Pressure: 300 PSI\n" +
		"Voltage: 440 V\n"

	fields := ParseTechnicalFields(text)

	assert.Equal(t, "Acme Controls", fields["Manufacturer"])
	assert.Equal(t, "AC-9000", fields["Model"])
	assert.Equal(t, "120 m3/h", fields["Flow Rate"])
	assert.Equal(t, "300 PSI", fields["Pressure"])
	assert.Equal(t, "440 V", fields["Voltage"])
	assert.NotContains(t, fields, "Weight")
}

func TestParseTechnicalFieldsEmptyText(t *testing.T) {
	assert.Empty(t, ParseTechnicalFields(""))
}
