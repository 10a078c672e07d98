package segmenter

import (
	"regexp"
	"strings"
)

// fieldPattern pairs a field name with its extraction pattern. Order matters
// only for deterministic iteration; the result is a plain mapping.
type fieldPattern struct {
	name    string
	pattern *regexp.Regexp
}

// Common technical fields found on equipment datasheets
var technicalFieldPatterns = []fieldPattern{
	{"Model", regexp.MustCompile(`(?i)model\s*(?:number|no\.?):\s*([A-Z0-9\-.\s]+?)(?:\n|$)`)},
	{"Manufacturer", regexp.MustCompile(`(?i)manufacturer:\s*([A-Za-z0-9\s&,.-]+?)(?:\n|$)`)},
	{"Serial Number", regexp.MustCompile(`(?i)serial\s*(?:number|no\.?):\s*([A-Z0-9\-]+)`)},
	{"Flow Rate", regexp.MustCompile(`(?i)flow\s*rate:\s*([0-9.,]+\s*[A-Za-z/]+)`)},
	{"Pressure", regexp.MustCompile(`(?i)pressure:\s*([0-9.,]+\s*[A-Za-z/]+)`)},
	{"Temperature", regexp.MustCompile(`(?i)temperature:\s*([0-9.,\-°CF\s]+?)(?:\n|$)`)},
	{"Power", regexp.MustCompile(`(?i)power:\s*([0-9.,]+\s*[A-Za-z/]+)`)},
	{"Voltage", regexp.MustCompile(`(?i)voltage:\s*([0-9.,]+\s*[Vv])`)},
	{"Material", regexp.MustCompile(`(?i)material:\s*([A-Za-z0-9\s,.-]+?)(?:\n|$)`)},
	{"Size", regexp.MustCompile(`(?i)size:\s*([0-9.,\s"x\-A-Za-z]+?)(?:\n|$)`)},
	{"Weight", regexp.MustCompile(`(?i)weight:\s*([0-9.,]+\s*[A-Za-z]+)`)},
}

// ParseTechnicalFields pre-parses common labeled fields from datasheet text.
// These seed the document's extracted data before any assistant-driven
// extraction happens.
func ParseTechnicalFields(text string) map[string]string {
	fields := make(map[string]string)
	for _, fp := range technicalFieldPatterns {
		if m := fp.pattern.FindStringSubmatch(text); m != nil {
			value := strings.TrimSpace(m[1])
			if value != "" {
				fields[fp.name] = value
			}
		}
	}
	return fields
}
