package tags

import (
	"fmt"
	"regexp"
	"strings"
)

// Candidate is a token sequence matching the instrument-tag shape
type Candidate struct {
	Tag     string // normalized "ACRONYM-SUFFIX" form, e.g. "PT-101"
	Acronym string // alphabetic prefix, e.g. "PT"
}

// Grammar is the concrete instrument-tag grammar: an alphabetic prefix of
// bounded length followed by a 2-5 digit suffix with an optional trailing
// letter. The prefix and suffix may appear as a single token with an
// optional separator ("PT-101", "PT101") or as two adjacent tokens
// ("PT 0101A"). The grammar is fixed; only the prefix length bound is
// configurable.
type Grammar struct {
	MaxPrefixLen int

	single *regexp.Regexp
	prefix *regexp.Regexp
	suffix *regexp.Regexp
}

// NewGrammar builds a tag grammar with the given prefix length bound
func NewGrammar(maxPrefixLen int) *Grammar {
	if maxPrefixLen <= 0 {
		maxPrefixLen = 6
	}
	return &Grammar{
		MaxPrefixLen: maxPrefixLen,
		single:       regexp.MustCompile(fmt.Sprintf(`^([A-Za-z]{1,%d})[-_]?([0-9]{2,5}[A-Za-z]?)$`, maxPrefixLen)),
		prefix:       regexp.MustCompile(fmt.Sprintf(`^[A-Za-z]{1,%d}$`, maxPrefixLen)),
		suffix:       regexp.MustCompile(`^[0-9]{2,5}[A-Za-z]?$`),
	}
}

// Measurement unit words that may trail a tag token with no separator.
// Longer units come before their prefixes (PSIG before PSI, VDC before V)
// so the longest match wins.
var unitSuffixes = []string{
	"PSIG", "PSIA", "PSI", "BARG", "BAR", "KPA", "MPA",
	"GPM", "M3/H", "KW", "HP", "VDC", "VAC", "°C", "°F", "V",
}

// Scan tokenizes the text and returns every tag candidate in discovery
// order, plus the total number of words analyzed.
func (g *Grammar) Scan(text string) ([]Candidate, int) {
	words := strings.Fields(text)

	var candidates []Candidate
	for i := 0; i < len(words); i++ {
		token := trimToken(words[i])
		if token == "" {
			continue
		}

		if m := g.single.FindStringSubmatch(g.stripUnitSuffix(token)); m != nil {
			candidates = append(candidates, newCandidate(m[1], m[2]))
			continue
		}

		// Adjacent prefix + suffix tokens form one tag
		if g.prefix.MatchString(token) && i+1 < len(words) {
			next := trimToken(words[i+1])
			if g.suffix.MatchString(g.stripUnitSuffix(next)) {
				candidates = append(candidates, newCandidate(token, g.stripUnitSuffix(next)))
				i++
			}
		}
	}

	return candidates, len(words)
}

// stripUnitSuffix drops a trailing measurement-unit word so that a unit
// glued onto a tag token does not defeat recognition
func (g *Grammar) stripUnitSuffix(token string) string {
	upper := strings.ToUpper(token)
	for _, unit := range unitSuffixes {
		if len(upper) > len(unit) && strings.HasSuffix(upper, unit) {
			return token[:len(token)-len(unit)]
		}
	}
	return token
}

func newCandidate(prefix, suffix string) Candidate {
	acronym := strings.ToUpper(prefix)
	return Candidate{
		Tag:     acronym + "-" + strings.ToUpper(suffix),
		Acronym: acronym,
	}
}

// trimToken strips surrounding punctuation left over from tokenization
func trimToken(token string) string {
	return strings.Trim(token, ".,;:()[]{}\"'")
}
