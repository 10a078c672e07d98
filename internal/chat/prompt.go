package chat

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const systemPrompt = `You are an expert at analyzing engineering documents, particularly P&ID (Process and Instrumentation Diagrams) and technical datasheets. You help users understand what information is available in a document and extract specific fields from it.`

const extractionInstruction = `If the user asks you to extract a field, extract at most one field per reply. End your reply with the extracted field as a single JSON object on its own line, exactly in this form:
{"field_name": "<name>", "field_value": "<value>"}
If no field should be extracted, reply normally without any JSON object. If the requested information is not in the document, say so clearly.`

// BuildPrompt assembles the system and user prompts for one turn. The
// document text is clipped to contextChars so a large upload cannot blow the
// model's context window.
func BuildPrompt(documentText string, currentFields map[string]string, userMessage string, contextChars int) (system, user string) {
	var b strings.Builder

	b.WriteString("Document content:\n")
	b.WriteString(clip(documentText, contextChars))
	b.WriteString("\n\n")

	if len(currentFields) > 0 {
		b.WriteString("Fields already extracted:\n")
		names := make([]string, 0, len(currentFields))
		for name := range currentFields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "- %s: %s\n", name, currentFields[name])
		}
		b.WriteString("\n")
	}

	b.WriteString("User question: ")
	b.WriteString(userMessage)
	b.WriteString("\n\n")
	b.WriteString(extractionInstruction)

	return systemPrompt, b.String()
}

func clip(text string, limit int) string {
	if limit <= 0 || len(text) <= limit {
		return text
	}
	return text[:limit] + "\n[document truncated]"
}

var codeFence = regexp.MustCompile("```(?:json)?")

// ParseProposals finds field proposals embedded in the model's reply text,
// in appearance order. Parsing is lenient: code fences are tolerated and
// JSON objects missing a field_name are skipped.
func ParseProposals(text string) []FieldProposal {
	cleaned := codeFence.ReplaceAllString(text, "")

	var proposals []FieldProposal
	for i := 0; i < len(cleaned); i++ {
		if cleaned[i] != '{' {
			continue
		}
		end := matchBrace(cleaned, i)
		if end < 0 {
			continue
		}

		var raw struct {
			FieldName  string `json:"field_name"`
			FieldValue string `json:"field_value"`
		}
		if err := json.Unmarshal([]byte(cleaned[i:end+1]), &raw); err == nil && raw.FieldName != "" {
			proposals = append(proposals, FieldProposal{Name: raw.FieldName, Value: raw.FieldValue})
		}
		i = end
	}
	return proposals
}

// matchBrace returns the index of the brace closing the one at start, or -1
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
