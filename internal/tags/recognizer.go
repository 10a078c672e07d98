// Package tags recognizes instrument tags in extracted datasheet text and
// classifies their acronyms against the shared knowledge dictionary.
package tags

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"go.uber.org/zap"
)

// ErrTagRecognition indicates a recognition run could not be performed.
// Non-fatal to the upload pipeline: the document still becomes processed
// with empty tags.
var ErrTagRecognition = errors.New("tag recognition failed")

// Recognition run statuses
const (
	StatusSuccess          = "success"
	StatusError            = "error"
	StatusAlreadyProcessed = "already_processed"
)

// Result is the outcome of one recognition run. Immutable once produced;
// a rerun produces a new result that supersedes this one.
type Result struct {
	Status             string   `json:"status"`
	Message            string   `json:"message"`
	Tags               []string `json:"tags"`
	NewAcronyms        []string `json:"new_acronyms"`
	FileKey            string   `json:"file_key,omitempty"`
	TotalWordsAnalyzed int      `json:"total_words_analyzed"`
}

// Knowledge is the slice of the acronym dictionary the recognizer consults
type Knowledge interface {
	IsKnown(ctx context.Context, token string) (bool, error)
	IsFalsePositive(ctx context.Context, token string) (bool, error)
	RecordRun(ctx context.Context, learned []string, instrumentsFound int) error
}

// Recognizer scans datasheet text for instrument tags
type Recognizer struct {
	knowledge Knowledge
	grammar   *Grammar
	logger    *zap.Logger
}

// NewRecognizer creates a recognizer over the shared knowledge store
func NewRecognizer(knowledge Knowledge, grammar *Grammar, logger *zap.Logger) *Recognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recognizer{
		knowledge: knowledge,
		grammar:   grammar,
		logger:    logger,
	}
}

// Recognize scans the text, classifies every candidate against the
// dictionary, and commits the run outcome (newly learned acronyms plus
// counter increments) as one transaction.
//
// Classification order per candidate: false positive wins (silent discard),
// then known, then new. An acronym learned earlier in the same run counts
// as known for later candidates but is reported in new_acronyms once.
func (r *Recognizer) Recognize(ctx context.Context, text, filename string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return &Result{
			Status:      StatusError,
			Message:     "could not extract text from document",
			Tags:        []string{},
			NewAcronyms: []string{},
		}, fmt.Errorf("%w: empty text", ErrTagRecognition)
	}

	candidates, totalWords := r.grammar.Scan(text)

	seenTags := make(map[string]bool)
	learnedThisRun := make(map[string]bool)
	tags := []string{}
	newAcronyms := []string{}

	for _, c := range candidates {
		fp, err := r.knowledge.IsFalsePositive(ctx, c.Acronym)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTagRecognition, err)
		}
		if fp {
			continue
		}

		known, err := r.knowledge.IsKnown(ctx, c.Acronym)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTagRecognition, err)
		}

		if !known && !learnedThisRun[c.Acronym] {
			learnedThisRun[c.Acronym] = true
			newAcronyms = append(newAcronyms, c.Acronym)
		}

		if !seenTags[c.Tag] {
			seenTags[c.Tag] = true
			tags = append(tags, c.Tag)
		}
	}

	if err := r.knowledge.RecordRun(ctx, newAcronyms, len(tags)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTagRecognition, err)
	}

	r.logger.Debug("tag recognition run complete",
		zap.String("filename", filename),
		zap.Int("words_analyzed", totalWords),
		zap.Int("tags_found", len(tags)),
		zap.Int("new_acronyms", len(newAcronyms)),
	)

	return &Result{
		Status:             StatusSuccess,
		Message:            fmt.Sprintf("Processed %s - found %d tags", filename, len(tags)),
		Tags:               tags,
		NewAcronyms:        newAcronyms,
		FileKey:            FileKey(filename),
		TotalWordsAnalyzed: totalWords,
	}, nil
}

// FileKey derives a stable dedup identifier for an uploaded file
func FileKey(filename string) string {
	h := fnv.New32a()
	h.Write([]byte(filename))
	return fmt.Sprintf("file_%08x", h.Sum32())
}
