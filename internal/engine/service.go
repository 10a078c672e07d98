// Package engine is the document processing facade: upload ingestion,
// datasheet segmentation, tag recognition, field editing, and the field
// extraction chat. The surrounding transport shell calls only into this
// package.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/worida2025/sonatrach-manager/internal/chat"
	"github.com/worida2025/sonatrach-manager/internal/config"
	"github.com/worida2025/sonatrach-manager/internal/docstore"
	"github.com/worida2025/sonatrach-manager/internal/knowledge"
	"github.com/worida2025/sonatrach-manager/internal/pdfx"
	"github.com/worida2025/sonatrach-manager/internal/segmenter"
	"github.com/worida2025/sonatrach-manager/internal/tags"
)

// Error taxonomy exposed to callers. Test with errors.Is.
var (
	ErrCorruptDocument  = pdfx.ErrCorruptDocument
	ErrEmptyDocument    = pdfx.ErrEmptyDocument
	ErrDocumentTooLarge = pdfx.ErrDocumentTooLarge
	ErrTagRecognition   = tags.ErrTagRecognition
	ErrDocumentNotFound = docstore.ErrDocumentNotFound
	ErrFieldNotFound    = docstore.ErrFieldNotFound
	ErrUpstreamModel    = chat.ErrUpstreamModel
)

// ProcessedDocument summarizes one datasheet record created by an upload
type ProcessedDocument struct {
	ID            string `json:"id"`
	EquipmentName string `json:"equipment_name"`
	Pages         []int  `json:"pages"`
	FieldsFound   int    `json:"fields_found"`
}

// ProcessResult is the outcome of one upload
type ProcessResult struct {
	Status    string              `json:"status"`
	Message   string              `json:"message"`
	Documents []ProcessedDocument `json:"documents"`
}

// ChatResult is what a chat turn returns to the caller. ExtractedFields has
// at most one entry.
type ChatResult struct {
	Response        string            `json:"response"`
	ExtractedFields map[string]string `json:"extracted_fields"`
}

// Service wires the processing components together. All state lives in the
// injected stores; the service itself is safe for concurrent use.
type Service struct {
	cfg        *config.Config
	extractor  *pdfx.Extractor
	segmenter  *segmenter.Segmenter
	recognizer *tags.Recognizer
	knowledge  *knowledge.Store
	docs       *docstore.Store
	model      chat.ModelClient
	locks      *docstore.LockManager
	logger     *zap.Logger
}

// NewService assembles the engine from its components
func NewService(cfg *config.Config, knowledgeStore *knowledge.Store, docs *docstore.Store, model chat.ModelClient, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:        cfg,
		extractor:  pdfx.NewExtractor(cfg.MaxFileSize),
		segmenter:  segmenter.NewSegmenter(cfg.MaxPagesPerSheet),
		recognizer: tags.NewRecognizer(knowledgeStore, tags.NewGrammar(cfg.TagPrefixMaxLen), logger),
		knowledge:  knowledgeStore,
		docs:       docs,
		model:      model,
		locks:      docstore.NewLockManager(),
		logger:     logger,
	}
}

// Process ingests an uploaded PDF: extract pages, segment into datasheets,
// create one document per datasheet with pre-parsed fields, and run tag
// recognition over each. A corrupt PDF aborts the upload with no document
// created; an empty one still produces a document with an explanatory
// message.
func (s *Service) Process(ctx context.Context, data []byte, filename string) (*ProcessResult, error) {
	pages, err := s.extractor.ExtractPages(data)
	emptyDocument := errors.Is(err, ErrEmptyDocument)
	if err != nil && !emptyDocument {
		s.logger.Warn("upload rejected",
			zap.String("filename", filename), zap.Error(err))
		message := fmt.Sprintf("Could not process %s: the file is not a readable PDF document", filename)
		if errors.Is(err, ErrDocumentTooLarge) {
			message = fmt.Sprintf("Could not process %s: the file exceeds the maximum upload size", filename)
		}
		return &ProcessResult{
			Status:  "error",
			Message: message,
		}, fmt.Errorf("processing %s: %w", filename, err)
	}

	groups := s.segmenter.Segment(pages)
	if len(groups) == 0 {
		// Zero extractable pages: keep an empty record so the upload is
		// still visible and deletable
		groups = []segmenter.Group{{Index: 1, EquipmentName: "Datasheet 1", Pages: []int{}}}
	}

	result := &ProcessResult{Status: "success"}
	created := make([]docstore.Document, 0, len(groups))

	for _, group := range groups {
		doc, err := s.docs.CreateDocument(ctx, docstore.Document{
			Filename:      filename,
			SizeBytes:     int64(len(data)),
			Status:        docstore.StatusProcessing,
			ExtractedData: seedFields(group, emptyDocument),
			Datasheets: []docstore.Datasheet{{
				Index:         group.Index,
				EquipmentName: group.EquipmentName,
				Pages:         group.Pages,
				FullText:      group.Text,
				Tables:        group.Tables,
			}},
		})
		if err != nil {
			return nil, fmt.Errorf("creating document for %s: %w", filename, err)
		}
		created = append(created, doc)
		result.Documents = append(result.Documents, ProcessedDocument{
			ID:            doc.ID,
			EquipmentName: group.EquipmentName,
			Pages:         group.Pages,
			FieldsFound:   len(doc.ExtractedData),
		})
	}

	// Tag recognition fans out per datasheet; only the knowledge store is
	// shared. A recognition failure is recorded on the document but never
	// fails the upload.
	g, gctx := errgroup.WithContext(ctx)
	for i := range created {
		doc := created[i]
		group := groups[i]
		g.Go(func() error {
			tagResult, err := s.recognizer.Recognize(gctx, group.Text, filename)
			if err != nil && !errors.Is(err, ErrTagRecognition) {
				return err
			}
			if err := s.docs.SaveTagResult(gctx, doc.ID, tagResult); err != nil {
				return err
			}
			return s.docs.SetStatus(gctx, doc.ID, docstore.StatusProcessed)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("processing %s: %w", filename, err)
	}

	switch {
	case emptyDocument:
		result.Message = fmt.Sprintf("%s contained no extractable text; an empty record was created", filename)
	case len(groups) == 1:
		result.Message = fmt.Sprintf("Successfully processed %s", filename)
	default:
		result.Message = fmt.Sprintf("Successfully processed %s into %d datasheets", filename, len(groups))
	}

	s.logger.Info("upload processed",
		zap.String("filename", filename),
		zap.Int("pages", len(pages)),
		zap.Int("datasheets", len(groups)),
	)
	return result, nil
}

// seedFields builds a document's initial field set from its datasheet text
func seedFields(group segmenter.Group, empty bool) map[string]string {
	fields := segmenter.ParseTechnicalFields(group.Text)
	fields["Document Type"] = "Equipment Datasheet"
	if len(group.Tables) > 0 {
		fields["Tables Found"] = fmt.Sprintf("%d", len(group.Tables))
	}
	if empty {
		fields = map[string]string{"Document Type": "Equipment Datasheet"}
	}
	return fields
}

// ExtractTags runs tag recognition for a document. When a prior result
// exists the run is skipped and already_processed is reported with the
// stored tags; global counters stay untouched.
func (s *Service) ExtractTags(ctx context.Context, documentID string) (*tags.Result, error) {
	release, err := s.locks.Acquire(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer release()

	existing, err := s.docs.GetTagResult(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &tags.Result{
			Status:             tags.StatusAlreadyProcessed,
			Message:            "Document has already been processed for tags",
			Tags:               existing.Tags,
			NewAcronyms:        []string{},
			FileKey:            existing.FileKey,
			TotalWordsAnalyzed: existing.TotalWordsAnalyzed,
		}, nil
	}

	return s.runTagExtraction(ctx, documentID)
}

// ReprocessTags always forces a fresh recognition run, superseding any prior
// result
func (s *Service) ReprocessTags(ctx context.Context, documentID string) (*tags.Result, error) {
	release, err := s.locks.Acquire(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer release()

	return s.runTagExtraction(ctx, documentID)
}

func (s *Service) runTagExtraction(ctx context.Context, documentID string) (*tags.Result, error) {
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}

	result, err := s.recognizer.Recognize(ctx, documentText(doc), doc.Filename)
	if err != nil && !errors.Is(err, ErrTagRecognition) {
		return nil, err
	}
	if saveErr := s.docs.SaveTagResult(ctx, documentID, result); saveErr != nil {
		return nil, saveErr
	}
	// A recognition failure is part of the result, not an operation error
	return result, nil
}

// TagStats returns the cumulative recognition counters
func (s *Service) TagStats(ctx context.Context) (knowledge.Stats, error) {
	return s.knowledge.Stats(ctx)
}

// SubmitChatMessage runs one field extraction turn against a document.
// Turns for the same document are serialized; abandoning a stuck model call
// via ctx releases the slot.
func (s *Service) SubmitChatMessage(ctx context.Context, documentID, message string) (*ChatResult, error) {
	release, err := s.locks.Acquire(ctx, documentID)
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}

	session := chat.NewSession(documentID, s.model, s.docs, s.cfg.ChatContextChars, s.logger)
	turn, err := session.Submit(ctx, message, documentText(doc), doc.ExtractedData)
	if err != nil {
		if errors.Is(err, ErrUpstreamModel) {
			// Raw collaborator error text stays behind the boundary
			s.logger.Warn("model call failed",
				zap.String("document_id", documentID), zap.Error(err))
			return nil, fmt.Errorf("the extraction assistant is unavailable, please retry: %w", ErrUpstreamModel)
		}
		return nil, err
	}

	return &ChatResult{
		Response:        turn.Response,
		ExtractedFields: turn.ExtractedFields,
	}, nil
}

// UpdateFields replaces a document's entire field set
func (s *Service) UpdateFields(ctx context.Context, documentID string, fields map[string]string) error {
	release, err := s.locks.Acquire(ctx, documentID)
	if err != nil {
		return err
	}
	defer release()

	return s.docs.SetFields(ctx, documentID, fields)
}

// DeleteField removes one field from a document
func (s *Service) DeleteField(ctx context.Context, documentID, name string) error {
	release, err := s.locks.Acquire(ctx, documentID)
	if err != nil {
		return err
	}
	defer release()

	return s.docs.DeleteField(ctx, documentID, name)
}

// GetDocument loads a document with fields, chat history, and tag results
func (s *Service) GetDocument(ctx context.Context, documentID string) (*docstore.Document, error) {
	return s.docs.Get(ctx, documentID)
}

// ListDocuments returns all documents, newest first
func (s *Service) ListDocuments(ctx context.Context) ([]docstore.Document, error) {
	return s.docs.ListDocuments(ctx)
}

// DeleteDocument removes a document and everything it owns
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	release, err := s.locks.Acquire(ctx, documentID)
	if err != nil {
		return err
	}
	defer release()

	return s.docs.DeleteDocument(ctx, documentID)
}

// MarkFalsePositive permanently suppresses recognition of an acronym
func (s *Service) MarkFalsePositive(ctx context.Context, token string) error {
	return s.knowledge.MarkFalsePositive(ctx, token)
}

// documentText concatenates a document's datasheet texts
func documentText(doc *docstore.Document) string {
	parts := make([]string, 0, len(doc.Datasheets))
	for _, ds := range doc.Datasheets {
		parts = append(parts, ds.FullText)
	}
	return strings.Join(parts, "\n")
}
