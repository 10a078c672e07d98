// Package docstore persists documents carved out of uploads: their extracted
// field sets, datasheet records, chat history, and tag extraction results.
// Every mutation on a document is a single SQLite transaction, and callers
// serialize per-document work through the LockManager, so readers never see
// a partial write.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/worida2025/sonatrach-manager/internal/pdfx"
	"github.com/worida2025/sonatrach-manager/internal/tags"
)

var (
	// ErrDocumentNotFound indicates the document id does not exist
	ErrDocumentNotFound = errors.New("document not found")

	// ErrFieldNotFound indicates a delete targeted a field the document
	// does not have. The document's field set is left unchanged.
	ErrFieldNotFound = errors.New("field not found")
)

// Document lifecycle statuses
const (
	StatusProcessing = "processing"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// Document is one logical datasheet record carved out of an upload
type Document struct {
	ID            string            `json:"id"`
	Filename      string            `json:"filename"`
	SizeBytes     int64             `json:"size_bytes"`
	Status        string            `json:"status"`
	UploadedAt    time.Time         `json:"uploaded_at"`
	ExtractedData map[string]string `json:"extracted_data"`
	TagResult     *tags.Result      `json:"tag_extraction_result,omitempty"`
	ChatHistory   []ChatTurn        `json:"chat_history"`
	Datasheets    []Datasheet       `json:"datasheets,omitempty"`
}

// Datasheet carries the raw content behind a document: the page range it
// covers in the original upload and the extracted text and tables
type Datasheet struct {
	ID            string       `json:"id"`
	DocumentID    string       `json:"document_id"`
	Index         int          `json:"index"`
	EquipmentName string       `json:"equipment_name"`
	Pages         []int        `json:"pages"`
	FullText      string       `json:"full_text"`
	Tables        []pdfx.Table `json:"tables,omitempty"`
}

// ChatTurn is one completed exchange in a document's extraction chat.
// Immutable once written; ordering is append order.
type ChatTurn struct {
	ID              string            `json:"id"`
	Message         string            `json:"message"`
	Response        string            `json:"response"`
	ExtractedFields map[string]string `json:"extracted_fields"`
	CreatedAt       time.Time         `json:"timestamp"`
}

// Store is the SQLite-backed document store
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const migration = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	filename    TEXT NOT NULL,
	size_bytes  INTEGER NOT NULL DEFAULT 0,
	status      TEXT NOT NULL,
	uploaded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS datasheets (
	id             TEXT PRIMARY KEY,
	document_id    TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	idx            INTEGER NOT NULL,
	equipment_name TEXT NOT NULL,
	pages          TEXT NOT NULL,
	full_text      TEXT NOT NULL,
	tables         TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS fields (
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	value       TEXT NOT NULL,
	PRIMARY KEY (document_id, name)
);

CREATE TABLE IF NOT EXISTS chat_turns (
	id          TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	message     TEXT NOT NULL,
	response    TEXT NOT NULL,
	field_name  TEXT,
	field_value TEXT,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS tag_results (
	document_id    TEXT PRIMARY KEY REFERENCES documents(id) ON DELETE CASCADE,
	status         TEXT NOT NULL,
	message        TEXT NOT NULL,
	tags           TEXT NOT NULL,
	new_acronyms   TEXT NOT NULL,
	file_key       TEXT NOT NULL,
	words_analyzed INTEGER NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_datasheets_document ON datasheets(document_id);
CREATE INDEX IF NOT EXISTS idx_chat_turns_document ON chat_turns(document_id, created_at);
`

// Migrate creates the schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "docstore: migrate")
}

// CreateDocument inserts a document together with its datasheets and initial
// field set in one transaction. Missing ids and the upload timestamp are
// filled in; the stored document is returned.
func (s *Store) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	if doc.Status == "" {
		doc.Status = StatusProcessing
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Document{}, eris.Wrap(err, "docstore: begin create")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, filename, size_bytes, status, uploaded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.SizeBytes, doc.Status, doc.UploadedAt,
	); err != nil {
		return Document{}, eris.Wrap(err, "docstore: insert document")
	}

	for i := range doc.Datasheets {
		ds := &doc.Datasheets[i]
		if ds.ID == "" {
			ds.ID = uuid.NewString()
		}
		ds.DocumentID = doc.ID

		pages, err := json.Marshal(ds.Pages)
		if err != nil {
			return Document{}, eris.Wrap(err, "docstore: encode pages")
		}
		tables, err := json.Marshal(ds.Tables)
		if err != nil {
			return Document{}, eris.Wrap(err, "docstore: encode tables")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO datasheets (id, document_id, idx, equipment_name, pages, full_text, tables)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ds.ID, doc.ID, ds.Index, ds.EquipmentName, string(pages), ds.FullText, string(tables),
		); err != nil {
			return Document{}, eris.Wrap(err, "docstore: insert datasheet")
		}
	}

	for name, value := range doc.ExtractedData {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fields (document_id, name, value) VALUES (?, ?, ?)`,
			doc.ID, name, value,
		); err != nil {
			return Document{}, eris.Wrapf(err, "docstore: seed field %s", name)
		}
	}

	if err := tx.Commit(); err != nil {
		return Document{}, eris.Wrap(err, "docstore: commit create")
	}
	return doc, nil
}

// SetStatus updates a document's lifecycle status
func (s *Store) SetStatus(ctx context.Context, documentID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ? WHERE id = ?`, status, documentID)
	if err != nil {
		return eris.Wrap(err, "docstore: set status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// Get loads a document with its fields, datasheets, chat history, and tag
// extraction result
func (s *Store) Get(ctx context.Context, documentID string) (*Document, error) {
	doc := Document{ID: documentID}

	err := s.db.QueryRowContext(ctx,
		`SELECT filename, size_bytes, status, uploaded_at FROM documents WHERE id = ?`,
		documentID,
	).Scan(&doc.Filename, &doc.SizeBytes, &doc.Status, &doc.UploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "docstore: load document")
	}

	if doc.ExtractedData, err = s.loadFields(ctx, documentID); err != nil {
		return nil, err
	}
	if doc.Datasheets, err = s.loadDatasheets(ctx, documentID); err != nil {
		return nil, err
	}
	if doc.ChatHistory, err = s.loadChatHistory(ctx, documentID); err != nil {
		return nil, err
	}
	if doc.TagResult, err = s.GetTagResult(ctx, documentID); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments returns document metadata ordered newest first. Field sets
// are included; chat history and datasheet content are not.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, filename, size_bytes, status, uploaded_at
		 FROM documents ORDER BY uploaded_at DESC, id`)
	if err != nil {
		return nil, eris.Wrap(err, "docstore: list documents")
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Filename, &doc.SizeBytes, &doc.Status, &doc.UploadedAt); err != nil {
			return nil, eris.Wrap(err, "docstore: scan document")
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "docstore: list documents")
	}

	for i := range docs {
		if docs[i].ExtractedData, err = s.loadFields(ctx, docs[i].ID); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// DeleteDocument removes a document and everything it owns
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID)
	if err != nil {
		return eris.Wrap(err, "docstore: delete document")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// SetFields replaces the document's entire field set in one transaction.
// Backs the manual "save changes" editing flow.
func (s *Store) SetFields(ctx context.Context, documentID string, fields map[string]string) error {
	if err := s.ensureExists(ctx, documentID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "docstore: begin set fields")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM fields WHERE document_id = ?`, documentID); err != nil {
		return eris.Wrap(err, "docstore: clear fields")
	}
	for name, value := range fields {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO fields (document_id, name, value) VALUES (?, ?, ?)`,
			documentID, name, value,
		); err != nil {
			return eris.Wrapf(err, "docstore: set field %s", name)
		}
	}
	return eris.Wrap(tx.Commit(), "docstore: commit set fields")
}

// DeleteField removes a single field. Returns ErrFieldNotFound, with no
// state change, when the document does not have it.
func (s *Store) DeleteField(ctx context.Context, documentID, name string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM fields WHERE document_id = ? AND name = ?`, documentID, name)
	if err != nil {
		return eris.Wrapf(err, "docstore: delete field %s", name)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrFieldNotFound
	}
	return nil
}

// AppendChatTurn records a completed exchange without touching the field set
func (s *Store) AppendChatTurn(ctx context.Context, documentID string, turn ChatTurn) (ChatTurn, error) {
	return s.mergeTurn(ctx, documentID, turn, false)
}

// MergeChatTurn applies the turn's extracted field (at most one) to the
// document's field set and appends the turn, as one transaction. A reader
// never observes the turn without the field merge or vice versa.
func (s *Store) MergeChatTurn(ctx context.Context, documentID string, turn ChatTurn) (ChatTurn, error) {
	return s.mergeTurn(ctx, documentID, turn, true)
}

func (s *Store) mergeTurn(ctx context.Context, documentID string, turn ChatTurn, mergeFields bool) (ChatTurn, error) {
	if err := s.ensureExists(ctx, documentID); err != nil {
		return ChatTurn{}, err
	}
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ChatTurn{}, eris.Wrap(err, "docstore: begin turn")
	}
	defer tx.Rollback()

	var fieldName, fieldValue sql.NullString
	for name, value := range turn.ExtractedFields {
		fieldName = sql.NullString{String: name, Valid: true}
		fieldValue = sql.NullString{String: value, Valid: true}
		if mergeFields {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO fields (document_id, name, value) VALUES (?, ?, ?)
				 ON CONFLICT(document_id, name) DO UPDATE SET value = excluded.value`,
				documentID, name, value,
			); err != nil {
				return ChatTurn{}, eris.Wrapf(err, "docstore: merge field %s", name)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_turns (id, document_id, message, response, field_name, field_value, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, documentID, turn.Message, turn.Response, fieldName, fieldValue, turn.CreatedAt,
	); err != nil {
		return ChatTurn{}, eris.Wrap(err, "docstore: append turn")
	}

	if err := tx.Commit(); err != nil {
		return ChatTurn{}, eris.Wrap(err, "docstore: commit turn")
	}
	return turn, nil
}

// SaveTagResult stores the result of a recognition run, superseding any
// prior result for the document
func (s *Store) SaveTagResult(ctx context.Context, documentID string, result *tags.Result) error {
	if err := s.ensureExists(ctx, documentID); err != nil {
		return err
	}

	tagList, err := json.Marshal(result.Tags)
	if err != nil {
		return eris.Wrap(err, "docstore: encode tags")
	}
	acronyms, err := json.Marshal(result.NewAcronyms)
	if err != nil {
		return eris.Wrap(err, "docstore: encode acronyms")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tag_results (document_id, status, message, tags, new_acronyms, file_key, words_analyzed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(document_id) DO UPDATE SET
			status = excluded.status,
			message = excluded.message,
			tags = excluded.tags,
			new_acronyms = excluded.new_acronyms,
			file_key = excluded.file_key,
			words_analyzed = excluded.words_analyzed,
			created_at = datetime('now')`,
		documentID, result.Status, result.Message,
		string(tagList), string(acronyms), result.FileKey, result.TotalWordsAnalyzed,
	)
	return eris.Wrap(err, "docstore: save tag result")
}

// GetTagResult returns the stored recognition result, or nil when the
// document has never been through a run
func (s *Store) GetTagResult(ctx context.Context, documentID string) (*tags.Result, error) {
	var (
		result   tags.Result
		tagList  string
		acronyms string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT status, message, tags, new_acronyms, file_key, words_analyzed
		 FROM tag_results WHERE document_id = ?`,
		documentID,
	).Scan(&result.Status, &result.Message, &tagList, &acronyms,
		&result.FileKey, &result.TotalWordsAnalyzed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "docstore: load tag result")
	}

	if err := json.Unmarshal([]byte(tagList), &result.Tags); err != nil {
		return nil, eris.Wrap(err, "docstore: decode tags")
	}
	if err := json.Unmarshal([]byte(acronyms), &result.NewAcronyms); err != nil {
		return nil, eris.Wrap(err, "docstore: decode acronyms")
	}
	return &result, nil
}

func (s *Store) ensureExists(ctx context.Context, documentID string) error {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE id = ?`, documentID).Scan(&n)
	if err != nil {
		return eris.Wrap(err, "docstore: check document")
	}
	if n == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *Store) loadFields(ctx context.Context, documentID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM fields WHERE document_id = ? ORDER BY name`, documentID)
	if err != nil {
		return nil, eris.Wrap(err, "docstore: load fields")
	}
	defer rows.Close()

	fields := map[string]string{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, eris.Wrap(err, "docstore: scan field")
		}
		fields[name] = value
	}
	return fields, eris.Wrap(rows.Err(), "docstore: load fields")
}

func (s *Store) loadDatasheets(ctx context.Context, documentID string) ([]Datasheet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, idx, equipment_name, pages, full_text, tables
		 FROM datasheets WHERE document_id = ? ORDER BY idx`, documentID)
	if err != nil {
		return nil, eris.Wrap(err, "docstore: load datasheets")
	}
	defer rows.Close()

	var sheets []Datasheet
	for rows.Next() {
		ds := Datasheet{DocumentID: documentID}
		var pages, tables string
		if err := rows.Scan(&ds.ID, &ds.Index, &ds.EquipmentName, &pages, &ds.FullText, &tables); err != nil {
			return nil, eris.Wrap(err, "docstore: scan datasheet")
		}
		if err := json.Unmarshal([]byte(pages), &ds.Pages); err != nil {
			return nil, eris.Wrap(err, "docstore: decode pages")
		}
		if err := json.Unmarshal([]byte(tables), &ds.Tables); err != nil {
			return nil, eris.Wrap(err, "docstore: decode tables")
		}
		sheets = append(sheets, ds)
	}
	return sheets, eris.Wrap(rows.Err(), "docstore: load datasheets")
}

func (s *Store) loadChatHistory(ctx context.Context, documentID string) ([]ChatTurn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message, response, field_name, field_value, created_at
		 FROM chat_turns WHERE document_id = ? ORDER BY created_at, id`, documentID)
	if err != nil {
		return nil, eris.Wrap(err, "docstore: load chat history")
	}
	defer rows.Close()

	var turns []ChatTurn
	for rows.Next() {
		var (
			turn       ChatTurn
			name, slot sql.NullString
		)
		if err := rows.Scan(&turn.ID, &turn.Message, &turn.Response, &name, &slot, &turn.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "docstore: scan turn")
		}
		turn.ExtractedFields = map[string]string{}
		if name.Valid {
			turn.ExtractedFields[name.String] = slot.String
		}
		turns = append(turns, turn)
	}
	return turns, eris.Wrap(rows.Err(), "docstore: load chat history")
}
