// Package knowledge maintains the process-wide dictionary of instrument
// acronyms: tokens confirmed as real instrument prefixes, tokens flagged as
// false positives, and cumulative recognition statistics. The dictionary is
// durable and shared by every in-flight processing job.
package knowledge

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

// Stats is a snapshot of the cumulative recognition counters
type Stats struct {
	TotalFilesProcessed   int `json:"total_files_processed"`
	TotalInstrumentsFound int `json:"total_instruments_found"`
	TotalKnownAcronyms    int `json:"total_known_acronyms"`
	TotalFalsePositives   int `json:"total_false_positives"`
}

// Store is the SQLite-backed acronym dictionary. Mutations are applied as
// single transactions with set-union semantics so that concurrent jobs never
// lose each other's learned acronyms.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore wraps an open database handle
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const migration = `
CREATE TABLE IF NOT EXISTS acronyms (
	token          TEXT PRIMARY KEY,
	false_positive INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS recognition_stats (
	id                INTEGER PRIMARY KEY CHECK (id = 1),
	files_processed   INTEGER NOT NULL DEFAULT 0,
	instruments_found INTEGER NOT NULL DEFAULT 0
);

INSERT OR IGNORE INTO recognition_stats (id) VALUES (1);
`

// Standard ISA-5.1 instrument acronyms used to seed a fresh dictionary
var seedAcronyms = []string{
	"PT", "TT", "FT", "LT", "AT", "PDT",
	"PI", "TI", "FI", "LI", "AI", "PDI",
	"PIC", "TIC", "FIC", "LIC", "AIC",
	"PCV", "TCV", "FCV", "LCV", "PSV", "PRV",
	"PSH", "PSL", "TSH", "TSL", "LSH", "LSL", "FSH", "FSL",
	"PE", "TE", "FE", "LE", "PG", "TG",
	"HS", "HV", "XV", "SDV", "BDV", "ESD",
}

// Migrate creates the schema and seeds the standard acronym set. Seeding is
// idempotent: existing rows, including ones later flagged false positive,
// are left untouched.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migration); err != nil {
		return eris.Wrap(err, "knowledge: migrate")
	}
	for _, token := range seedAcronyms {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO acronyms (token) VALUES (?)`, token,
		); err != nil {
			return eris.Wrapf(err, "knowledge: seed %s", token)
		}
	}
	return nil
}

// IsKnown reports whether the token is a confirmed instrument acronym.
// Tokens flagged as false positives are not known.
func (s *Store) IsKnown(ctx context.Context, token string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM acronyms WHERE token = ? AND false_positive = 0`,
		normalize(token),
	).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "knowledge: is known")
	}
	return n > 0, nil
}

// IsFalsePositive reports whether the token has been flagged incorrect
func (s *Store) IsFalsePositive(ctx context.Context, token string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM acronyms WHERE token = ? AND false_positive = 1`,
		normalize(token),
	).Scan(&n)
	if err != nil {
		return false, eris.Wrap(err, "knowledge: is false positive")
	}
	return n > 0, nil
}

// Learn adds a token to the known set. Idempotent: learning an
// already-known token is a no-op, and never resurrects a false positive.
func (s *Store) Learn(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO acronyms (token) VALUES (?)`, normalize(token),
	)
	return eris.Wrapf(err, "knowledge: learn %s", token)
}

// MarkFalsePositive removes the token from the known set and permanently
// suppresses future recognition of it
func (s *Store) MarkFalsePositive(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO acronyms (token, false_positive) VALUES (?, 1)
		 ON CONFLICT(token) DO UPDATE SET false_positive = 1`,
		normalize(token),
	)
	return eris.Wrapf(err, "knowledge: mark false positive %s", token)
}

// RecordRun commits the outcome of one recognition run as a single
// transaction: every newly discovered acronym is unioned into the known set
// and the cumulative counters are incremented in place.
func (s *Store) RecordRun(ctx context.Context, learned []string, instrumentsFound int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "knowledge: begin run")
	}
	defer tx.Rollback()

	for _, token := range learned {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO acronyms (token) VALUES (?)`, normalize(token),
		); err != nil {
			return eris.Wrapf(err, "knowledge: learn %s", token)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE recognition_stats
		 SET files_processed = files_processed + 1,
		     instruments_found = instruments_found + ?
		 WHERE id = 1`,
		instrumentsFound,
	); err != nil {
		return eris.Wrap(err, "knowledge: update counters")
	}

	return eris.Wrap(tx.Commit(), "knowledge: commit run")
}

// Stats returns a snapshot of the cumulative counters
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats

	err := s.db.QueryRowContext(ctx,
		`SELECT files_processed, instruments_found FROM recognition_stats WHERE id = 1`,
	).Scan(&stats.TotalFilesProcessed, &stats.TotalInstrumentsFound)
	if err != nil {
		return Stats{}, eris.Wrap(err, "knowledge: read counters")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(CASE WHEN false_positive = 0 THEN 1 END),
			COUNT(CASE WHEN false_positive = 1 THEN 1 END)
		 FROM acronyms`,
	).Scan(&stats.TotalKnownAcronyms, &stats.TotalFalsePositives)
	if err != nil {
		return Stats{}, eris.Wrap(err, "knowledge: count acronyms")
	}

	return stats, nil
}

func normalize(token string) string {
	return strings.ToUpper(strings.TrimSpace(token))
}
