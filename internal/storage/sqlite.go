// Package storage opens the shared SQLite database used by the
// document and acronym stores.
package storage

import (
	"database/sql"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// Open opens a SQLite database at the given DSN and configures WAL mode.
// Callers own the returned handle and are responsible for closing it.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// Pragmas are per-connection; a single connection keeps foreign_keys in
	// force everywhere and serializes writes
	db.SetMaxOpenConns(1)
	return db, nil
}
