// Package localdb provides on-device SQLite storage for synchronised records and the session user.
package localdb

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/and161185/clinic-sync/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// FileName is the database file created inside the data directory.
const FileName = "clinic.db"

// DB wraps the sql.DB with device storage configuration.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the SQLite database in dataDir and applies migrations.
func Open(ctx context.Context, dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, FileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, sub)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	if _, err := p.Up(ctx); err != nil {
		return fmt.Errorf("migrations up: %w", err)
	}
	return nil
}

// ClearPatientData deletes every patient-domain record. Facilities and the user are kept.
func (db *DB) ClearPatientData(ctx context.Context) error {
	return db.deleteTables(ctx, patientTables())
}

// ClearAllTables deletes every row from every table, including the user and facilities.
func (db *DB) ClearAllTables(ctx context.Context) error {
	tables := make([]string, 0, 9)
	for _, r := range model.Resources() {
		tables = append(tables, string(r))
	}
	tables = append(tables, "user_facilities", "users")
	return db.deleteTables(ctx, tables)
}

func patientTables() []string {
	out := make([]string, 0, 6)
	for _, r := range model.PatientDataResources() {
		out = append(out, string(r))
	}
	return out
}

func (db *DB) deleteTables(ctx context.Context, tables []string) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = e
		}
	}()

	for _, t := range tables {
		// table names come from model.Resource constants, never from input
		if _, err = tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("clear %s: %w", t, err)
		}
	}
	return nil
}
