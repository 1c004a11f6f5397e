// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/pdiddy/knowledge-gardener/pkg/types"
)

const dbFile = "reports.db"

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// SQLStore keeps one table per stage, <stage>_reports, with columns
// (id, report_id UNIQUE, report, created_at). Creation order is the serial id.
// Update runs in a transaction that re-reads the row under a write lock:
// BEGIN IMMEDIATE on SQLite, SELECT ... FOR UPDATE on Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// OpenSQLite opens or creates <dir>/reports.db.
func OpenSQLite(dir string) (*SQLStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating report directory: %w", err)
	}
	dbPath := filepath.Join(dir, dbFile)
	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_journal_mode=WAL&_txlock=immediate&_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return newSQLStore(db, dialectSQLite)
}

// OpenPostgres connects to dsn with lib/pq.
func OpenPostgres(dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("opening database: postgres backend needs store.dsn")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return newSQLStore(db, dialectPostgres)
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: d, now: time.Now}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func table(stage types.Stage) string {
	return string(stage) + "_reports"
}

func (s *SQLStore) createSchema() error {
	var statements []string
	for _, stage := range types.Stages {
		switch s.dialect {
		case dialectPostgres:
			statements = append(statements, `CREATE TABLE IF NOT EXISTS `+table(stage)+` (
				id SERIAL PRIMARY KEY,
				report_id TEXT NOT NULL UNIQUE,
				report JSONB NOT NULL,
				created_at TEXT NOT NULL
			)`)
		default:
			statements = append(statements, `CREATE TABLE IF NOT EXISTS `+table(stage)+` (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				report_id TEXT NOT NULL UNIQUE,
				report TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`)
		}
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// q rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) q(query string) string {
	if s.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

// Create inserts record as a new row.
func (s *SQLStore) Create(ctx context.Context, stage types.Stage, record any) (string, error) {
	id, body, created, err := prepare(stage, record, s.now())
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		s.q(`INSERT INTO `+table(stage)+` (report_id, report, created_at) VALUES (?, ?, ?)`),
		id, string(body), created.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return "", fmt.Errorf("creating %s report %s: %w", stage, id, ErrDuplicate)
		}
		return "", fmt.Errorf("creating %s report %s: %w", stage, id, err)
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		d       Document
		body    []byte
		created string
	)
	if err := row.Scan(&d.Seq, &d.ReportID, &body, &created); err != nil {
		return nil, err
	}
	c, err := compact(body)
	if err != nil {
		return nil, fmt.Errorf("parsing report %s: %w", d.ReportID, err)
	}
	d.Body = c
	if t, err := time.Parse(time.RFC3339, created); err == nil {
		d.CreatedAt = t
	}
	return &d, nil
}

func (s *SQLStore) queryOne(ctx context.Context, query string, args ...any) (*Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx, s.q(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

// Get returns the report with the given id.
func (s *SQLStore) Get(ctx context.Context, stage types.Stage, id string) (*Document, error) {
	d, err := s.queryOne(ctx,
		`SELECT id, report_id, report, created_at FROM `+table(stage)+` WHERE report_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("%s report %s: %w", stage, id, err)
	}
	return d, nil
}

// Latest returns the row with the highest serial id.
func (s *SQLStore) Latest(ctx context.Context, stage types.Stage) (*Document, error) {
	d, err := s.queryOne(ctx,
		`SELECT id, report_id, report, created_at FROM `+table(stage)+` ORDER BY id DESC LIMIT 1`)
	if err != nil {
		return nil, fmt.Errorf("latest %s report: %w", stage, err)
	}
	return d, nil
}

// List returns every row in id order.
func (s *SQLStore) List(ctx context.Context, stage types.Stage) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, report_id, report, created_at FROM `+table(stage)+` ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing %s reports: %w", stage, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("listing %s reports: %w", stage, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing %s reports: %w", stage, err)
	}
	return docs, nil
}

// Update re-reads the row inside a write transaction, applies patches, and
// writes the row back.
func (s *SQLStore) Update(ctx context.Context, stage types.Stage, id string, patches ...Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	sel := `SELECT report FROM ` + table(stage) + ` WHERE report_id = ?`
	if s.dialect == dialectPostgres {
		sel += ` FOR UPDATE`
	}
	var body []byte
	if err := tx.QueryRowContext(ctx, s.q(sel), id).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("updating %s report %s: %w", stage, id, ErrNotFound)
		}
		return fmt.Errorf("updating %s report %s: %w", stage, id, err)
	}
	body, err = compact(body)
	if err != nil {
		return fmt.Errorf("updating %s report %s: %w", stage, id, err)
	}
	body, err = apply(body, patches)
	if err != nil {
		return fmt.Errorf("updating %s report %s: %w", stage, id, err)
	}

	if _, err := tx.ExecContext(ctx,
		s.q(`UPDATE `+table(stage)+` SET report = ? WHERE report_id = ?`), string(body), id); err != nil {
		return fmt.Errorf("updating %s report %s: %w", stage, id, err)
	}
	return tx.Commit()
}
