package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding draft history, reference documents and jobs.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "sqldraft.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// DB exposes the underlying handle for maintenance and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Drafts ---

// SaveDraft records a drafting call. An empty status is stored as completed.
func (s *Store) SaveDraft(d Draft) error {
	status := d.Status
	if status == "" {
		status = DraftCompleted
	}
	_, err := s.db.Exec(`
		INSERT INTO drafts (id, created_at, prompt, loaded_years, attached_years, query, explanation, model, status, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.CreatedAt.UTC().Format(time.RFC3339), d.Prompt, d.LoadedYears, d.AttachedYears,
		d.Query, d.Explanation, d.Model, status, d.Error, d.DurationMs,
	)
	return err
}

const draftColumns = `id, created_at, prompt, loaded_years, attached_years, query, explanation, model, status, error, duration_ms`

type scanner interface {
	Scan(dest ...any) error
}

func scanDraft(row scanner) (Draft, error) {
	var d Draft
	var createdAt string
	if err := row.Scan(&d.ID, &createdAt, &d.Prompt, &d.LoadedYears, &d.AttachedYears,
		&d.Query, &d.Explanation, &d.Model, &d.Status, &d.Error, &d.DurationMs); err != nil {
		return Draft{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Draft{}, fmt.Errorf("parsing created_at: %w", err)
	}
	d.CreatedAt = t
	return d, nil
}

func (s *Store) GetDraft(id string) (Draft, error) {
	d, err := scanDraft(s.db.QueryRow(`SELECT `+draftColumns+` FROM drafts WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Draft{}, ErrNotFound
	}
	return d, err
}

// ListDrafts returns drafts newest first.
func (s *Store) ListDrafts(limit, offset int) ([]Draft, error) {
	rows, err := s.db.Query(`SELECT `+draftColumns+` FROM drafts
		ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

func (s *Store) DeleteDraft(id string) error {
	res, err := s.db.Exec(`DELETE FROM drafts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

// --- Info docs ---

// SaveInfoDoc stores doc as the reference document for its year, replacing
// any previous record for that year. The publication state is reset to
// pending unless doc carries a status.
func (s *Store) SaveInfoDoc(doc InfoDoc) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	status := doc.Status
	if status == "" {
		status = InfoPending
	}
	if doc.Content == nil {
		doc.Content = []byte{}
	}
	_, err := s.db.Exec(`
		INSERT INTO info_docs (id, year, filename, mime_type, content, preview, pages, source_url, remote_name, remote_uri, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(year) DO UPDATE SET
			id = excluded.id, filename = excluded.filename, mime_type = excluded.mime_type,
			content = excluded.content, preview = excluded.preview, pages = excluded.pages,
			source_url = excluded.source_url, remote_name = excluded.remote_name,
			remote_uri = excluded.remote_uri, status = excluded.status, error = excluded.error,
			created_at = excluded.created_at, updated_at = excluded.updated_at`,
		doc.ID, doc.Year, doc.Filename, doc.MIMEType, doc.Content, doc.Preview, doc.Pages, doc.SourceURL,
		doc.RemoteName, doc.RemoteURI, status, doc.Error,
		doc.CreatedAt.UTC().Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

const infoDocColumns = `id, year, filename, mime_type, content, preview, pages, source_url, remote_name, remote_uri, status, error, created_at, updated_at`

func scanInfoDoc(row scanner) (InfoDoc, error) {
	var d InfoDoc
	var createdAt, updatedAt string
	if err := row.Scan(&d.ID, &d.Year, &d.Filename, &d.MIMEType, &d.Content, &d.Preview, &d.Pages,
		&d.SourceURL, &d.RemoteName, &d.RemoteURI, &d.Status, &d.Error, &createdAt, &updatedAt); err != nil {
		return InfoDoc{}, err
	}
	var err error
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return InfoDoc{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return InfoDoc{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return d, nil
}

func (s *Store) GetInfoDoc(id string) (InfoDoc, error) {
	d, err := scanInfoDoc(s.db.QueryRow(`SELECT `+infoDocColumns+` FROM info_docs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return InfoDoc{}, ErrNotFound
	}
	return d, err
}

func (s *Store) GetInfoDocByYear(year int) (InfoDoc, error) {
	d, err := scanInfoDoc(s.db.QueryRow(`SELECT `+infoDocColumns+` FROM info_docs WHERE year = ?`, year))
	if err == sql.ErrNoRows {
		return InfoDoc{}, ErrNotFound
	}
	return d, err
}

// ListInfoDocs returns all reference documents ordered by year.
func (s *Store) ListInfoDocs() ([]InfoDoc, error) {
	rows, err := s.db.Query(`SELECT ` + infoDocColumns + ` FROM info_docs ORDER BY year ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []InfoDoc
	for rows.Next() {
		d, err := scanInfoDoc(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// MarkInfoDocPublished records the remote identity of an uploaded document.
func (s *Store) MarkInfoDocPublished(id, remoteName, remoteURI string) error {
	res, err := s.db.Exec(`UPDATE info_docs SET status = ?, remote_name = ?, remote_uri = ?, error = '', updated_at = ? WHERE id = ?`,
		InfoPublished, remoteName, remoteURI, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

// MarkInfoDocFailed records a publication failure.
func (s *Store) MarkInfoDocFailed(id, errMsg string) error {
	res, err := s.db.Exec(`UPDATE info_docs SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		InfoFailed, errMsg, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (s *Store) DeleteInfoDoc(year int) error {
	res, err := s.db.Exec(`DELETE FROM info_docs WHERE year = ?`, year)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func requireOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	return requireOneRow(res)
}

func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}

	if err != nil {
		return err
	}

	return tx.Commit()
}
